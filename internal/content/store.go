// Package content places physical file bytes into a bucketed directory tree
// keyed by generated identifiers.
package content

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mediatree/mediatree/internal/logging"
)

const (
	// bucketLevels nested directories of bucketChars characters each are
	// peeled off the front of the identifier to bound directory fan-out.
	bucketLevels = 2
	bucketChars  = 2
)

// Ref points at a physical file on disk.
type Ref struct {
	Path string
	Size int64
}

// RefFor stats a file and returns a Ref for it.
func RefFor(path string) (Ref, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Ref{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Ref{Path: path, Size: info.Size()}, nil
}

// Store is a content-addressed file store rooted at a single directory.
type Store struct {
	root string
}

// NewStore creates the root directory if needed and returns a Store.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("content store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// BucketPath derives the nested storage path for an identifier. The same
// identifier always yields the same path: two 2-character levels peeled off
// the front, then the full identifier, re-appending ext when non-empty.
func (s *Store) BucketPath(id, ext string) string {
	rest := id
	parts := make([]string, 0, bucketLevels+1)
	for i := 0; i < bucketLevels && len(rest) > bucketChars; i++ {
		parts = append(parts, rest[:bucketChars])
		rest = rest[bucketChars:]
	}
	name := id
	if ext != "" {
		name += ext
	}
	parts = append(parts, name)
	return filepath.Join(append([]string{s.root}, parts...)...)
}

// Place moves the referenced file to dst, creating parent directories as
// needed. The rename is atomic: on failure the source is left in place.
func (s *Store) Place(ref Ref, dst string) (Ref, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Ref{}, fmt.Errorf("create bucket dirs for %s: %w", dst, err)
	}
	if err := os.Rename(ref.Path, dst); err != nil {
		return Ref{}, fmt.Errorf("place %s: %w", ref.Path, err)
	}
	logging.Debug("placed file",
		zap.String("src", ref.Path),
		zap.String("dst", dst),
		zap.Int64("size", ref.Size))
	return Ref{Path: dst, Size: ref.Size}, nil
}

// Delete removes the referenced physical file.
func (s *Store) Delete(ref Ref) error {
	if err := os.Remove(ref.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", ref.Path, err)
	}
	return nil
}
