// Package ingest downloads remote media with yt-dlp and commits the results
// into the VFS through a single-worker pipeline.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediatree/mediatree/internal/content"
	"github.com/mediatree/mediatree/internal/logging"
	"github.com/mediatree/mediatree/internal/media"
)

var (
	// ErrYtdlInit is returned when the downloader binary cannot be obtained.
	ErrYtdlInit = errors.New("ingest: cannot initialize downloader binary")

	// ErrNotSingle is returned when a URL resolves to more than one media
	// entry. Playlists must be downloaded one entry at a time.
	ErrNotSingle = errors.New("ingest: url did not resolve to a single entry")

	// ErrNoTempFile is returned when a download produced no usable media file.
	ErrNoTempFile = errors.New("ingest: download produced no media file")
)

const (
	ytdlBinary   = "yt-dlp_linux"
	ytdlBaseURL  = "https://github.com/yt-dlp/yt-dlp/releases/latest/download/"
	tempStem     = "TEMP"
	fetchTimeout = 2 * time.Minute
)

// Metadata is the subset of yt-dlp's JSON dump the pipeline uses.
type Metadata struct {
	Title string `json:"title"`
}

// Outcome is one finished download: the media file, an optional sniffed
// thumbnail, and the entry metadata.
type Outcome struct {
	Title      string
	Media      content.Ref
	MediaClass media.SniffClass
	Thumbnail  *content.Ref
}

// Ytdl wraps the yt-dlp binary kept under a working directory. Every
// download runs in that directory with a fixed output stem, so finished
// files can be found without trusting yt-dlp's naming.
type Ytdl struct {
	dir           string
	socketTimeout time.Duration
}

// NewYtdl creates the working directory if needed.
func NewYtdl(dir string, socketTimeout time.Duration) (*Ytdl, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ytdl dir %s: %w", dir, err)
	}
	return &Ytdl{dir: dir, socketTimeout: socketTimeout}, nil
}

func (y *Ytdl) binPath() string {
	return filepath.Join(y.dir, ytdlBinary)
}

// EnsureBinary fetches the downloader binary if it is not present yet.
func (y *Ytdl) EnsureBinary(ctx context.Context) error {
	if _, err := os.Stat(y.binPath()); err == nil {
		return nil
	}

	logging.Info("fetching downloader binary", zap.String("path", y.binPath()))
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ytdlBaseURL+ytdlBinary, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrYtdlInit, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrYtdlInit, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: fetch returned %s", ErrYtdlInit, resp.Status)
	}

	tmp, err := os.CreateTemp(y.dir, ytdlBinary+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrYtdlInit, err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrYtdlInit, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrYtdlInit, err)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrYtdlInit, err)
	}
	if err := os.Rename(tmp.Name(), y.binPath()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrYtdlInit, err)
	}
	return nil
}

func (y *Ytdl) baseArgs() []string {
	return []string{
		"--socket-timeout", strconv.Itoa(int(y.socketTimeout.Seconds())),
		"--no-playlist",
	}
}

// fetchMetadata dumps the entry's JSON without downloading. A URL that dumps
// more than one JSON document is a playlist and is rejected.
func (y *Ytdl) fetchMetadata(ctx context.Context, url string) (*Metadata, error) {
	args := append(y.baseArgs(), "--dump-json", url)
	cmd := exec.CommandContext(ctx, y.binPath(), args...)
	cmd.Dir = y.dir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("dump metadata for %s: %w", url, err)
	}

	dec := json.NewDecoder(bytes.NewReader(out))
	var meta Metadata
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("parse metadata for %s: %w", url, err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("%w: %s", ErrNotSingle, url)
	}
	return &meta, nil
}

// runDownload invokes yt-dlp with the fixed TEMP output stem.
func (y *Ytdl) runDownload(ctx context.Context, url string, audioOnly bool) error {
	args := append(y.baseArgs(),
		"--write-thumbnail",
		"-o", tempStem+".%(ext)s",
	)
	if audioOnly {
		args = append(args, "-x")
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.binPath(), args...)
	cmd.Dir = y.dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("download %s: %w: %s", url, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Download fetches metadata and media for one URL. Metadata and the download
// run concurrently. Finished files are picked up from the working directory
// by their output stem and bucketed by magic bytes: one media file, an
// optional image used as thumbnail, anything else deleted.
func (y *Ytdl) Download(ctx context.Context, url string, audioOnly bool) (*Outcome, error) {
	type metaResult struct {
		meta *Metadata
		err  error
	}
	metaCh := make(chan metaResult, 1)
	go func() {
		meta, err := y.fetchMetadata(ctx, url)
		metaCh <- metaResult{meta, err}
	}()

	if err := y.runDownload(ctx, url, audioOnly); err != nil {
		<-metaCh
		y.cleanTempFiles()
		return nil, err
	}
	mr := <-metaCh
	if mr.err != nil {
		y.cleanTempFiles()
		return nil, mr.err
	}

	outcome, err := y.collectTempFiles()
	if err != nil {
		return nil, err
	}
	outcome.Title = mr.meta.Title
	return outcome, nil
}

// collectTempFiles sweeps the working directory for output-stem files and
// classifies them by content.
func (y *Ytdl) collectTempFiles() (*Outcome, error) {
	entries, err := os.ReadDir(y.dir)
	if err != nil {
		return nil, fmt.Errorf("scan ytdl dir: %w", err)
	}

	outcome := &Outcome{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tempStem) {
			continue
		}
		path := filepath.Join(y.dir, entry.Name())
		ref, err := content.RefFor(path)
		if err != nil {
			return nil, err
		}

		class, err := media.SniffFile(path)
		if err != nil {
			return nil, err
		}
		switch class {
		case media.SniffMedia:
			if outcome.Media.Path == "" {
				outcome.Media = ref
				outcome.MediaClass = class
				continue
			}
		case media.SniffImage:
			if outcome.Thumbnail == nil {
				// Keep one image aside; it becomes either the thumbnail or,
				// for image-only downloads, the media file itself.
				outcome.Thumbnail = &ref
				continue
			}
		}

		logging.Warn("discarding unusable download artifact", zap.String("path", path))
		os.Remove(path)
	}

	if outcome.Media.Path == "" {
		if outcome.Thumbnail != nil {
			outcome.Media = *outcome.Thumbnail
			outcome.MediaClass = media.SniffImage
			outcome.Thumbnail = nil
			return outcome, nil
		}
		return nil, ErrNoTempFile
	}
	outcome.MediaClass = media.SniffMedia
	return outcome, nil
}

// cleanTempFiles removes leftover output-stem files after a failed download.
func (y *Ytdl) cleanTempFiles() {
	entries, err := os.ReadDir(y.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), tempStem) {
			os.Remove(filepath.Join(y.dir, entry.Name()))
		}
	}
}
