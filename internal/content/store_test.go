package content

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBucketPathDeterministic(t *testing.T) {
	s := &Store{root: "/data"}

	got := s.BucketPath("a1b2c3d4", ".mp4")
	want := filepath.Join("/data", "a1", "b2", "a1b2c3d4.mp4")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	if again := s.BucketPath("a1b2c3d4", ".mp4"); again != got {
		t.Errorf("not deterministic: %s vs %s", again, got)
	}
}

func TestBucketPathNoExtension(t *testing.T) {
	s := &Store{root: "/data"}
	got := s.BucketPath("a1b2c3d4", "")
	want := filepath.Join("/data", "a1", "b2", "a1b2c3d4")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestBucketPathShortID(t *testing.T) {
	s := &Store{root: "/data"}
	// Too short to peel both levels; peeling stops rather than producing
	// empty segments.
	got := s.BucketPath("abc", ".txt")
	want := filepath.Join("/data", "ab", "abc.txt")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestPlaceMovesFile(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	src := filepath.Join(t.TempDir(), "staged.mp4")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	ref, err := RefFor(src)
	if err != nil {
		t.Fatalf("ref: %v", err)
	}
	if ref.Size != int64(len("payload")) {
		t.Errorf("size %d, want %d", ref.Size, len("payload"))
	}

	dst := s.BucketPath("deadbeef", ".mp4")
	placed, err := s.Place(ref, dst)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if placed.Path != dst {
		t.Errorf("placed at %s, want %s", placed.Path, dst)
	}
	if !strings.HasPrefix(placed.Path, root) {
		t.Errorf("placed outside root: %s", placed.Path)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still exists after place")
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read placed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("placed content %q", data)
	}
}

func TestDeleteTolerant(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	path := filepath.Join(root, "gone.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ref := Ref{Path: path, Size: 1}

	if err := s.Delete(ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ref); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestNewStoreRequiresRoot(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}
