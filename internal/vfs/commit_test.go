package vfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mediatree/mediatree/internal/content"
	"github.com/mediatree/mediatree/internal/media"
)

func stageFile(t *testing.T, name, payload string) content.Ref {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("stage %s: %v", name, err)
	}
	ref, err := content.RefFor(path)
	if err != nil {
		t.Fatalf("ref: %v", err)
	}
	return ref
}

func videoClassified() media.Classified {
	return media.Classified{
		Kind: media.KindMultimedia,
		Probe: &media.ProbeOutput{
			Streams: []media.Stream{
				{
					Index:        0,
					CodecName:    "h264",
					CodecType:    media.CodecVideo,
					Width:        1280,
					Height:       720,
					RFrameRate:   "30/1",
					AvgFrameRate: "30/1",
				},
				{
					Index:      1,
					CodecName:  "aac",
					CodecType:  media.CodecAudio,
					SampleFmt:  "fltp",
					SampleRate: "44100",
					Channels:   2,
				},
			},
			Format: media.Format{Duration: "42.5", BitRate: "128000"},
		},
	}
}

func TestCommitVideo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	staged := stageFile(t, "clip.mp4", "fake video bytes")
	fileID, nodeID, err := s.Commit(ctx, FileData{
		Name: "Holiday Clip",
		Ref:  staged,
		Type: videoClassified(),
	}, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	// The staged file moved into its bucketed location.
	if _, err := os.Stat(staged.Path); !os.IsNotExist(err) {
		t.Error("staged file still present after commit")
	}
	placed := s.content.BucketPath(fileID.String(), ".mp4")
	if _, err := os.Stat(placed); err != nil {
		t.Errorf("placed file missing: %v", err)
	}

	var storedPath, fileType string
	var size int64
	if err := s.db.QueryRow(
		`SELECT file_path, file_size, file_type FROM vfs_files WHERE id = $1`,
		fileID).Scan(&storedPath, &size, &fileType); err != nil {
		t.Fatalf("file row: %v", err)
	}
	if fileType != "video" {
		t.Errorf("file type %q, want video", fileType)
	}
	if size != staged.Size {
		t.Errorf("size %d, want %d", size, staged.Size)
	}
	if !strings.HasPrefix(storedPath, "/") || !strings.HasSuffix(storedPath, fileID.String()+".mp4") {
		t.Errorf("unexpected stored path %q", storedPath)
	}

	var duration float64
	var width, height int
	var videoCodec, audioCodec string
	if err := s.db.QueryRow(
		`SELECT duration, width, height, video_codec, audio_codec FROM video_files WHERE id = $1`,
		fileID).Scan(&duration, &width, &height, &videoCodec, &audioCodec); err != nil {
		t.Fatalf("video row: %v", err)
	}
	if duration != 42.5 || width != 1280 || height != 720 {
		t.Errorf("unexpected video metadata: %f %dx%d", duration, width, height)
	}
	if videoCodec != "h264" || audioCodec != "aac" {
		t.Errorf("codecs %q/%q", videoCodec, audioCodec)
	}

	// The node links to the file and lives under the root.
	linkedFile, _, linkedType, err := s.FileOfNode(ctx, nodeID)
	if err != nil {
		t.Fatalf("file of node: %v", err)
	}
	if linkedFile != fileID || linkedType != "video" {
		t.Errorf("node links %s/%s, want %s/video", linkedFile, linkedType, fileID)
	}
	path, err := s.PathOf(ctx, nodeID)
	if err != nil {
		t.Fatalf("path of node: %v", err)
	}
	if path != "Holiday Clip" {
		t.Errorf("node path %q", path)
	}
}

func TestCommitIntoTarget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	staged := stageFile(t, "clip.mp4", "bytes")
	target := PathTarget("library/videos")
	_, nodeID, err := s.Commit(ctx, FileData{
		Name: "Clip",
		Ref:  staged,
		Type: videoClassified(),
	}, &target)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	path, err := s.PathOf(ctx, nodeID)
	if err != nil {
		t.Fatalf("path of: %v", err)
	}
	if path != "library/videos/Clip" {
		t.Errorf("path %q, want library/videos/Clip", path)
	}
}

func TestCommitStreamlessFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	staged := stageFile(t, "broken.mp4", "bytes")
	_, _, err := s.Commit(ctx, FileData{
		Name: "Broken",
		Ref:  staged,
		Type: media.Classified{Kind: media.KindMultimedia, Probe: &media.ProbeOutput{}},
	}, nil)
	if !errors.Is(err, media.ErrStreamMissing) {
		t.Fatalf("got %v, want ErrStreamMissing", err)
	}

	// Classification fails before placement; the staged file stays put and
	// no rows are written.
	if _, err := os.Stat(staged.Path); err != nil {
		t.Errorf("staged file should remain: %v", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vfs_files`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no file rows, got %d", count)
	}
}

func TestCommitText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	staged := stageFile(t, "notes.txt", "hello")
	fileID, _, err := s.Commit(ctx, FileData{
		Name: "Notes",
		Ref:  staged,
		Type: media.Classified{Kind: media.KindText},
	}, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	var fileType string
	if err := s.db.QueryRow(
		`SELECT file_type FROM vfs_files WHERE id = $1`, fileID).Scan(&fileType); err != nil {
		t.Fatalf("file row: %v", err)
	}
	if fileType != "text" {
		t.Errorf("file type %q, want text", fileType)
	}

	for _, table := range []string{"video_files", "audio_files", "image_files"} {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("unexpected %s rows: %d", table, count)
		}
	}
}

func TestCommitAudio(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	staged := stageFile(t, "song.mp3", "audio bytes")
	fileID, _, err := s.Commit(ctx, FileData{
		Name: "Song",
		Ref:  staged,
		Type: media.Classified{
			Kind: media.KindMultimedia,
			Probe: &media.ProbeOutput{
				Streams: []media.Stream{
					{
						CodecName:  "mp3",
						CodecType:  media.CodecAudio,
						SampleFmt:  "fltp",
						SampleRate: "48000",
						Channels:   2,
					},
				},
				Format: media.Format{Duration: "180.25", BitRate: "192000"},
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	var duration float64
	var bitrate, sampleRate, channels int
	var codec string
	if err := s.db.QueryRow(
		`SELECT duration, codec_name, bitrate, sample_rate, channels
		 FROM audio_files WHERE id = $1`,
		fileID).Scan(&duration, &codec, &bitrate, &sampleRate, &channels); err != nil {
		t.Fatalf("audio row: %v", err)
	}
	if duration != 180.25 || codec != "mp3" || bitrate != 192000 || sampleRate != 48000 || channels != 2 {
		t.Errorf("unexpected audio metadata: %f %s %d %d %d",
			duration, codec, bitrate, sampleRate, channels)
	}
}

func TestSetAndGetThumbnail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mediaRef := stageFile(t, "clip.mp4", "video")
	mediaFileID, nodeID, err := s.Commit(ctx, FileData{
		Name: "Clip",
		Ref:  mediaRef,
		Type: videoClassified(),
	}, nil)
	if err != nil {
		t.Fatalf("commit media: %v", err)
	}

	thumbRef := stageFile(t, "thumb.jpg", "jpeg")
	thumbFileID, _, err := s.Commit(ctx, FileData{
		Name: "Clip Thumbnail",
		Ref:  thumbRef,
		Type: media.Classified{Kind: media.KindImage},
		Hide: true,
	}, nil)
	if err != nil {
		t.Fatalf("commit thumb: %v", err)
	}

	if err := s.SetThumbnail(ctx, mediaFileID, thumbFileID); err != nil {
		t.Fatalf("set thumbnail: %v", err)
	}

	path, ok, err := s.GetThumbnail(ctx, nodeID)
	if err != nil {
		t.Fatalf("get thumbnail: %v", err)
	}
	if !ok {
		t.Fatal("expected a thumbnail")
	}
	if !strings.HasSuffix(path, thumbFileID.String()+".jpg") {
		t.Errorf("unexpected thumbnail path %q", path)
	}

	// Replacing the association is allowed.
	if err := s.SetThumbnail(ctx, mediaFileID, thumbFileID); err != nil {
		t.Fatalf("re-set thumbnail: %v", err)
	}

	// A node without a file has no thumbnail.
	folder, err := s.CreateNode(ctx, PathTarget(""), "folder")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if _, ok, err := s.GetThumbnail(ctx, folder.ID); err != nil || ok {
		t.Errorf("folder thumbnail ok=%v err=%v", ok, err)
	}
}

func TestCommitHiddenNodeFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	staged := stageFile(t, "thumb.jpg", "jpeg")
	if _, _, err := s.Commit(ctx, FileData{
		Name: "Hidden Thumbnail",
		Ref:  staged,
		Type: media.Classified{Kind: media.KindImage},
		Hide: true,
	}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	children, err := s.ListChildren(ctx, PathTarget(""), false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("hidden node listed: %+v", children)
	}

	all, err := s.ListChildren(ctx, PathTarget(""), true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].Type != "image" {
		t.Errorf("unexpected listing: %+v", all)
	}
}

func TestOpenFileStaysUnderRoot(t *testing.T) {
	s := newTestStore(t)

	abs, err := s.OpenFile("/../../etc/passwd")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !strings.HasPrefix(abs, s.content.Root()) {
		t.Errorf("escaped root: %s", abs)
	}
	if strings.Contains(abs, "..") {
		t.Errorf("traversal left in path: %s", abs)
	}
}

func TestFileOfNodeMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	folder, err := s.CreateNode(ctx, PathTarget(""), "folder")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, _, err := s.FileOfNode(ctx, folder.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if _, _, _, err := s.FileOfNode(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown node: got %v, want ErrNotFound", err)
	}
}
