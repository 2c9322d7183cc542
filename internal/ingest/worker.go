package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediatree/mediatree/internal/content"
	"github.com/mediatree/mediatree/internal/events"
	"github.com/mediatree/mediatree/internal/logging"
	"github.com/mediatree/mediatree/internal/media"
	"github.com/mediatree/mediatree/internal/metrics"
	"github.com/mediatree/mediatree/internal/vfs"
)

// Request is one download order. Reply, when non-nil, receives the Result;
// delivery is best-effort and never blocks the worker.
type Request struct {
	URL       string
	AudioOnly bool
	Target    *vfs.Target
	Reply     chan Result
}

// Result reports a finished (or failed) ingest.
type Result struct {
	FileID uuid.UUID
	NodeID uuid.UUID
	Err    error
}

// Worker serializes downloads: requests queue in order and a single
// goroutine drains them, so yt-dlp's fixed output stem never collides.
type Worker struct {
	store       *vfs.Store
	ytdl        *Ytdl
	broadcaster *events.Broadcaster

	in   chan Request
	out  chan Request
	done chan struct{}
}

// NewWorker wires the pipeline. Start must be called before Enqueue.
func NewWorker(store *vfs.Store, ytdl *Ytdl, broadcaster *events.Broadcaster) *Worker {
	return &Worker{
		store:       store,
		ytdl:        ytdl,
		broadcaster: broadcaster,
		in:          make(chan Request),
		out:         make(chan Request),
		done:        make(chan struct{}),
	}
}

// Start launches the queue pump and the single consumer. Both stop when ctx
// is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go w.pump(ctx)
	go w.run(ctx)
}

// Done is closed once the consumer has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Enqueue submits a request. It returns false once the worker is shutting
// down.
func (w *Worker) Enqueue(ctx context.Context, req Request) bool {
	select {
	case w.in <- req:
		w.broadcaster.Publish(events.Event{Type: events.EventQueued, URL: req.URL})
		return true
	case <-ctx.Done():
		return false
	}
}

// pump buffers requests between in and out so Enqueue never blocks on a
// slow download.
func (w *Worker) pump(ctx context.Context) {
	var queue []Request
	defer close(w.out)
	for {
		var out chan Request
		var next Request
		if len(queue) > 0 {
			out = w.out
			next = queue[0]
		}
		metrics.SetIngestQueueDepth(len(queue))
		select {
		case req := <-w.in:
			queue = append(queue, req)
		case out <- next:
			queue = queue[1:]
		case <-ctx.Done():
			metrics.SetIngestQueueDepth(0)
			return
		}
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for req := range w.out {
		start := time.Now()
		result := w.handle(ctx, req)
		if result.Err != nil {
			metrics.RecordDownload("error", time.Since(start))
			logging.Error("ingest failed",
				zap.String("url", req.URL), zap.Error(result.Err))
			w.broadcaster.Publish(events.Event{
				Type:  events.EventFailed,
				URL:   req.URL,
				Error: result.Err.Error(),
			})
		} else {
			metrics.RecordDownload("ok", time.Since(start))
			w.broadcaster.Publish(events.Event{
				Type:   events.EventCommitted,
				URL:    req.URL,
				NodeID: result.NodeID.String(),
				FileID: result.FileID.String(),
			})
		}
		if req.Reply != nil {
			select {
			case req.Reply <- result:
			default:
				// Caller went away; drop the reply.
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, req Request) Result {
	if err := w.ytdl.EnsureBinary(ctx); err != nil {
		return Result{Err: err}
	}

	w.broadcaster.Publish(events.Event{Type: events.EventDownloading, URL: req.URL})

	outcome, err := w.ytdl.Download(ctx, req.URL, req.AudioOnly)
	if err != nil {
		return Result{Err: err}
	}

	classified, err := classify(ctx, outcome.Media, outcome.MediaClass)
	if err != nil {
		w.discard(outcome)
		return Result{Err: err}
	}

	// Image downloads without a sniffed thumbnail get a generated one.
	// This must happen before commit moves the source into the bucket tree.
	if outcome.Thumbnail == nil && classified.Kind == media.KindImage {
		generated, err := w.generateThumbnail(outcome.Media)
		if err != nil {
			logging.Warn("thumbnail generation failed",
				zap.String("url", req.URL), zap.Error(err))
		} else {
			outcome.Thumbnail = generated
		}
	}

	fileID, nodeID, err := w.store.Commit(ctx, vfs.FileData{
		Name: outcome.Title,
		Ref:  outcome.Media,
		Type: classified,
	}, req.Target)
	if err != nil {
		w.discard(outcome)
		return Result{Err: err}
	}

	if err := w.attachThumbnail(ctx, req, outcome, fileID); err != nil {
		// The media file is committed; a missing thumbnail is not fatal.
		logging.Warn("thumbnail attach failed",
			zap.String("url", req.URL), zap.Error(err))
	}

	return Result{FileID: fileID, NodeID: nodeID}
}

// attachThumbnail commits the thumbnail as a hidden sibling node and links
// it to the media file.
func (w *Worker) attachThumbnail(ctx context.Context, req Request, outcome *Outcome, mediaFileID uuid.UUID) error {
	thumb := outcome.Thumbnail
	if thumb == nil {
		return nil
	}

	classified, err := classify(ctx, *thumb, media.SniffImage)
	if err != nil {
		os.Remove(thumb.Path)
		return err
	}

	thumbFileID, _, err := w.store.Commit(ctx, vfs.FileData{
		Name: outcome.Title + " Thumbnail",
		Ref:  *thumb,
		Type: classified,
		Hide: true,
	}, req.Target)
	if err != nil {
		os.Remove(thumb.Path)
		return err
	}
	return w.store.SetThumbnail(ctx, mediaFileID, thumbFileID)
}

// generateThumbnail renders a scaled JPEG next to an image media file.
func (w *Worker) generateThumbnail(src content.Ref) (*content.Ref, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Path, err)
	}
	orientation := media.ExtractOrientation(f)
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind %s: %w", src.Path, err)
	}
	data, _, _, err := media.GenerateThumbnail(f, orientation)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("generate thumbnail for %s: %w", src.Path, err)
	}

	path := filepath.Join(w.ytdl.dir, tempStem+"_thumb.jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write thumbnail: %w", err)
	}
	ref, err := content.RefFor(path)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// discard removes staged files after a failed commit.
func (w *Worker) discard(outcome *Outcome) {
	os.Remove(outcome.Media.Path)
	if outcome.Thumbnail != nil {
		os.Remove(outcome.Thumbnail.Path)
	}
}

// classify probes a staged file according to its sniffed class.
func classify(ctx context.Context, ref content.Ref, class media.SniffClass) (media.Classified, error) {
	switch class {
	case media.SniffMedia:
		probe, err := media.Probe(ctx, ref.Path)
		if err != nil {
			return media.Classified{}, err
		}
		return media.Classified{Kind: media.KindMultimedia, Probe: probe}, nil
	case media.SniffImage:
		probe, err := media.Probe(ctx, ref.Path)
		if err != nil {
			return media.Classified{}, err
		}
		return media.Classified{Kind: media.KindImage, Probe: probe}, nil
	case media.SniffText:
		return media.Classified{Kind: media.KindText}, nil
	default:
		return media.Classified{}, media.ErrUnsupportedType
	}
}
