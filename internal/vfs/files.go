package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediatree/mediatree/internal/content"
	"github.com/mediatree/mediatree/internal/logging"
	"github.com/mediatree/mediatree/internal/media"
	"github.com/mediatree/mediatree/internal/metrics"
)

// FileData describes a physical file staged for commit into the VFS.
type FileData struct {
	Name string
	Ref  content.Ref
	Type media.Classified
	Hide bool
}

// Commit links a physical file into the namespace atomically: the file is
// placed at its bucketed location, then the file row, its metadata side row,
// and the namespace node are written in one transaction. If the transaction
// fails, the placed file is removed again.
func (s *Store) Commit(ctx context.Context, data FileData, target *Target) (fileID, nodeID uuid.UUID, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("commit_file", time.Since(start)) }()

	tag, err := data.Type.TypeTag()
	if err != nil {
		metrics.RecordCommit("unknown", "error")
		return uuid.Nil, uuid.Nil, err
	}

	fileID = uuid.New()
	ext := filepath.Ext(data.Ref.Path)
	placed, err := s.content.Place(data.Ref, s.content.BucketPath(fileID.String(), ext))
	if err != nil {
		metrics.RecordCommit(tag, "error")
		return uuid.Nil, uuid.Nil, err
	}

	rel, err := filepath.Rel(s.content.Root(), placed.Path)
	if err != nil {
		rel = placed.Path
	}
	storedPath := "/" + filepath.ToSlash(rel)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		parentID, err := resolveTarget(ctx, tx, target, true)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vfs_files (id, file_path, file_size, file_type, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			fileID, storedPath, placed.Size, tag, time.Now().UTC()); err != nil {
			return fmt.Errorf("insert file: %w", err)
		}

		if err := insertSideRow(ctx, tx, fileID, tag, data.Type.Probe); err != nil {
			return err
		}

		nodeID, err = createChild(ctx, tx, parentID, data.Name, data.Hide)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE vfs_nodes SET vfs_file = $1, updated_at = $2 WHERE id = $3`,
			fileID, time.Now().UTC(), nodeID); err != nil {
			return fmt.Errorf("link node to file: %w", err)
		}
		return nil
	})
	if err != nil {
		// The transaction rolled back; take the physical file with it.
		if derr := s.content.Delete(placed); derr != nil {
			logging.Warn("orphaned file after failed commit",
				zap.String("path", placed.Path), zap.Error(derr))
		}
		metrics.RecordCommit(tag, "error")
		return uuid.Nil, uuid.Nil, err
	}

	metrics.RecordCommit(tag, "ok")
	logging.Info("committed file",
		zap.String("file", fileID.String()),
		zap.String("node", nodeID.String()),
		zap.String("name", data.Name),
		zap.String("type", tag),
		zap.Int64("size", placed.Size))
	return fileID, nodeID, nil
}

// insertSideRow writes the per-type metadata row. Probe fields the tool did
// not report are stored as NULL.
func insertSideRow(ctx context.Context, q querier, fileID uuid.UUID, tag string, probe *media.ProbeOutput) error {
	switch tag {
	case "video":
		video := probe.VideoStream()
		audio := probe.AudioStream()
		var audioCodec any
		if audio != nil {
			audioCodec = audio.CodecName
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO video_files
				(id, duration, width, height, r_frame_rate, avg_frame_rate, video_codec, audio_codec)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			fileID, floatOrNil(probe.Format.DurationSeconds()),
			video.Width, video.Height, video.RFrameRate, video.AvgFrameRate,
			video.CodecName, audioCodec); err != nil {
			return fmt.Errorf("insert video metadata: %w", err)
		}
	case "audio":
		audio := probe.AudioStream()
		if _, err := q.ExecContext(ctx,
			`INSERT INTO audio_files
				(id, duration, codec_name, bitrate, sample_format, sample_rate, channels)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			fileID, floatOrNil(probe.Format.DurationSeconds()),
			audio.CodecName, intOrNil(probe.Format.BitRateBPS()),
			audio.SampleFmt, intOrNil(audio.SampleRateHz()),
			audio.Channels); err != nil {
			return fmt.Errorf("insert audio metadata: %w", err)
		}
	case "image":
		var width, height any
		var codec, pixFmt any
		if probe != nil {
			if v := probe.VideoStream(); v != nil {
				width, height = v.Width, v.Height
				codec, pixFmt = v.CodecName, v.PixFmt
			}
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO image_files (id, width, height, codec_name, pix_fmt)
			 VALUES ($1, $2, $3, $4, $5)`,
			fileID, width, height, codec, pixFmt); err != nil {
			return fmt.Errorf("insert image metadata: %w", err)
		}
	case "text":
		// No side table.
	default:
		return fmt.Errorf("%w: %q", media.ErrUnsupportedType, tag)
	}
	return nil
}

func floatOrNil(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func intOrNil(v int, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

// SetThumbnail associates a thumbnail file with a media file, replacing any
// previous association.
func (s *Store) SetThumbnail(ctx context.Context, fileID, thumbFileID uuid.UUID) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_thumbnail", time.Since(start)) }()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vfs_thumbs (id, thumbnail)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET thumbnail = $2`,
		fileID, thumbFileID); err != nil {
		return fmt.Errorf("set thumbnail: %w", err)
	}
	return nil
}

// GetThumbnail resolves a node's thumbnail to a stored file path. The second
// return is false when the node has no file or no thumbnail.
func (s *Store) GetThumbnail(ctx context.Context, nodeID uuid.UUID) (string, bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_thumbnail", time.Since(start)) }()

	var path string
	err := s.db.QueryRowContext(ctx,
		`SELECT tf.file_path
		 FROM vfs_nodes n
		 JOIN vfs_thumbs t ON t.id = n.vfs_file
		 JOIN vfs_files tf ON tf.id = t.thumbnail
		 WHERE n.id = $1`, nodeID).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query thumbnail: %w", err)
	}
	return path, true, nil
}

// OpenFile resolves a stored file path to an absolute path under the content
// root, rejecting escapes.
func (s *Store) OpenFile(storedPath string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimPrefix(storedPath, "/"))
	return filepath.Join(s.content.Root(), filepath.FromSlash(clean)), nil
}

// FileOfNode returns the file row linked to a node, if any.
func (s *Store) FileOfNode(ctx context.Context, nodeID uuid.UUID) (id uuid.UUID, storedPath, fileType string, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_of_node", time.Since(start)) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT f.id, f.file_path, f.file_type
		 FROM vfs_nodes n
		 JOIN vfs_files f ON f.id = n.vfs_file
		 WHERE n.id = $1`, nodeID).Scan(&id, &storedPath, &fileType)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, "", "", fmt.Errorf("%w: no file on node %s", ErrNotFound, nodeID)
	}
	if err != nil {
		return uuid.Nil, "", "", fmt.Errorf("query node file: %w", err)
	}
	return id, storedPath, fileType, nil
}
