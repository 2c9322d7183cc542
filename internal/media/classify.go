package media

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the coarse file classification selecting the metadata side table.
type Kind int

const (
	KindMultimedia Kind = iota
	KindImage
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindMultimedia:
		return "multimedia"
	case KindImage:
		return "image"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Classified pairs a coarse kind with the probe output backing it.
// Text files carry no probe output.
type Classified struct {
	Kind  Kind
	Probe *ProbeOutput
}

// TypeTag resolves the stored type tag: a multimedia file with a video
// stream is "video", otherwise "audio" if an audio stream exists.
func (c Classified) TypeTag() (string, error) {
	switch c.Kind {
	case KindImage:
		return "image", nil
	case KindText:
		return "text", nil
	case KindMultimedia:
		if c.Probe == nil {
			return "", ErrStreamMissing
		}
		if c.Probe.VideoStream() != nil {
			return "video", nil
		}
		if c.Probe.AudioStream() != nil {
			return "audio", nil
		}
		return "", ErrStreamMissing
	default:
		return "", fmt.Errorf("%w: kind %d", ErrUnsupportedType, int(c.Kind))
	}
}

// SniffClass buckets a file by its magic bytes, not its extension.
type SniffClass int

const (
	SniffUnknown SniffClass = iota
	SniffMedia
	SniffImage
	SniffText
)

// SniffFile detects a file's content type from its leading bytes.
func SniffFile(path string) (SniffClass, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return SniffUnknown, fmt.Errorf("sniff %s: %w", path, err)
	}
	return classifyMIME(mt.String()), nil
}

func classifyMIME(mime string) SniffClass {
	switch {
	case strings.HasPrefix(mime, "video/"), strings.HasPrefix(mime, "audio/"):
		return SniffMedia
	case strings.HasPrefix(mime, "image/"):
		return SniffImage
	case strings.HasPrefix(mime, "text/"):
		return SniffText
	default:
		return SniffUnknown
	}
}
