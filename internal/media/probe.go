// Package media extracts and classifies media metadata. Process invocation
// and JSON parsing for the external probing tool live behind Probe so the
// rest of the engine stays free of process-lifecycle concerns.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"github.com/mediatree/mediatree/internal/logging"
)

var (
	// ErrStreamMissing is returned when a multimedia file has neither an
	// audio nor a video stream.
	ErrStreamMissing = errors.New("media: no audio or video stream")

	// ErrMissingMetadata is returned when probe output lacks a required field.
	ErrMissingMetadata = errors.New("media: required metadata missing")

	// ErrUnsupportedType is returned for files that are not media at all.
	ErrUnsupportedType = errors.New("media: unsupported file type")
)

// CodecType is the probe's per-stream classification.
type CodecType string

const (
	CodecAudio CodecType = "audio"
	CodecVideo CodecType = "video"
)

// ProbeOutput is the typed structure of the probing tool's JSON output.
type ProbeOutput struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single audio or video stream. Numeric fields that the
// tool encodes as strings keep their string form and are parsed on access.
type Stream struct {
	Index     int       `json:"index"`
	CodecName string    `json:"codec_name"`
	CodecType CodecType `json:"codec_type"`

	// Video
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	PixFmt       string `json:"pix_fmt"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`

	// Audio
	SampleFmt  string `json:"sample_fmt"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format describes the container-level probe output.
type Format struct {
	Filename   string `json:"filename"`
	NbStreams  int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// SampleRateHz parses the stream's sample rate.
func (s *Stream) SampleRateHz() (int, bool) {
	v, err := strconv.Atoi(s.SampleRate)
	return v, err == nil
}

// DurationSeconds parses the container duration.
func (f *Format) DurationSeconds() (float64, bool) {
	v, err := strconv.ParseFloat(f.Duration, 64)
	return v, err == nil
}

// BitRateBPS parses the container bit rate.
func (f *Format) BitRateBPS() (int, bool) {
	v, err := strconv.Atoi(f.BitRate)
	return v, err == nil
}

// VideoStream returns the first video stream, or nil.
func (p *ProbeOutput) VideoStream() *Stream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == CodecVideo {
			return &p.Streams[i]
		}
	}
	return nil
}

// AudioStream returns the first audio stream, or nil.
func (p *ProbeOutput) AudioStream() *Stream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == CodecAudio {
			return &p.Streams[i]
		}
	}
	return nil
}

// ParseProbeOutput decodes raw probe JSON into a typed ProbeOutput.
func ParseProbeOutput(data []byte) (*ProbeOutput, error) {
	var out ProbeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &out, nil
}

// Probe runs ffprobe against a file and returns its typed output.
func Probe(ctx context.Context, path string) (*ProbeOutput, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	stdout, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("run ffprobe on %s: %w", path, err)
	}

	out, err := ParseProbeOutput(stdout)
	if err != nil {
		return nil, err
	}
	logging.Debug("probed file",
		zap.String("path", path),
		zap.Int("streams", len(out.Streams)),
		zap.String("format", out.Format.FormatName))
	return out, nil
}
