package media

import (
	"errors"
	"testing"
)

const videoProbeJSON = `{
	"streams": [
		{
			"index": 0,
			"codec_name": "h264",
			"codec_type": "video",
			"width": 1920,
			"height": 1080,
			"pix_fmt": "yuv420p",
			"r_frame_rate": "30/1",
			"avg_frame_rate": "30/1"
		},
		{
			"index": 1,
			"codec_name": "aac",
			"codec_type": "audio",
			"sample_fmt": "fltp",
			"sample_rate": "44100",
			"channels": 2
		}
	],
	"format": {
		"filename": "clip.mp4",
		"nb_streams": 2,
		"format_name": "mov,mp4,m4a,3gp,3g2,mj2",
		"duration": "123.456000",
		"size": "10485760",
		"bit_rate": "679514"
	}
}`

const audioProbeJSON = `{
	"streams": [
		{
			"index": 0,
			"codec_name": "mp3",
			"codec_type": "audio",
			"sample_fmt": "fltp",
			"sample_rate": "48000",
			"channels": 2
		}
	],
	"format": {
		"filename": "song.mp3",
		"nb_streams": 1,
		"format_name": "mp3",
		"duration": "180.1",
		"size": "4194304",
		"bit_rate": "192000"
	}
}`

func TestParseProbeOutputVideo(t *testing.T) {
	out, err := ParseProbeOutput([]byte(videoProbeJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	v := out.VideoStream()
	if v == nil {
		t.Fatal("expected a video stream")
	}
	if v.CodecName != "h264" || v.Width != 1920 || v.Height != 1080 {
		t.Errorf("unexpected video stream: %+v", v)
	}

	a := out.AudioStream()
	if a == nil {
		t.Fatal("expected an audio stream")
	}
	if hz, ok := a.SampleRateHz(); !ok || hz != 44100 {
		t.Errorf("sample rate %d ok=%v", hz, ok)
	}

	if d, ok := out.Format.DurationSeconds(); !ok || d != 123.456 {
		t.Errorf("duration %f ok=%v", d, ok)
	}
	if b, ok := out.Format.BitRateBPS(); !ok || b != 679514 {
		t.Errorf("bit rate %d ok=%v", b, ok)
	}
}

func TestParseProbeOutputMalformed(t *testing.T) {
	if _, err := ParseProbeOutput([]byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStringNumericAccessorsMissing(t *testing.T) {
	var f Format
	if _, ok := f.DurationSeconds(); ok {
		t.Error("empty duration should not parse")
	}
	if _, ok := f.BitRateBPS(); ok {
		t.Error("empty bit rate should not parse")
	}
	var s Stream
	if _, ok := s.SampleRateHz(); ok {
		t.Error("empty sample rate should not parse")
	}
}

func TestTypeTag(t *testing.T) {
	video, err := ParseProbeOutput([]byte(videoProbeJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	audio, err := ParseProbeOutput([]byte(audioProbeJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cases := []struct {
		name string
		c    Classified
		want string
		err  error
	}{
		{"video wins over audio", Classified{Kind: KindMultimedia, Probe: video}, "video", nil},
		{"audio only", Classified{Kind: KindMultimedia, Probe: audio}, "audio", nil},
		{"image", Classified{Kind: KindImage, Probe: video}, "image", nil},
		{"text", Classified{Kind: KindText}, "text", nil},
		{"no streams", Classified{Kind: KindMultimedia, Probe: &ProbeOutput{}}, "", ErrStreamMissing},
		{"nil probe", Classified{Kind: KindMultimedia}, "", ErrStreamMissing},
	}
	for _, tc := range cases {
		tag, err := tc.c.TypeTag()
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("%s: got err %v, want %v", tc.name, err, tc.err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if tag != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, tag, tc.want)
		}
	}
}

func TestClassifyMIME(t *testing.T) {
	cases := []struct {
		mime string
		want SniffClass
	}{
		{"video/mp4", SniffMedia},
		{"audio/mpeg", SniffMedia},
		{"image/png", SniffImage},
		{"text/plain; charset=utf-8", SniffText},
		{"application/zip", SniffUnknown},
	}
	for _, tc := range cases {
		if got := classifyMIME(tc.mime); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.mime, got, tc.want)
		}
	}
}
