package probe

import (
	"math"
	"testing"
)

const sampleOutput = `{
	"streams": [
		{
			"codec_type": "video",
			"codec_name": "h264",
			"width": 1920,
			"height": 1080,
			"r_frame_rate": "30000/1001"
		},
		{
			"codec_type": "audio",
			"codec_name": "aac",
			"channels": 2,
			"r_frame_rate": "0/0"
		}
	],
	"format": {
		"duration": "634.567000"
	}
}`

func TestParse(t *testing.T) {
	info, err := Parse([]byte(sampleOutput))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if math.Abs(info.Duration-634.567) > 1e-6 {
		t.Errorf("duration = %v", info.Duration)
	}
	if !info.HasVideo() || !info.HasAudio() {
		t.Errorf("stream detection: video %v audio %v", info.HasVideo(), info.HasAudio())
	}
	v := info.VideoStreams[0]
	if v.CodecName != "h264" || v.Width != 1920 || v.Height != 1080 {
		t.Errorf("video stream = %+v", v)
	}
	if math.Abs(v.FrameRate-29.97002997) > 1e-6 {
		t.Errorf("frame rate = %v", v.FrameRate)
	}
	a := info.AudioStreams[0]
	if a.CodecName != "aac" || a.Channels != 2 {
		t.Errorf("audio stream = %+v", a)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"0/0", 0},
		{"bogus", 0},
		{"25", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
