// Package probe inspects source media with ffprobe before compilation, so
// the supervisor can clamp trim bounds that overrun the real source and
// warn about streams a clip expects but the file lacks.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type VideoStream struct {
	CodecName string
	Width     int
	Height    int
	FrameRate float64
}

type AudioStream struct {
	CodecName string
	Channels  int
}

type MediaInfo struct {
	Duration     float64
	VideoStreams []VideoStream
	AudioStreams []AudioStream
}

// HasVideo reports whether the source carries at least one video stream.
func (m *MediaInfo) HasVideo() bool { return len(m.VideoStreams) > 0 }

// HasAudio reports whether the source carries at least one audio stream.
func (m *MediaInfo) HasAudio() bool { return len(m.AudioStreams) > 0 }

type Prober struct {
	FFprobePath string
}

func NewProber(ffprobePath string) *Prober {
	return &Prober{FFprobePath: ffprobePath}
}

// Inspect runs ffprobe on a local file and returns its typed stream layout.
func (p *Prober) Inspect(ctx context.Context, path string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, p.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return Parse(out.Bytes())
}

// ffprobe encodes numeric format fields as strings.
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Channels  int    `json:"channels"`
		FrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Parse decodes raw ffprobe JSON into MediaInfo.
func Parse(data []byte) (*MediaInfo, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	info := &MediaInfo{}
	info.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			info.VideoStreams = append(info.VideoStreams, VideoStream{
				CodecName: s.CodecName,
				Width:     s.Width,
				Height:    s.Height,
				FrameRate: parseFrameRate(s.FrameRate),
			})
		case "audio":
			info.AudioStreams = append(info.AudioStreams, AudioStream{
				CodecName: s.CodecName,
				Channels:  s.Channels,
			})
		}
	}
	return info, nil
}

// parseFrameRate converts ffprobe's rational form ("30000/1001") to fps.
func parseFrameRate(r string) float64 {
	parts := strings.Split(r, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
