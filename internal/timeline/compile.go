// Package timeline compiles a declarative timeline into the ffmpeg argument
// vector that renders it. Compilation is pure: the same timeline, resolved
// clips and options always produce the same argv.
package timeline

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clipforge/clipforge/internal/common/entities"
)

const (
	// Output is always normalized to a fixed canvas regardless of the
	// timeline's stated dimensions.
	CanvasWidth  = 1920
	CanvasHeight = 1080

	// MinDuration is the floor applied to the implied timeline duration to
	// avoid degenerate renders.
	MinDuration = 10

	defaultFrameRate = 30
	audioBitrate     = "192k"
)

// Options selects the encoder speed/quality tradeoff and any extra output
// renditions beyond the primary canvas-sized one. Validation of rendition
// labels happens at the API/worker boundary; Compile still rejects labels
// it cannot place on the ladder.
type Options struct {
	Preset     entities.Preset
	Renditions []string
}

// CompileError reports timeline input the compiler cannot express as a
// filtergraph. Clips referencing files absent from the resolved set are not
// errors; they are skipped and reported via Result.Skipped.
type CompileError struct {
	FileID string
	Reason string
}

func (e *CompileError) Error() string {
	if e.FileID == "" {
		return "compile: " + e.Reason
	}
	return fmt.Sprintf("compile: clip %s: %s", e.FileID, e.Reason)
}

// Result carries the compiled argv plus everything the supervisor needs to
// interpret it: the output paths in map order, the clips that were skipped
// for lack of a resolved source, and the encoded duration in whole seconds.
type Result struct {
	Args     []string
	Outputs  []string
	Skipped  []string
	Duration int
	HasAudio bool
}

type placedClip struct {
	clip  entities.Clip
	input int
}

// Compile translates a timeline into ffmpeg arguments. The argv starts after
// the ffmpeg binary itself and ends with the output path(s).
//
// Input 0 is a synthetic black color source spanning the whole timeline.
// Every video clip becomes an input with a trim/scale/pad/shift chain, then
// the chains are composited by sequential overlay in track/clip order, each
// gated by an enable window so a clip's last frame does not persist past its
// nominal end. Audio clips are trimmed and delayed, then mixed at full gain
// (single audio streams are mapped directly, without a mix stage).
func Compile(tl entities.Timeline, resolved map[string]entities.ResolvedClip, opts Options, outputPath string) (*Result, error) {
	for _, track := range tl.Tracks {
		for _, c := range track.Clips {
			if c.Out <= c.In {
				return nil, &CompileError{FileID: c.FileID, Reason: fmt.Sprintf("out point %s not after in point %s", secs(c.Out), secs(c.In))}
			}
			if c.Start < 0 {
				return nil, &CompileError{FileID: c.FileID, Reason: "negative start offset"}
			}
		}
	}

	extras, err := extraRenditions(opts.Renditions)
	if err != nil {
		return nil, err
	}

	fps := tl.FrameRate
	if fps <= 0 {
		fps = defaultFrameRate
	}
	duration := impliedDuration(tl)

	res := &Result{Duration: duration}
	args := []string{"-y", "-hide_banner", "-nostdin"}

	// Input 0: the black canvas.
	args = append(args, "-f", "lavfi", "-i",
		fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=%d", CanvasWidth, CanvasHeight, fps, duration))

	var video, audio []placedClip
	nextInput := 1
	place := func(kind entities.TrackKind, c entities.Clip) {
		rc, ok := resolved[c.FileID]
		if !ok || rc.Path == "" {
			res.Skipped = append(res.Skipped, c.FileID)
			return
		}
		args = append(args, "-i", rc.Path)
		pc := placedClip{clip: c, input: nextInput}
		nextInput++
		if kind == entities.TrackVideo {
			video = append(video, pc)
		} else {
			audio = append(audio, pc)
		}
	}
	for _, track := range tl.Tracks {
		if track.Kind != entities.TrackVideo {
			continue
		}
		for _, c := range track.Clips {
			place(entities.TrackVideo, c)
		}
	}
	for _, track := range tl.Tracks {
		if track.Kind != entities.TrackAudio {
			continue
		}
		for _, c := range track.Clips {
			place(entities.TrackAudio, c)
		}
	}
	res.HasAudio = len(audio) > 0

	var chains []string

	// Per-clip video chains: trim to the source window, rebase timestamps,
	// fit to the canvas, then shift onto the master timeline.
	for i, pc := range video {
		chains = append(chains, fmt.Sprintf(
			"[%d:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS,"+
				"scale=%d:%d:force_original_aspect_ratio=decrease,"+
				"pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,"+
				"setpts=PTS+%s/TB[v%d]",
			pc.input, secs(pc.clip.In), secs(pc.clip.Out),
			CanvasWidth, CanvasHeight, CanvasWidth, CanvasHeight,
			secs(pc.clip.Start), i))
	}

	// Sequential overlay composition. Later chains (higher tracks) land on
	// top. The enable window keeps each clip invisible outside
	// [start, start+(out-in)].
	videoLabel := "0:v"
	for i, pc := range video {
		out := fmt.Sprintf("ov%d", i)
		chains = append(chains, fmt.Sprintf(
			"[%s][v%d]overlay=enable='between(t,%s,%s)'[%s]",
			videoLabel, i, secs(pc.clip.Start), secs(pc.clip.End()), out))
		videoLabel = out
	}

	// Audio chains: trim, rebase, then delay onto the master timeline.
	// adelay wants milliseconds and applies to all channels.
	for i, pc := range audio {
		chains = append(chains, fmt.Sprintf(
			"[%d:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS,adelay=%d:all=1[a%d]",
			pc.input, secs(pc.clip.In), secs(pc.clip.Out),
			int(math.Round(pc.clip.Start*1000)), i))
	}

	audioLabel := ""
	switch {
	case len(audio) == 1:
		audioLabel = "a0"
	case len(audio) > 1:
		var in strings.Builder
		for i := range audio {
			fmt.Fprintf(&in, "[a%d]", i)
		}
		// Full-gain mix: normalize=0 keeps each stream at its original
		// level, matching the historical loudness behavior.
		chains = append(chains, fmt.Sprintf(
			"%samix=inputs=%d:duration=longest:normalize=0[amixed]",
			in.String(), len(audio)))
		audioLabel = "amixed"
	}

	// Fan the composite (and mix) out when extra renditions were requested.
	videoOuts := []string{videoLabel}
	audioOuts := []string{audioLabel}
	if len(extras) > 0 {
		n := len(extras) + 1
		videoOuts = videoOuts[:0]
		var split strings.Builder
		fmt.Fprintf(&split, "[%s]split=%d", videoLabel, n)
		for i := 0; i < n; i++ {
			fmt.Fprintf(&split, "[vs%d]", i)
		}
		chains = append(chains, split.String())
		videoOuts = append(videoOuts, "vs0")
		for i, r := range extras {
			label := fmt.Sprintf("vr%d", i)
			chains = append(chains, fmt.Sprintf("[vs%d]scale=-2:%d[%s]", i+1, r.Height, label))
			videoOuts = append(videoOuts, label)
		}
		if audioLabel != "" {
			audioOuts = audioOuts[:0]
			var asplit strings.Builder
			fmt.Fprintf(&asplit, "[%s]asplit=%d", audioLabel, n)
			for i := 0; i < n; i++ {
				fmt.Fprintf(&asplit, "[as%d]", i)
				audioOuts = append(audioOuts, fmt.Sprintf("as%d", i))
			}
			chains = append(chains, asplit.String())
		} else {
			audioOuts = make([]string, n)
		}
	}

	if len(chains) > 0 {
		args = append(args, "-filter_complex", strings.Join(chains, ";"))
	}

	// One mapped output per rendition, primary first.
	for i, vout := range videoOuts {
		args = append(args, "-map", mapRef(vout, len(chains) > 0))
		if audioOuts[i] != "" {
			args = append(args, "-map", "["+audioOuts[i]+"]")
		}
		args = append(args, "-c:v", "libx264")
		args = append(args, presetArgs(opts.Preset)...)
		if i > 0 {
			args = append(args, "-b:v", extras[i-1].Bitrate)
		}
		args = append(args, "-pix_fmt", "yuv420p", "-r", strconv.Itoa(fps))
		if audioOuts[i] != "" {
			args = append(args, "-c:a", "aac", "-b:a", audioBitrate)
		} else {
			args = append(args, "-an")
		}
		args = append(args, "-t", strconv.Itoa(duration), "-movflags", "+faststart")

		path := outputPath
		if i > 0 {
			path = renditionPath(outputPath, extras[i-1].Label)
		}
		args = append(args, path)
		res.Outputs = append(res.Outputs, path)
	}

	res.Args = args
	return res, nil
}

// impliedDuration computes the encoded duration in whole seconds: the
// latest clip end across all tracks, floored at MinDuration, rounded up
// plus a one second safety margin.
func impliedDuration(tl entities.Timeline) int {
	var d float64
	for _, track := range tl.Tracks {
		for _, c := range track.Clips {
			if end := c.End(); end > d {
				d = end
			}
		}
	}
	if d < MinDuration {
		d = MinDuration
	}
	return int(math.Ceil(d)) + 1
}

// extraRenditions resolves requested labels against the ladder, dropping
// the primary label since the canvas output always exists.
func extraRenditions(labels []string) ([]entities.Rendition, error) {
	var extras []entities.Rendition
	for _, label := range labels {
		r, ok := entities.LadderLookup(label)
		if !ok {
			return nil, &CompileError{Reason: "unknown rendition " + label}
		}
		if r.Height == CanvasHeight {
			continue
		}
		extras = append(extras, r)
	}
	return extras, nil
}

func presetArgs(p entities.Preset) []string {
	switch p {
	case entities.PresetFast:
		return []string{"-preset", "veryfast", "-crf", "28"}
	case entities.PresetQuality:
		return []string{"-preset", "slow", "-crf", "18"}
	default:
		return []string{"-preset", "medium", "-crf", "23"}
	}
}

// mapRef formats a -map argument: filtergraph labels are bracketed, raw
// input pads (the bare canvas) are not.
func mapRef(label string, filtered bool) string {
	if strings.Contains(label, ":") || !filtered {
		return label
	}
	return "[" + label + "]"
}

// renditionPath derives the output path for an extra rendition:
// render.mp4 -> render_720p.mp4.
func renditionPath(path, label string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + label + ext
}

// secs formats a seconds value with the shortest exact representation so
// compiled argv is byte-stable across runs.
func secs(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
