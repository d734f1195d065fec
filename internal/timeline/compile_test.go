package timeline

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/clipforge/clipforge/internal/common/entities"
)

func resolvedSet(ids ...string) map[string]entities.ResolvedClip {
	m := make(map[string]entities.ResolvedClip, len(ids))
	for _, id := range ids {
		m[id] = entities.ResolvedClip{FileID: id, Path: "/media/" + id + ".mp4"}
	}
	return m
}

func videoTrack(clips ...entities.Clip) entities.Track {
	return entities.Track{Kind: entities.TrackVideo, Clips: clips}
}

func audioTrack(clips ...entities.Clip) entities.Track {
	return entities.Track{Kind: entities.TrackAudio, Clips: clips}
}

func countArg(args []string, want string) int {
	n := 0
	for _, a := range args {
		if a == want {
			n++
		}
	}
	return n
}

func argAfter(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func filterGraph(t *testing.T, args []string) string {
	t.Helper()
	return argAfter(t, args, "-filter_complex")
}

func TestCompileEmptyTimeline(t *testing.T) {
	res, err := Compile(entities.Timeline{FrameRate: 30}, nil, Options{}, "/out/render.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.Duration != MinDuration+1 {
		t.Errorf("duration = %d, want %d", res.Duration, MinDuration+1)
	}
	base := argAfter(t, res.Args, "-i")
	if base != "color=c=black:s=1920x1080:r=30:d=11" {
		t.Errorf("base input = %q", base)
	}
	if countArg(res.Args, "-i") != 1 {
		t.Errorf("expected a single input, got %d", countArg(res.Args, "-i"))
	}
	if countArg(res.Args, "-filter_complex") != 0 {
		t.Error("empty timeline should not need a filtergraph")
	}
	if argAfter(t, res.Args, "-map") != "0:v" {
		t.Errorf("video map = %q, want 0:v", argAfter(t, res.Args, "-map"))
	}
	if countArg(res.Args, "-an") != 1 {
		t.Error("audio should be explicitly disabled")
	}
	if res.Args[len(res.Args)-1] != "/out/render.mp4" {
		t.Errorf("argv should end with the output path, got %q", res.Args[len(res.Args)-1])
	}
	if res.HasAudio {
		t.Error("HasAudio should be false")
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	tl := entities.Timeline{
		FrameRate: 25,
		Tracks: []entities.Track{
			videoTrack(entities.Clip{FileID: "a", In: 0, Out: 10, Start: 0}),
			audioTrack(entities.Clip{FileID: "a", In: 0, Out: 10, Start: 0}),
		},
	}
	first, err := Compile(tl, resolvedSet("a"), Options{Preset: entities.PresetFast}, "/out/r.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := Compile(tl, resolvedSet("a"), Options{Preset: entities.PresetFast}, "/out/r.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !reflect.DeepEqual(first.Args, second.Args) {
		t.Errorf("argv differs across identical compiles:\n%v\n%v", first.Args, second.Args)
	}
}

// The reference scenario: one video clip and one audio clip of the same
// 10 second source, default preset.
func TestCompileSingleClipScenario(t *testing.T) {
	tl := entities.Timeline{
		FrameRate: 30,
		Tracks: []entities.Track{
			videoTrack(entities.Clip{FileID: "A", In: 0, Out: 10, Start: 0}),
			audioTrack(entities.Clip{FileID: "A", In: 0, Out: 10, Start: 0}),
		},
	}
	res, err := Compile(tl, resolvedSet("A"), Options{}, "/out/r.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.Duration != 11 {
		t.Errorf("duration = %d, want 11", res.Duration)
	}
	// Base black input plus the same file twice (once per stream kind).
	if got := countArg(res.Args, "-i"); got != 3 {
		t.Errorf("input count = %d, want 3", got)
	}
	graph := filterGraph(t, res.Args)
	if got := strings.Count(graph, "overlay="); got != 1 {
		t.Errorf("overlay count = %d, want 1", got)
	}
	// A single audio stream bypasses the mix stage entirely.
	if strings.Contains(graph, "amix") {
		t.Error("single audio stream should not be mixed")
	}
	if countArg(res.Args, "[a0]") != 1 {
		t.Error("single audio stream should be mapped directly")
	}
	if !res.HasAudio {
		t.Error("HasAudio should be true")
	}
}

func TestCompileOverlayOrderFollowsTracks(t *testing.T) {
	tl := entities.Timeline{
		FrameRate: 30,
		Tracks: []entities.Track{
			videoTrack(entities.Clip{FileID: "low", In: 0, Out: 5, Start: 0}),
			videoTrack(entities.Clip{FileID: "high", In: 0, Out: 5, Start: 2}),
		},
	}
	res, err := Compile(tl, resolvedSet("low", "high"), Options{}, "/out/r.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	graph := filterGraph(t, res.Args)

	// The lower track composites onto the canvas first; the higher track
	// lands on top of that result.
	first := strings.Index(graph, "[0:v][v0]overlay=enable='between(t,0,5)'[ov0]")
	second := strings.Index(graph, "[ov0][v1]overlay=enable='between(t,2,7)'[ov1]")
	if first < 0 {
		t.Fatalf("missing first overlay stage in %q", graph)
	}
	if second < 0 {
		t.Fatalf("missing second overlay stage in %q", graph)
	}
	if second < first {
		t.Error("higher track must overlay after lower track")
	}
	if argAfter(t, res.Args, "-map") != "[ov1]" {
		t.Errorf("final composite should be the last overlay, got %q", argAfter(t, res.Args, "-map"))
	}
}

func TestCompileClipChain(t *testing.T) {
	tl := entities.Timeline{
		FrameRate: 30,
		Tracks: []entities.Track{
			videoTrack(entities.Clip{FileID: "a", In: 1, Out: 4, Start: 3}),
		},
	}
	res, err := Compile(tl, resolvedSet("a"), Options{}, "/out/r.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	graph := filterGraph(t, res.Args)
	wantChain := "[1:v]trim=start=1:end=4,setpts=PTS-STARTPTS," +
		"scale=1920:1080:force_original_aspect_ratio=decrease," +
		"pad=1920:1080:(ow-iw)/2:(oh-ih)/2:color=black," +
		"setpts=PTS+3/TB[v0]"
	if !strings.Contains(graph, wantChain) {
		t.Errorf("graph missing clip chain:\n got %q\nwant %q", graph, wantChain)
	}
	// Visible only during [start, start+(out-in)] = [3, 6].
	if !strings.Contains(graph, "overlay=enable='between(t,3,6)'") {
		t.Errorf("graph missing enable window: %q", graph)
	}
}

func TestCompileAudioPlacement(t *testing.T) {
	tl := entities.Timeline{
		FrameRate: 30,
		Tracks: []entities.Track{
			audioTrack(entities.Clip{FileID: "a", In: 1, Out: 6, Start: 2.5}),
		},
	}
	res, err := Compile(tl, resolvedSet("a"), Options{}, "/out/r.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	graph := filterGraph(t, res.Args)
	want := "[1:a]atrim=start=1:end=6,asetpts=PTS-STARTPTS,adelay=2500:all=1[a0]"
	if !strings.Contains(graph, want) {
		t.Errorf("graph missing audio chain:\n got %q\nwant %q", graph, want)
	}
	// Video side is just the bare canvas.
	if argAfter(t, res.Args, "-map") != "0:v" {
		t.Errorf("video map = %q, want 0:v", argAfter(t, res.Args, "-map"))
	}
}

func TestCompileMixesMultipleAudioAtFullGain(t *testing.T) {
	tl := entities.Timeline{
		FrameRate: 30,
		Tracks: []entities.Track{
			audioTrack(
				entities.Clip{FileID: "a", In: 0, Out: 5, Start: 0},
				entities.Clip{FileID: "b", In: 0, Out: 5, Start: 5},
			),
		},
	}
	res, err := Compile(tl, resolvedSet("a", "b"), Options{}, "/out/r.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	graph := filterGraph(t, res.Args)
	if !strings.Contains(graph, "[a0][a1]amix=inputs=2:duration=longest:normalize=0[amixed]") {
		t.Errorf("graph missing full-gain mix: %q", graph)
	}
	if countArg(res.Args, "[amixed]") != 1 {
		t.Error("mixed stream should be mapped")
	}
}

func TestCompileSkipsUnresolvedClips(t *testing.T) {
	tl := entities.Timeline{
		FrameRate: 30,
		Tracks: []entities.Track{
			videoTrack(
				entities.Clip{FileID: "present", In: 0, Out: 5, Start: 0},
				entities.Clip{FileID: "missing", In: 0, Out: 5, Start: 5},
			),
		},
	}
	res, err := Compile(tl, resolvedSet("present"), Options{}, "/out/r.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !reflect.DeepEqual(res.Skipped, []string{"missing"}) {
		t.Errorf("skipped = %v, want [missing]", res.Skipped)
	}
	if got := countArg(res.Args, "-i"); got != 2 {
		t.Errorf("input count = %d, want 2 (canvas + resolved clip)", got)
	}
	// The skipped clip still influenced duration: max end is 10 -> 11.
	if res.Duration != 11 {
		t.Errorf("duration = %d, want 11", res.Duration)
	}
}

func TestCompileRejectsInvalidBounds(t *testing.T) {
	tests := []struct {
		name string
		clip entities.Clip
	}{
		{"out equals in", entities.Clip{FileID: "a", In: 5, Out: 5, Start: 0}},
		{"out before in", entities.Clip{FileID: "a", In: 5, Out: 2, Start: 0}},
		{"negative start", entities.Clip{FileID: "a", In: 0, Out: 5, Start: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := entities.Timeline{Tracks: []entities.Track{videoTrack(tt.clip)}}
			_, err := Compile(tl, resolvedSet("a"), Options{}, "/out/r.mp4")
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CompileError, got %v", err)
			}
		})
	}
}

func TestCompileRenditions(t *testing.T) {
	tl := entities.Timeline{
		FrameRate: 30,
		Tracks: []entities.Track{
			videoTrack(entities.Clip{FileID: "a", In: 0, Out: 10, Start: 0}),
			audioTrack(entities.Clip{FileID: "a", In: 0, Out: 10, Start: 0}),
		},
	}
	res, err := Compile(tl, resolvedSet("a"), Options{Renditions: []string{"1080p", "720p"}}, "/out/r.mp4")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	wantOutputs := []string{"/out/r.mp4", "/out/r_720p.mp4"}
	if !reflect.DeepEqual(res.Outputs, wantOutputs) {
		t.Errorf("outputs = %v, want %v", res.Outputs, wantOutputs)
	}
	graph := filterGraph(t, res.Args)
	if !strings.Contains(graph, "split=2[vs0][vs1]") {
		t.Errorf("graph missing video fan-out: %q", graph)
	}
	if !strings.Contains(graph, "[vs1]scale=-2:720[vr0]") {
		t.Errorf("graph missing 720p scale: %q", graph)
	}
	if !strings.Contains(graph, "asplit=2[as0][as1]") {
		t.Errorf("graph missing audio fan-out: %q", graph)
	}
	if countArg(res.Args, "-b:v") != 1 {
		t.Errorf("extra rendition should carry a bitrate cap")
	}
	if argAfter(t, res.Args, "-b:v") != "3000k" {
		t.Errorf("720p bitrate = %q, want 3000k", argAfter(t, res.Args, "-b:v"))
	}
}

func TestCompileUnknownRendition(t *testing.T) {
	_, err := Compile(entities.Timeline{}, nil, Options{Renditions: []string{"4k"}}, "/out/r.mp4")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
}

func TestCompilePresets(t *testing.T) {
	tests := []struct {
		preset     entities.Preset
		wantPreset string
		wantCRF    string
	}{
		{entities.PresetFast, "veryfast", "28"},
		{entities.PresetQuality, "slow", "18"},
		{entities.PresetBalanced, "medium", "23"},
	}
	for _, tt := range tests {
		t.Run(string(tt.preset)+"_"+tt.wantPreset, func(t *testing.T) {
			res, err := Compile(entities.Timeline{}, nil, Options{Preset: tt.preset}, "/out/r.mp4")
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if got := argAfter(t, res.Args, "-preset"); got != tt.wantPreset {
				t.Errorf("-preset = %q, want %q", got, tt.wantPreset)
			}
			if got := argAfter(t, res.Args, "-crf"); got != tt.wantCRF {
				t.Errorf("-crf = %q, want %q", got, tt.wantCRF)
			}
		})
	}
}

func TestImpliedDuration(t *testing.T) {
	tests := []struct {
		name string
		tl   entities.Timeline
		want int
	}{
		{"empty", entities.Timeline{}, 11},
		{
			"below floor",
			entities.Timeline{Tracks: []entities.Track{
				videoTrack(entities.Clip{FileID: "a", In: 0, Out: 4, Start: 2}),
			}},
			11,
		},
		{
			"fractional end rounds up",
			entities.Timeline{Tracks: []entities.Track{
				videoTrack(entities.Clip{FileID: "a", In: 0, Out: 4.3, Start: 8}),
			}},
			14,
		},
		{
			"audio extends duration",
			entities.Timeline{Tracks: []entities.Track{
				videoTrack(entities.Clip{FileID: "a", In: 0, Out: 5, Start: 0}),
				audioTrack(entities.Clip{FileID: "b", In: 0, Out: 20, Start: 0}),
			}},
			21,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := impliedDuration(tt.tl); got != tt.want {
				t.Errorf("impliedDuration = %d, want %d", got, tt.want)
			}
		})
	}
}
