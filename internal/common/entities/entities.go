package entities

import "time"

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Clip is a trimmed, positioned reference to a source file. In and Out are
// trim bounds within the source, Start is the placement offset on the master
// timeline. All values are in seconds.
type Clip struct {
	FileID string  `json:"fileId"`
	In     float64 `json:"in"`
	Out    float64 `json:"out"`
	Start  float64 `json:"start"`
}

// End returns the clip's last visible instant on the master timeline.
func (c Clip) End() float64 {
	return c.Start + (c.Out - c.In)
}

// Track is an ordered lane of clips. Track order matters for video:
// higher-index tracks overlay lower ones.
type Track struct {
	Kind  TrackKind `json:"kind"`
	Clips []Clip    `json:"clips"`
}

// Timeline is the full editable representation of a project. Width and
// Height describe the editor canvas; rendered output is always normalized
// to 1920x1080 regardless.
type Timeline struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate int     `json:"frameRate"`
	Tracks    []Track `json:"tracks"`
}

// ResolvedClip ties a clip's FileID to an actual source: a local path once
// fetched, or a time-limited remote URL to fetch it from.
type ResolvedClip struct {
	FileID    string `json:"fileId"`
	Path      string `json:"path,omitempty"`
	RemoteURL string `json:"remoteUrl,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
}

type Preset string

const (
	PresetFast     Preset = "fast"
	PresetQuality  Preset = "quality"
	PresetBalanced Preset = "" // default
)

// Rendition is a named output resolution variant.
type Rendition struct {
	Label   string `json:"label"`
	Height  int    `json:"height"`
	Bitrate string `json:"bitrate"`
}

// DefaultLadder lists the renditions a client may request. The first entry
// is the primary (canvas-sized) output.
var DefaultLadder = []Rendition{
	{Label: "1080p", Height: 1080, Bitrate: "5000k"},
	{Label: "720p", Height: 720, Bitrate: "3000k"},
	{Label: "480p", Height: 480, Bitrate: "1500k"},
	{Label: "360p", Height: 360, Bitrate: "800k"},
}

// LadderLookup returns the ladder entry for a rendition label.
func LadderLookup(label string) (Rendition, bool) {
	for _, r := range DefaultLadder {
		if r.Label == label {
			return r, true
		}
	}
	return Rendition{}, false
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// RenderJob is one execution attempt of compiling and encoding a timeline
// snapshot. The snapshot (timeline + resolved clips + options) is immutable
// once the job is created; Status, Error and Result are mutated by the
// supervisor as the attempt progresses.
type RenderJob struct {
	ID         string         `json:"id"`
	Timeline   Timeline       `json:"timeline"`
	Clips      []ResolvedClip `json:"clips"`
	Preset     Preset         `json:"preset,omitempty"`
	Renditions []string       `json:"renditions,omitempty"`
	Status     JobStatus      `json:"status"`
	Error      string         `json:"error,omitempty"`
	Result     string         `json:"result,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}
