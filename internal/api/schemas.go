package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/clipforge/clipforge/internal/common/entities"
)

// RenderRequest is the body for both render endpoints.
type RenderRequest struct {
	Timeline   entities.Timeline       `json:"timeline"`
	Clips      []entities.ResolvedClip `json:"clips"`
	Preset     entities.Preset         `json:"preset,omitempty"`
	Renditions []string                `json:"renditions,omitempty"`
}

// Validate enforces the boundary invariants so malformed input never
// reaches the compiler.
func (r *RenderRequest) Validate() error {
	switch r.Preset {
	case entities.PresetFast, entities.PresetQuality, entities.PresetBalanced:
	default:
		return fmt.Errorf("unknown preset %q", r.Preset)
	}
	for _, label := range r.Renditions {
		if _, ok := entities.LadderLookup(label); !ok {
			return fmt.Errorf("unknown rendition %q", label)
		}
	}
	for ti, track := range r.Timeline.Tracks {
		if track.Kind != entities.TrackVideo && track.Kind != entities.TrackAudio {
			return fmt.Errorf("track %d: unknown kind %q", ti, track.Kind)
		}
		for ci, c := range track.Clips {
			if c.FileID == "" {
				return fmt.Errorf("track %d clip %d: missing fileId", ti, ci)
			}
			if c.Out <= c.In {
				return fmt.Errorf("track %d clip %d: out must be greater than in", ti, ci)
			}
			if c.Start < 0 {
				return fmt.Errorf("track %d clip %d: start must not be negative", ti, ci)
			}
		}
	}
	return nil
}

type RenderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// ErrorResponse is the structured failure shape: a short machine-readable
// reason plus diagnostic detail, never a stack trace.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, reason, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: reason, Detail: detail})
}
