// Package supervisor owns the lifecycle of a render attempt: resolving
// sources, compiling the timeline, running the encoder, publishing
// progress, persisting terminal state and uploading the artifact.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/common/entities"
	"github.com/clipforge/clipforge/internal/encoder"
	"github.com/clipforge/clipforge/internal/probe"
	"github.com/clipforge/clipforge/internal/progress"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/timeline"
)

// stderr kept on a failed job record is capped so diagnostic text does not
// balloon the store.
const maxErrorText = 4000

// Runner abstracts the process executor.
type Runner interface {
	Run(ctx context.Context, args []string, sink func(chunk string)) (*encoder.Result, error)
}

// Jobs abstracts the persisted job records.
type Jobs interface {
	Create(ctx context.Context, job *entities.RenderJob) error
	SetStatus(ctx context.Context, id string, status entities.JobStatus, errText string) error
	SetResult(ctx context.Context, id, location string) error
}

// Inspector abstracts source probing; a nil Inspector disables clamping.
type Inspector interface {
	Inspect(ctx context.Context, path string) (*probe.MediaInfo, error)
}

// Renderer executes one render attempt end to end.
type Renderer struct {
	Exec     Runner
	Jobs     Jobs
	Progress progress.Store
	Store    storage.Uploader
	Prober   Inspector
	WorkDir  string
	Logger   zerolog.Logger
}

// RenderSync is the synchronous mode: compile and encode inline, upload,
// and persist the terminal job record before returning. The caller gets
// either the durable location or the failure.
func (r *Renderer) RenderSync(ctx context.Context, job *entities.RenderJob) (string, error) {
	log := r.Logger.With().Str("job_id", job.ID).Logger()
	job.Status = entities.JobStatusProcessing
	if err := r.Jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}

	res, err := r.render(ctx, job, log)
	if err != nil {
		r.recordFailure(ctx, job.ID, err, log)
		return "", err
	}
	location, err := r.uploadOutputs(ctx, job.ID, res.Outputs)
	if err != nil {
		r.recordFailure(ctx, job.ID, err, log)
		return "", err
	}
	if err := r.Jobs.SetResult(ctx, job.ID, location); err != nil {
		return "", fmt.Errorf("persist result: %w", err)
	}
	r.cleanupScratch(job.ID, log)
	return location, nil
}

// render resolves sources, compiles and runs the encoder. It publishes
// running progress while the encode is underway and a terminal snapshot on
// exit. The returned result's outputs are local paths in the scratch dir.
func (r *Renderer) render(ctx context.Context, job *entities.RenderJob, log zerolog.Logger) (*timeline.Result, error) {
	scratch := r.scratchDir(job.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, err
	}

	resolved := r.resolveSources(ctx, job, scratch, log)
	tl := clampToSources(ctx, job.Timeline, resolved, r.Prober, log)

	outputPath := filepath.Join(scratch, "render.mp4")
	res, err := timeline.Compile(tl, resolved, timeline.Options{
		Preset:     job.Preset,
		Renditions: job.Renditions,
	}, outputPath)
	if err != nil {
		return nil, err
	}
	for _, fileID := range res.Skipped {
		log.Warn().Str("file_id", fileID).Msg("clip source unresolved, skipping clip")
	}

	tracker := encoder.NewProgressTracker(func(seconds float64) {
		r.publishRunning(ctx, job.ID, seconds, log)
	})
	execRes, err := r.Exec.Run(ctx, res.Args, tracker.Consume)
	if err != nil {
		r.publishTerminal(ctx, job.ID, false, -1, log)
		return nil, err
	}
	if execRes.ExitCode != 0 {
		r.publishTerminal(ctx, job.ID, false, execRes.ExitCode, log)
		return nil, &encoder.EncodeError{ExitCode: execRes.ExitCode, Stderr: execRes.Stderr}
	}
	r.publishTerminal(ctx, job.ID, true, 0, log)
	return res, nil
}

// resolveSources maps clip file ids to local paths, downloading remote
// sources into the scratch dir. A source that fails to download stays
// unresolved; the compiler skips its clips.
func (r *Renderer) resolveSources(ctx context.Context, job *entities.RenderJob, scratch string, log zerolog.Logger) map[string]entities.ResolvedClip {
	resolved := make(map[string]entities.ResolvedClip, len(job.Clips))
	for _, rc := range job.Clips {
		if rc.Path != "" {
			resolved[rc.FileID] = rc
			continue
		}
		if rc.RemoteURL == "" {
			continue
		}
		name := rc.FileID + sourceExt(rc.MimeType)
		path, err := storage.Fetch(ctx, rc.RemoteURL, filepath.Join(scratch, "sources"), name)
		if err != nil {
			log.Warn().Err(err).Str("file_id", rc.FileID).Msg("failed to fetch remote source")
			continue
		}
		rc.Path = path
		resolved[rc.FileID] = rc
	}
	return resolved
}

// clampToSources probes each resolved source and pulls clip out-points back
// inside the real source duration. Clips whose in-point already overruns
// the source are left alone; trim produces nothing and the enable window
// hides them.
func clampToSources(ctx context.Context, tl entities.Timeline, resolved map[string]entities.ResolvedClip, prober Inspector, log zerolog.Logger) entities.Timeline {
	if prober == nil {
		return tl
	}
	durations := make(map[string]float64, len(resolved))
	for id, rc := range resolved {
		info, err := prober.Inspect(ctx, rc.Path)
		if err != nil {
			log.Warn().Err(err).Str("file_id", id).Msg("probe failed, skipping clamp")
			continue
		}
		if info.Duration > 0 {
			durations[id] = info.Duration
		}
	}

	out := tl
	out.Tracks = make([]entities.Track, len(tl.Tracks))
	for i, track := range tl.Tracks {
		out.Tracks[i] = track
		out.Tracks[i].Clips = append([]entities.Clip(nil), track.Clips...)
		for j, c := range out.Tracks[i].Clips {
			d, ok := durations[c.FileID]
			if !ok || c.Out <= d || c.In >= d {
				continue
			}
			log.Warn().Str("file_id", c.FileID).
				Float64("out", c.Out).Float64("source_duration", d).
				Msg("clip out point beyond source duration, clamping")
			out.Tracks[i].Clips[j].Out = d
		}
	}
	return out
}

// uploadOutputs pushes every rendition to durable storage and returns the
// primary output's location.
func (r *Renderer) uploadOutputs(ctx context.Context, jobID string, outputs []string) (string, error) {
	var primary string
	for i, path := range outputs {
		key := jobID + "/" + filepath.Base(path)
		location, err := r.Store.Upload(ctx, path, key, "video/mp4")
		if err != nil {
			var ue *storage.UploadError
			if errors.As(err, &ue) {
				return "", err
			}
			return "", &storage.UploadError{Key: key, Err: err}
		}
		if i == 0 {
			primary = location
		}
	}
	return primary, nil
}

func (r *Renderer) recordFailure(ctx context.Context, jobID string, failure error, log zerolog.Logger) {
	text := failure.Error()
	var ee *encoder.EncodeError
	if errors.As(failure, &ee) {
		text = fmt.Sprintf("%s: %s", ee.Error(), tail(ee.Stderr, maxErrorText))
	}
	if err := r.Jobs.SetStatus(ctx, jobID, entities.JobStatusFailed, text); err != nil {
		log.Error().Err(err).Msg("failed to persist failure")
	}
}

// Progress publishing is fire-and-forget: an unreachable store degrades UI
// freshness, never the render.
func (r *Renderer) publishRunning(ctx context.Context, jobID string, seconds float64, log zerolog.Logger) {
	if r.Progress == nil {
		return
	}
	if err := r.Progress.PublishRunning(ctx, jobID, seconds); err != nil {
		log.Debug().Err(err).Msg("progress publish failed")
	}
}

func (r *Renderer) publishTerminal(ctx context.Context, jobID string, ok bool, code int, log zerolog.Logger) {
	if r.Progress == nil {
		return
	}
	if err := r.Progress.PublishTerminal(ctx, jobID, ok, code); err != nil {
		log.Debug().Err(err).Msg("terminal progress publish failed")
	}
}

func (r *Renderer) scratchDir(jobID string) string {
	return filepath.Join(r.WorkDir, jobID)
}

func (r *Renderer) cleanupScratch(jobID string, log zerolog.Logger) {
	if err := os.RemoveAll(r.scratchDir(jobID)); err != nil {
		log.Warn().Err(err).Msg("failed to remove scratch dir")
	}
}

func sourceExt(mimeType string) string {
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// backoff is the sleep applied between poll iterations after a transient
// queue error.
const backoff = 5 * time.Second
