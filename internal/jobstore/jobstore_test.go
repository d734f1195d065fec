package jobstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/common/entities"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func sampleJob(id string) *entities.RenderJob {
	return &entities.RenderJob{
		ID: id,
		Timeline: entities.Timeline{
			FrameRate: 30,
			Tracks: []entities.Track{
				{Kind: entities.TrackVideo, Clips: []entities.Clip{
					{FileID: "f1", In: 0, Out: 5, Start: 0},
				}},
			},
		},
		Clips:      []entities.ResolvedClip{{FileID: "f1", RemoteURL: "https://example.com/f1"}},
		Preset:     entities.PresetFast,
		Renditions: []string{"720p"},
		Status:     entities.JobStatusQueued,
	}
}

func TestCreateAndGet(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, sampleJob("j1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("job not found")
	}
	if got.Status != entities.JobStatusQueued {
		t.Errorf("status = %q", got.Status)
	}
	if got.Preset != entities.PresetFast || len(got.Renditions) != 1 {
		t.Errorf("options lost: %+v", got)
	}
	if len(got.Timeline.Tracks) != 1 || len(got.Clips) != 1 {
		t.Errorf("snapshot lost: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not recorded")
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := openStore(t)
	got, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestStatusTransitions(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, sampleJob("j1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.SetStatus(ctx, "j1", entities.JobStatusProcessing, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := s.SetStatus(ctx, "j1", entities.JobStatusFailed, "ffmpeg exited with code 1"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, _ := s.Get(ctx, "j1")
	if got.Status != entities.JobStatusFailed {
		t.Errorf("status = %q", got.Status)
	}
	if got.Error != "ffmpeg exited with code 1" {
		t.Errorf("error = %q", got.Error)
	}

	if err := s.SetStatus(ctx, "missing", entities.JobStatusFailed, "x"); err == nil {
		t.Error("expected error for unknown job id")
	}
}

func TestSetResult(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, sampleJob("j1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetResult(ctx, "j1", "renders/j1/render.mp4"); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	got, _ := s.Get(ctx, "j1")
	if got.Status != entities.JobStatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if got.Result != "renders/j1/render.mp4" {
		t.Errorf("result = %q", got.Result)
	}
}

func TestInterruptedJobsMarkedFailedOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := s.Create(ctx, sampleJob("j1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetStatus(ctx, "j1", entities.JobStatusProcessing, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	s.Close()

	s2, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, _ := s2.Get(ctx, "j1")
	if got.Status != entities.JobStatusFailed {
		t.Errorf("status after restart = %q, want failed", got.Status)
	}
	if got.Error != "interrupted by restart" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestList(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Create(ctx, sampleJob(id)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	jobs, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("len = %d, want 2", len(jobs))
	}
}
