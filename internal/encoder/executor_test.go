package encoder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// The executor only cares about process mechanics, so the tests drive it
// with a shell instead of ffmpeg.
func shellExecutor() *Executor {
	return NewExecutor("/bin/sh")
}

func TestRunCapturesStderrAndExitCode(t *testing.T) {
	e := shellExecutor()
	var chunks []string
	res, err := e.Run(context.Background(),
		[]string{"-c", "echo diagnostic line 1>&2; exit 3"},
		func(chunk string) { chunks = append(chunks, chunk) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "diagnostic line") {
		t.Errorf("stderr = %q, missing diagnostic text", res.Stderr)
	}
	if len(chunks) == 0 || !strings.Contains(strings.Join(chunks, ""), "diagnostic line") {
		t.Errorf("sink did not receive stderr chunks: %v", chunks)
	}
}

func TestRunSuccess(t *testing.T) {
	e := shellExecutor()
	res, err := e.Run(context.Background(), []string{"-c", "exit 0"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestRunSpawnError(t *testing.T) {
	e := NewExecutor("/nonexistent/ffmpeg")
	_, err := e.Run(context.Background(), []string{"-version"}, nil)
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
}

func TestRunContextCancelKillsProcess(t *testing.T) {
	e := shellExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := e.Run(ctx, []string{"-c", "sleep 30"}, nil)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took %v", elapsed)
	}
	// A killed child surfaces as a nonzero exit, not a spawn failure.
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode == 0 {
		t.Error("killed process should not report success")
	}
}

func TestValidateMissingBinary(t *testing.T) {
	e := NewExecutor("/nonexistent/ffmpeg")
	var se *SpawnError
	if !errors.As(e.Validate(), &se) {
		t.Error("expected SpawnError for missing binary")
	}
}
