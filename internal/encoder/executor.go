// Package encoder runs the external ffmpeg process and interprets its
// diagnostic output.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// SpawnError means the encoder binary could not be launched at all
// (missing binary, permission denied). Distinct from a nonzero exit.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// EncodeError means the encoder ran and exited nonzero. Stderr carries the
// captured diagnostic text for the job record.
type EncodeError struct {
	ExitCode int
	Stderr   string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
}

// Result is the outcome of one encoder invocation. A nonzero ExitCode is
// not a Go error at this layer; the caller decides success or failure.
type Result struct {
	ExitCode int
	Stderr   string
}

// Executor spawns ffmpeg with stdin closed and stdout discarded, streaming
// stderr chunks to an optional sink as they arrive.
type Executor struct {
	FFmpegPath string
}

func NewExecutor(ffmpegPath string) *Executor {
	return &Executor{FFmpegPath: ffmpegPath}
}

const stderrChunkSize = 4096

// Run executes the compiled argv. Stderr is forwarded to sink chunk by
// chunk (chunks are raw text, not line-delimited) and accumulated for the
// result. Cancelling ctx kills the child process. The only error returned
// is a *SpawnError; nonzero exits come back in Result.ExitCode.
func (e *Executor) Run(ctx context.Context, args []string, sink func(chunk string)) (*Result, error) {
	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	cmd.Stdin = nil
	cmd.Stdout = io.Discard

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Path: e.FFmpegPath, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: e.FFmpegPath, Err: err}
	}

	var captured bytes.Buffer
	buf := make([]byte, stderrChunkSize)
	for {
		n, rerr := stderr.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			captured.WriteString(chunk)
			if sink != nil {
				sink(chunk)
			}
		}
		if rerr != nil {
			break
		}
	}

	err = cmd.Wait()
	res := &Result{Stderr: captured.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, &SpawnError{Path: e.FFmpegPath, Err: err}
	}
	return res, nil
}

// Validate checks that the configured binary exists and runs, so a missing
// ffmpeg fails at startup instead of on the first job.
func (e *Executor) Validate() error {
	out, err := exec.Command(e.FFmpegPath, "-version").Output()
	if err != nil {
		return &SpawnError{Path: e.FFmpegPath, Err: err}
	}
	if !strings.HasPrefix(string(out), "ffmpeg version") {
		return &SpawnError{Path: e.FFmpegPath, Err: fmt.Errorf("unexpected -version output")}
	}
	return nil
}
