// Package encode invokes ffmpeg to produce one output artifact per planned
// resolution, plus a thumbnail per job. Outputs are partitioned by job id so
// concurrent workers never write overlapping paths.
package encode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/vodforge/internal/plan"
	"github.com/mantonx/vodforge/internal/toolchain"
)

// Artifact describes one produced output file.
type Artifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Error reports a failed encode for a single rung.
type Error struct {
	Rung plan.Descriptor
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Rung.Label, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ThumbnailError reports a failed thumbnail capture. It never fails the job.
type ThumbnailError struct {
	Err error
}

func (e *ThumbnailError) Error() string {
	return fmt.Sprintf("thumbnail: %v", e.Err)
}

func (e *ThumbnailError) Unwrap() error { return e.Err }

// Executor runs ffmpeg for rung encodes and thumbnail captures.
type Executor struct {
	runner    toolchain.Runner
	binary    string
	outputDir string
	log       hclog.Logger
}

// NewExecutor creates an Executor writing artifacts under outputDir.
func NewExecutor(runner toolchain.Runner, binary, outputDir string, log hclog.Logger) *Executor {
	return &Executor{
		runner:    runner,
		binary:    binary,
		outputDir: outputDir,
		log:       log.Named("ffmpeg"),
	}
}

// OutputPath is the deterministic artifact location for a rung. Consumers
// derive it from the job id and label without scanning directories.
func (e *Executor) OutputPath(jobID, label string) string {
	return filepath.Join(e.outputDir, jobID, label+".mp4")
}

// ThumbnailPath is the deterministic thumbnail location for a job.
func (e *Executor) ThumbnailPath(jobID string) string {
	return filepath.Join(e.outputDir, jobID, "thumbnail.jpg")
}

// Encode transcodes sourcePath into the given rung. durationSeconds drives
// in-flight progress reporting via onProgress (fraction 0..1, may be nil).
// On failure or cancellation the partial output is removed so nothing on
// disk claims success.
func (e *Executor) Encode(ctx context.Context, jobID, sourcePath string, rung plan.Descriptor, durationSeconds float64, onProgress func(float64)) (Artifact, error) {
	outputPath := e.OutputPath(jobID, rung.Label)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return Artifact{}, &Error{Rung: rung, Err: fmt.Errorf("create output directory: %w", err)}
	}

	args := buildEncodeArgs(sourcePath, outputPath, rung)
	e.log.Info("starting encode", "job_id", jobID, "rung", rung.Label, "source", sourcePath)

	proc, err := e.runner.Start(ctx, e.binary, args...)
	if err != nil {
		return Artifact{}, &Error{Rung: rung, Err: err}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanProgress(proc.Stderr(), durationSeconds, onProgress)
	}()

	// Wait closes the parent end of the stderr pipe, so all reads must
	// finish first. The scanner hits EOF once the process exits, so this
	// ordering cannot deadlock.
	<-done
	waitErr := proc.Wait()

	if waitErr != nil {
		e.removePartial(outputPath, jobID, rung.Label)
		if ctx.Err() != nil {
			return Artifact{}, &Error{Rung: rung, Err: ctx.Err()}
		}
		return Artifact{}, &Error{Rung: rung, Err: waitErr}
	}
	if ctx.Err() != nil {
		e.removePartial(outputPath, jobID, rung.Label)
		return Artifact{}, &Error{Rung: rung, Err: ctx.Err()}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return Artifact{}, &Error{Rung: rung, Err: fmt.Errorf("output missing: %w", err)}
	}
	if info.Size() == 0 {
		e.removePartial(outputPath, jobID, rung.Label)
		return Artifact{}, &Error{Rung: rung, Err: fmt.Errorf("output is empty")}
	}

	e.log.Info("encode finished", "job_id", jobID, "rung", rung.Label, "bytes", info.Size())
	return Artifact{Path: outputPath, SizeBytes: info.Size()}, nil
}

// GenerateThumbnail captures a frame a tenth of the way into the video,
// capped at five seconds, so very short clips still yield a frame and the
// capture avoids black opening frames.
func (e *Executor) GenerateThumbnail(ctx context.Context, jobID, sourcePath string, durationSeconds float64) (string, error) {
	outputPath := e.ThumbnailPath(jobID)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", &ThumbnailError{Err: fmt.Errorf("create output directory: %w", err)}
	}

	offset := ThumbnailOffset(durationSeconds)
	args := buildThumbnailArgs(sourcePath, outputPath, offset)

	if _, err := e.runner.Output(ctx, e.binary, args...); err != nil {
		os.Remove(outputPath)
		return "", &ThumbnailError{Err: err}
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outputPath)
		return "", &ThumbnailError{Err: fmt.Errorf("no thumbnail produced")}
	}

	e.log.Debug("thumbnail captured", "job_id", jobID, "offset_seconds", offset)
	return outputPath, nil
}

// ThumbnailOffset picks the capture point: 10% into the video, at most five
// seconds in, never negative.
func ThumbnailOffset(durationSeconds float64) float64 {
	offset := durationSeconds * 0.1
	if offset > 5 {
		offset = 5
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

func (e *Executor) removePartial(path, jobID, label string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.log.Warn("failed to remove partial output", "job_id", jobID, "rung", label, "path", path, "error", err)
	}
}
