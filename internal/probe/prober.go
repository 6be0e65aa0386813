// Package probe extracts media properties from a source file using ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/vodforge/internal/toolchain"
)

// Result holds the source properties the pipeline needs. It is produced
// once per job and never mutated afterwards.
type Result struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FrameRate       float64 `json:"frame_rate"`
	Codec           string  `json:"codec"`
	BitRate         int64   `json:"bit_rate"`
}

// ErrTimeout marks a probe that exceeded its bounded wait.
var ErrTimeout = errors.New("probe timed out")

// Error wraps any probe failure with the path being analyzed.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Prober runs ffprobe against source files.
type Prober struct {
	runner  toolchain.Runner
	binary  string
	timeout time.Duration
	log     hclog.Logger
}

// New creates a Prober. timeout bounds each ffprobe invocation so a stuck
// tool cannot hang a worker.
func New(runner toolchain.Runner, binary string, timeout time.Duration, log hclog.Logger) *Prober {
	return &Prober{
		runner:  runner,
		binary:  binary,
		timeout: timeout,
		log:     log.Named("probe"),
	}
}

// ffprobe JSON output, restricted to the fields we read.
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

// Probe analyzes sourcePath and returns its media properties. It spawns a
// single bounded ffprobe invocation and has no other side effects.
func (p *Prober) Probe(ctx context.Context, sourcePath string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.runner.Output(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		sourcePath,
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, &Error{Path: sourcePath, Err: fmt.Errorf("%w after %s", ErrTimeout, p.timeout)}
		}
		var spawnErr *toolchain.SpawnError
		if errors.As(err, &spawnErr) {
			// Keep the spawn error unwrappable so the scheduler can retry it.
			return Result{}, &Error{Path: sourcePath, Err: err}
		}
		return Result{}, &Error{Path: sourcePath, Err: err}
	}

	result, err := parseOutput(out)
	if err != nil {
		return Result{}, &Error{Path: sourcePath, Err: err}
	}

	p.log.Debug("probed source",
		"path", sourcePath,
		"duration", result.DurationSeconds,
		"resolution", fmt.Sprintf("%dx%d", result.Width, result.Height),
		"codec", result.Codec,
		"fps", result.FrameRate)

	return result, nil
}

func parseOutput(out []byte) (Result, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Result{}, fmt.Errorf("unparsable ffprobe output: %w", err)
	}

	var video *ffprobeStream
	for i := range parsed.Streams {
		if parsed.Streams[i].CodecType == "video" {
			video = &parsed.Streams[i]
			break
		}
	}
	if video == nil {
		return Result{}, errors.New("no video stream found")
	}

	result := Result{
		Width:     video.Width,
		Height:    video.Height,
		Codec:     video.CodecName,
		FrameRate: parseFrameRate(video.RFrameRate),
	}
	if result.Width <= 0 || result.Height <= 0 {
		return Result{}, fmt.Errorf("invalid video dimensions %dx%d", result.Width, result.Height)
	}

	duration, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return Result{}, fmt.Errorf("invalid duration %q", parsed.Format.Duration)
	}
	result.DurationSeconds = duration

	// Bitrate is reported on the stream for some containers and only at
	// format level for others.
	if br, err := strconv.ParseInt(video.BitRate, 10, 64); err == nil {
		result.BitRate = br
	} else if br, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
		result.BitRate = br
	}

	return result, nil
}

// parseFrameRate reduces an ffprobe rational like "30000/1001" to a float.
// Returns 0 when the value is missing or malformed.
func parseFrameRate(raw string) float64 {
	num, den, found := strings.Cut(raw, "/")
	if !found {
		f, _ := strconv.ParseFloat(raw, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
