package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/vodforge/internal/toolchain"
)

const sampleOutput = `{
	"streams": [
		{
			"codec_type": "audio",
			"codec_name": "aac",
			"bit_rate": "128000"
		},
		{
			"codec_type": "video",
			"codec_name": "h264",
			"width": 1920,
			"height": 1080,
			"r_frame_rate": "30000/1001",
			"bit_rate": "4800000"
		}
	],
	"format": {
		"duration": "632.480000",
		"bit_rate": "5100000"
	}
}`

// fakeRunner returns canned ffprobe behavior without spawning processes.
type fakeRunner struct {
	output []byte
	err    error
	block  bool

	gotName string
	gotArgs []string
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.gotName = name
	f.gotArgs = args
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.output, f.err
}

func (f *fakeRunner) Start(ctx context.Context, name string, args ...string) (toolchain.Process, error) {
	panic("probe never streams")
}

func newTestProber(runner toolchain.Runner, timeout time.Duration) *Prober {
	return New(runner, "ffprobe", timeout, hclog.NewNullLogger())
}

func TestProbe_ParsesVideoStream(t *testing.T) {
	runner := &fakeRunner{output: []byte(sampleOutput)}
	p := newTestProber(runner, 30*time.Second)

	result, err := p.Probe(context.Background(), "/uploads/movie.mkv")
	require.NoError(t, err)

	assert.Equal(t, 1920, result.Width)
	assert.Equal(t, 1080, result.Height)
	assert.Equal(t, "h264", result.Codec)
	assert.InDelta(t, 632.48, result.DurationSeconds, 0.001)
	assert.InDelta(t, 29.97, result.FrameRate, 0.01)
	assert.Equal(t, int64(4800000), result.BitRate)

	assert.Equal(t, "ffprobe", runner.gotName)
	assert.Equal(t, "/uploads/movie.mkv", runner.gotArgs[len(runner.gotArgs)-1])
}

func TestProbe_FormatLevelBitrateFallback(t *testing.T) {
	out := `{
		"streams": [{"codec_type": "video", "codec_name": "vp9", "width": 1280, "height": 720, "r_frame_rate": "24/1"}],
		"format": {"duration": "10.0", "bit_rate": "900000"}
	}`
	p := newTestProber(&fakeRunner{output: []byte(out)}, time.Second)

	result, err := p.Probe(context.Background(), "clip.webm")
	require.NoError(t, err)
	assert.Equal(t, int64(900000), result.BitRate)
	assert.Equal(t, 24.0, result.FrameRate)
}

func TestProbe_NoVideoStream(t *testing.T) {
	out := `{"streams": [{"codec_type": "audio", "codec_name": "mp3"}], "format": {"duration": "3.0"}}`
	p := newTestProber(&fakeRunner{output: []byte(out)}, time.Second)

	_, err := p.Probe(context.Background(), "song.mp3")
	require.Error(t, err)

	var probeErr *Error
	require.ErrorAs(t, err, &probeErr)
	assert.Contains(t, probeErr.Error(), "no video stream")
}

func TestProbe_UnparsableOutput(t *testing.T) {
	p := newTestProber(&fakeRunner{output: []byte("not json")}, time.Second)

	_, err := p.Probe(context.Background(), "broken.mp4")
	var probeErr *Error
	require.ErrorAs(t, err, &probeErr)
}

func TestProbe_InvalidDuration(t *testing.T) {
	out := `{"streams": [{"codec_type": "video", "width": 640, "height": 360, "r_frame_rate": "30/1"}], "format": {"duration": "N/A"}}`
	p := newTestProber(&fakeRunner{output: []byte(out)}, time.Second)

	_, err := p.Probe(context.Background(), "odd.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestProbe_Timeout(t *testing.T) {
	p := newTestProber(&fakeRunner{block: true}, 20*time.Millisecond)

	_, err := p.Probe(context.Background(), "slow.mp4")
	assert.ErrorIs(t, err, ErrTimeout)
}

// A hanging tool behind the real process runner must still surface
// ErrTimeout, not the "signal: killed" exit error, and must return close to
// the deadline rather than waiting out the tool.
func TestProbe_TimeoutWithExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell stub")
	}

	stub := filepath.Join(t.TempDir(), "slow-ffprobe")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\nexec sleep 10\n"), 0o755))

	p := New(toolchain.ExecRunner{}, stub, 200*time.Millisecond, hclog.NewNullLogger())

	start := time.Now()
	_, err := p.Probe(context.Background(), "slow.mp4")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 5*time.Second, "probe must not wait out the hung tool")
}

func TestProbe_SpawnFailureStaysRetryable(t *testing.T) {
	spawn := &toolchain.SpawnError{Tool: "ffprobe", Err: errors.New("executable not found")}
	p := newTestProber(&fakeRunner{err: spawn}, time.Second)

	_, err := p.Probe(context.Background(), "a.mp4")
	require.Error(t, err)

	var se *toolchain.SpawnError
	assert.ErrorAs(t, err, &se)
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 23.976, parseFrameRate("24000/1001"), 0.001)
	assert.Equal(t, 30.0, parseFrameRate("30/1"))
	assert.Equal(t, 25.0, parseFrameRate("25"))
	assert.Equal(t, 0.0, parseFrameRate("30/0"))
	assert.Equal(t, 0.0, parseFrameRate(""))
}
