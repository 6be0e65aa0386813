package encode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/vodforge/internal/plan"
	"github.com/mantonx/vodforge/internal/toolchain"
)

var rung720 = plan.Descriptor{Label: "720p", Width: 1280, Height: 720}

// fakeProcess emulates a running ffmpeg: it writes the output file when
// asked, streams canned progress on stderr, and returns a configured exit
// error from Wait.
type fakeProcess struct {
	stderr    io.Reader
	waitErr   error
	onWait    func()
	ctx       context.Context
	honourCtx bool
}

func (p *fakeProcess) Stderr() io.Reader { return p.stderr }

func (p *fakeProcess) Wait() error {
	if p.onWait != nil {
		p.onWait()
	}
	if p.honourCtx {
		<-p.ctx.Done()
		return errors.New("signal: killed")
	}
	return p.waitErr
}

type fakeEncodeRunner struct {
	// output written to the invocation's destination path when the fake
	// process "finishes"; empty means write nothing.
	fileContent string
	waitErr     error
	spawnErr    error
	stderr      string
	hang        bool

	gotArgs [][]string
}

func (f *fakeEncodeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.gotArgs = append(f.gotArgs, args)
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	dest := args[len(args)-1]
	if f.fileContent != "" {
		if err := os.WriteFile(dest, []byte(f.fileContent), 0o644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeEncodeRunner) Start(ctx context.Context, name string, args ...string) (toolchain.Process, error) {
	f.gotArgs = append(f.gotArgs, args)
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	dest := args[len(args)-1]
	proc := &fakeProcess{
		stderr:    strings.NewReader(f.stderr),
		waitErr:   f.waitErr,
		ctx:       ctx,
		honourCtx: f.hang,
	}
	proc.onWait = func() {
		if f.fileContent != "" {
			os.WriteFile(dest, []byte(f.fileContent), 0o644)
		}
	}
	return proc, nil
}

func newTestExecutor(t *testing.T, runner toolchain.Runner) *Executor {
	t.Helper()
	return NewExecutor(runner, "ffmpeg", t.TempDir(), hclog.NewNullLogger())
}

func TestEncode_Success(t *testing.T) {
	runner := &fakeEncodeRunner{
		fileContent: "mp4 payload",
		stderr:      "out_time_us=30000000\nprogress=continue\nout_time_us=60000000\nprogress=end\n",
	}
	ex := newTestExecutor(t, runner)

	var fractions []float64
	artifact, err := ex.Encode(context.Background(), "job-1", "/uploads/in.mov", rung720, 60, func(f float64) {
		fractions = append(fractions, f)
	})
	require.NoError(t, err)

	assert.Equal(t, ex.OutputPath("job-1", "720p"), artifact.Path)
	assert.Equal(t, int64(len("mp4 payload")), artifact.SizeBytes)
	assert.FileExists(t, artifact.Path)

	require.NotEmpty(t, fractions)
	assert.InDelta(t, 0.5, fractions[0], 0.001)
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

// Behind the real process runner, every stderr progress frame must be read
// before the process is reaped; losing the final progress=end frame would
// leave the job's last reported fraction short of 1.0.
func TestEncode_ExecRunnerDeliversFinalProgress(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell stub")
	}

	stub := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := `#!/bin/sh
for a in "$@"; do dest="$a"; done
printf 'out_time_us=5000000\nprogress=continue\nout_time_us=10000000\nprogress=end\n' >&2
printf 'mp4 payload' > "$dest"
`
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	ex := NewExecutor(toolchain.ExecRunner{}, stub, t.TempDir(), hclog.NewNullLogger())

	var fractions []float64
	artifact, err := ex.Encode(context.Background(), "job-real", "/uploads/in.mov", rung720, 10, func(f float64) {
		fractions = append(fractions, f)
	})
	require.NoError(t, err)
	assert.FileExists(t, artifact.Path)

	require.NotEmpty(t, fractions)
	assert.Contains(t, fractions, 0.5)
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

func TestEncode_ArgsCarryQualityPolicy(t *testing.T) {
	runner := &fakeEncodeRunner{fileContent: "x"}
	ex := newTestExecutor(t, runner)

	_, err := ex.Encode(context.Background(), "job-2", "src.mp4", rung720, 10, nil)
	require.NoError(t, err)

	args := strings.Join(runner.gotArgs[0], " ")
	assert.Contains(t, args, "-c:v libx264")
	assert.Contains(t, args, "-preset medium")
	assert.Contains(t, args, "-crf 23")
	assert.Contains(t, args, "-maxrate 2500k")
	assert.Contains(t, args, "-bufsize 5000k")
	assert.Contains(t, args, "-vf scale=-2:720")
	assert.Contains(t, args, "-b:a 128k")
	assert.Contains(t, args, "-movflags +faststart")
	assert.Contains(t, args, "-progress pipe:2")
	assert.True(t, strings.HasSuffix(args, ex.OutputPath("job-2", "720p")))
}

func TestEncode_NonzeroExitRemovesPartialOutput(t *testing.T) {
	runner := &fakeEncodeRunner{fileContent: "partial", waitErr: errors.New("exit status 1")}
	ex := newTestExecutor(t, runner)

	_, err := ex.Encode(context.Background(), "job-3", "src.mp4", rung720, 10, nil)
	require.Error(t, err)

	var encErr *Error
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "720p", encErr.Rung.Label)
	assert.Contains(t, err.Error(), "720p")

	assert.NoFileExists(t, ex.OutputPath("job-3", "720p"))
}

func TestEncode_EmptyOutputFails(t *testing.T) {
	runner := &fakeEncodeRunner{}
	ex := newTestExecutor(t, runner)
	// Produce an empty file where the artifact should be.
	dest := ex.OutputPath("job-4", "720p")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, nil, 0o644))

	_, err := ex.Encode(context.Background(), "job-4", "src.mp4", rung720, 10, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
	assert.NoFileExists(t, dest)
}

func TestEncode_MissingOutputFails(t *testing.T) {
	runner := &fakeEncodeRunner{}
	ex := newTestExecutor(t, runner)

	_, err := ex.Encode(context.Background(), "job-5", "src.mp4", rung720, 10, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output missing")
}

func TestEncode_CancellationKillsAndCleansUp(t *testing.T) {
	runner := &fakeEncodeRunner{fileContent: "partial", hang: true}
	ex := newTestExecutor(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()

	_, err := ex.Encode(ctx, "job-6", "src.mp4", rung720, 10, nil)
	require.Error(t, err)

	var encErr *Error
	require.ErrorAs(t, err, &encErr)
	assert.NoFileExists(t, ex.OutputPath("job-6", "720p"))
}

func TestEncode_SpawnFailurePropagates(t *testing.T) {
	spawn := &toolchain.SpawnError{Tool: "ffmpeg", Err: errors.New("not found")}
	runner := &fakeEncodeRunner{spawnErr: spawn}
	ex := newTestExecutor(t, runner)

	_, err := ex.Encode(context.Background(), "job-7", "src.mp4", rung720, 10, nil)
	var se *toolchain.SpawnError
	assert.ErrorAs(t, err, &se)
}

func TestGenerateThumbnail(t *testing.T) {
	runner := &fakeEncodeRunner{fileContent: "jpeg bytes"}
	ex := newTestExecutor(t, runner)

	path, err := ex.GenerateThumbnail(context.Background(), "job-8", "src.mp4", 120)
	require.NoError(t, err)
	assert.Equal(t, ex.ThumbnailPath("job-8"), path)
	assert.FileExists(t, path)

	args := strings.Join(runner.gotArgs[0], " ")
	assert.Contains(t, args, "-ss 5.00")
	assert.Contains(t, args, "-frames:v 1")
	assert.Contains(t, args, "-c:v mjpeg")
}

func TestGenerateThumbnail_ToolFailure(t *testing.T) {
	runner := &fakeEncodeRunner{waitErr: errors.New("exit status 1")}
	ex := newTestExecutor(t, runner)

	_, err := ex.GenerateThumbnail(context.Background(), "job-9", "src.mp4", 120)
	var thumbErr *ThumbnailError
	assert.ErrorAs(t, err, &thumbErr)
}

func TestThumbnailOffset(t *testing.T) {
	assert.Equal(t, 5.0, ThumbnailOffset(120))          // capped at 5s
	assert.InDelta(t, 1.0, ThumbnailOffset(10), 1e-9)   // 10% in
	assert.InDelta(t, 0.08, ThumbnailOffset(0.8), 1e-9) // very short clips still get a frame
	assert.Equal(t, 0.0, ThumbnailOffset(0))            // unknown duration
	assert.Equal(t, 0.0, ThumbnailOffset(-3))           // never negative
}
