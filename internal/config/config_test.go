package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "ffmpeg", cfg.Transcoding.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.Transcoding.FFprobePath)
	assert.Equal(t, 0, cfg.Transcoding.WorkerCount)
	assert.Equal(t, 30*time.Minute, cfg.Transcoding.JobTimeout)
	assert.Equal(t, 30*time.Second, cfg.Transcoding.ProbeTimeout)
	assert.False(t, cfg.Watcher.Enabled)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
transcoding:
  worker_count: 3
  job_timeout: 45m
  output_dir: /srv/transcodes
watcher:
  enabled: true
  incoming_dir: /srv/incoming
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Transcoding.WorkerCount)
	assert.Equal(t, 45*time.Minute, cfg.Transcoding.JobTimeout)
	assert.Equal(t, "/srv/transcodes", cfg.Transcoding.OutputDir)
	assert.True(t, cfg.Watcher.Enabled)
	// Untouched values keep their defaults.
	assert.Equal(t, "ffmpeg", cfg.Transcoding.FFmpegPath)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("VODFORGE_PORT", "7070")
	t.Setenv("VODFORGE_WORKER_COUNT", "4")
	t.Setenv("VODFORGE_JOB_TIMEOUT", "1h")
	t.Setenv("VODFORGE_LOG_JSON", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Transcoding.WorkerCount)
	assert.Equal(t, time.Hour, cfg.Transcoding.JobTimeout)
	assert.True(t, cfg.Logging.JSON)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Transcoding.QueueSize = 0
	assert.Error(t, cfg.validate())

	cfg = Default()
	cfg.Watcher.Enabled = true
	assert.ErrorContains(t, cfg.validate(), "incoming_dir")

	cfg = Default()
	cfg.Transcoding.WorkerCount = -1
	assert.Error(t, cfg.validate())
}
