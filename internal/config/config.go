// Package config holds the application configuration, loaded from defaults,
// an optional YAML file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Transcoding TranscodingConfig `yaml:"transcoding"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds the HTTP status API configuration.
type ServerConfig struct {
	Host       string `yaml:"host" env:"VODFORGE_HOST"`
	Port       int    `yaml:"port" env:"VODFORGE_PORT"`
	EnableCORS bool   `yaml:"enable_cors" env:"VODFORGE_ENABLE_CORS"`
}

// DatabaseConfig selects and configures the job store backend.
type DatabaseConfig struct {
	Type       string `yaml:"type" env:"VODFORGE_DB_TYPE"`
	Path       string `yaml:"path" env:"VODFORGE_DB_PATH"`
	DSN        string `yaml:"dsn" env:"VODFORGE_DB_DSN"`
	LogQueries bool   `yaml:"log_queries" env:"VODFORGE_DB_LOG_QUERIES"`
}

// TranscodingConfig controls the pipeline itself.
type TranscodingConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" env:"VODFORGE_FFMPEG_PATH"`
	FFprobePath string `yaml:"ffprobe_path" env:"VODFORGE_FFPROBE_PATH"`
	OutputDir   string `yaml:"output_dir" env:"VODFORGE_OUTPUT_DIR"`

	// WorkerCount of 0 sizes the pool from the machine's CPU and memory.
	WorkerCount  int           `yaml:"worker_count" env:"VODFORGE_WORKER_COUNT"`
	QueueSize    int           `yaml:"queue_size" env:"VODFORGE_QUEUE_SIZE"`
	JobTimeout   time.Duration `yaml:"job_timeout" env:"VODFORGE_JOB_TIMEOUT"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"VODFORGE_PROBE_TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"VODFORGE_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"VODFORGE_RETRY_BACKOFF"`
}

// WatcherConfig controls the upload-directory watcher.
type WatcherConfig struct {
	Enabled     bool          `yaml:"enabled" env:"VODFORGE_WATCH_ENABLED"`
	IncomingDir string        `yaml:"incoming_dir" env:"VODFORGE_WATCH_DIR"`
	SettleDelay time.Duration `yaml:"settle_delay" env:"VODFORGE_WATCH_SETTLE_DELAY"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"VODFORGE_LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"VODFORGE_LOG_JSON"`
}

// Default returns the default application configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			EnableCORS: true,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "data/vodforge.db",
		},
		Transcoding: TranscodingConfig{
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
			OutputDir:    "data/transcodes",
			WorkerCount:  0, // auto-detect
			QueueSize:    100,
			JobTimeout:   30 * time.Minute,
			ProbeTimeout: 30 * time.Second,
			MaxRetries:   2,
			RetryBackoff: 2 * time.Second,
		},
		Watcher: WatcherConfig{
			Enabled:     false,
			SettleDelay: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// it exists), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file is fine; defaults plus env apply.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(reflect.ValueOf(cfg).Elem())

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Transcoding.QueueSize <= 0 {
		return fmt.Errorf("transcoding.queue_size must be positive")
	}
	if c.Transcoding.WorkerCount < 0 {
		return fmt.Errorf("transcoding.worker_count must not be negative")
	}
	if c.Transcoding.JobTimeout <= 0 {
		return fmt.Errorf("transcoding.job_timeout must be positive")
	}
	if c.Watcher.Enabled && c.Watcher.IncomingDir == "" {
		return fmt.Errorf("watcher.incoming_dir is required when the watcher is enabled")
	}
	return nil
}

// applyEnvOverrides walks the config struct and applies any environment
// variables named in `env` tags.
func applyEnvOverrides(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			applyEnvOverrides(field)
			continue
		}

		envName := t.Field(i).Tag.Get("env")
		if envName == "" {
			continue
		}
		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		setField(field, raw)
	}
}

func setField(field reflect.Value, raw string) {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		if d, err := time.ParseDuration(raw); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(n)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			field.SetFloat(f)
		}
	}
}
