// Package config loads ytgrab configuration from defaults, an optional
// YAML file, YTGRAB_* environment variables and runtime overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/ytgrab/pkg/publish"
)

// Config is the fully resolved application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Health    HealthConfig    `mapstructure:"health"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	YTDLP     YTDLPConfig     `mapstructure:"ytdlp"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Publish   PublishConfig   `mapstructure:"publish"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DownloadsConfig describes where files may be written.
type DownloadsConfig struct {
	// AllowedBaseDir contains every download. Requests outside it are rejected.
	AllowedBaseDir string `mapstructure:"allowed_base_dir"`
	// DefaultDir is used when a request names no directory.
	DefaultDir string `mapstructure:"default_dir"`
	// HostDir is the host-side path of AllowedBaseDir when running in a
	// container. Empty disables display paths.
	HostDir string `mapstructure:"host_dir"`
	// AllowedHosts restricts source URLs to matching hosts (glob patterns).
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

type YTDLPConfig struct {
	Binary         string        `mapstructure:"binary"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeRateLimit float64       `mapstructure:"probe_rate_limit"`
	MergeFormat    string        `mapstructure:"merge_format"`
	CancelGrace    time.Duration `mapstructure:"cancel_grace"`
	ExtraArgs      []string      `mapstructure:"extra_args"`
}

type JobsConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	SampleBuffer     int `mapstructure:"sample_buffer"`
}

type PublishConfig struct {
	S3 publish.S3Config `mapstructure:"s3"`
}

// Defaults returns the default value of every key, flattened to dotted paths.
func Defaults() map[string]any {
	return map[string]any{
		"server.host":             "localhost",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "0s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "10s",

		"logging.level":   "info",
		"logging.profile": "structured",

		"health.enabled": true,

		"downloads.allowed_base_dir": filepath.Join("~", "Downloads"),
		"downloads.default_dir":      filepath.Join("~", "Downloads", "ytdl"),
		"downloads.host_dir":         "",
		"downloads.allowed_hosts":    []string{},

		"ytdlp.binary":           "yt-dlp",
		"ytdlp.probe_timeout":    "60s",
		"ytdlp.probe_rate_limit": 2.0,
		"ytdlp.merge_format":     "mp4",
		"ytdlp.cancel_grace":     "5s",
		"ytdlp.extra_args":       []string{},

		"jobs.subscriber_buffer": 64,
		"jobs.sample_buffer":     32,

		"publish.s3.bucket":            "",
		"publish.s3.prefix":            "",
		"publish.s3.region":            "",
		"publish.s3.endpoint":          "",
		"publish.s3.profile":           "",
		"publish.s3.access_key_id":     "",
		"publish.s3.secret_access_key": "",
		"publish.s3.force_path_style":  false,
	}
}

var mergeFormats = map[string]bool{"": true, "mp4": true, "mkv": true, "webm": true, "mov": true}

// Validate checks values that cannot be corrected silently.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Downloads.AllowedBaseDir) == "" {
		return fmt.Errorf("downloads.allowed_base_dir is required")
	}
	if !mergeFormats[strings.ToLower(c.YTDLP.MergeFormat)] {
		return fmt.Errorf("ytdlp.merge_format: unsupported container %q", c.YTDLP.MergeFormat)
	}
	if c.YTDLP.ProbeRateLimit < 0 {
		return fmt.Errorf("ytdlp.probe_rate_limit must not be negative")
	}
	if c.Jobs.SubscriberBuffer <= 0 || c.Jobs.SampleBuffer <= 0 {
		return fmt.Errorf("jobs buffers must be positive")
	}
	if c.Publish.S3.Enabled() {
		if err := c.Publish.S3.Validate(); err != nil {
			return err
		}
	}
	return nil
}
