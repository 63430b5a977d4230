package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points user config lookups at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	SetConfigFile("")
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout, "websocket streams must not be cut off")
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)

		assert.True(t, cfg.Health.Enabled)

		assert.Equal(t, filepath.Join("~", "Downloads"), cfg.Downloads.AllowedBaseDir)
		assert.Equal(t, filepath.Join("~", "Downloads", "ytdl"), cfg.Downloads.DefaultDir)
		assert.Empty(t, cfg.Downloads.AllowedHosts)

		assert.Equal(t, "yt-dlp", cfg.YTDLP.Binary)
		assert.Equal(t, 60*time.Second, cfg.YTDLP.ProbeTimeout)
		assert.Equal(t, "mp4", cfg.YTDLP.MergeFormat)
		assert.Equal(t, 5*time.Second, cfg.YTDLP.CancelGrace)

		assert.Equal(t, 64, cfg.Jobs.SubscriberBuffer)
		assert.Equal(t, 32, cfg.Jobs.SampleBuffer)

		assert.False(t, cfg.Publish.S3.Enabled())
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("YTGRAB_PORT", "3000")
		t.Setenv("YTGRAB_LOG_LEVEL", "WARN")
		t.Setenv("YTGRAB_HEALTH_ENABLED", "false")
		t.Setenv("YTGRAB_ALLOWED_HOSTS", "*.youtube.com, youtu.be")
		t.Setenv("YTGRAB_S3_BUCKET", "media")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Health.Enabled)
		assert.Equal(t, []string{"*.youtube.com", "youtu.be"}, cfg.Downloads.AllowedHosts)
		assert.Equal(t, "media", cfg.Publish.S3.Bucket)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("YTGRAB_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "ytgrab.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7070
downloads:
  allowed_base_dir: /srv/media
  host_dir: 'D:\media'
ytdlp:
  merge_format: mkv
`), 0o644))
		SetConfigFile(path)
		defer SetConfigFile("")
		t.Setenv("YTGRAB_MERGE_FORMAT", "webm")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, "/srv/media", cfg.Downloads.AllowedBaseDir)
		assert.Equal(t, `D:\media`, cfg.Downloads.HostDir)
		assert.Equal(t, "webm", cfg.YTDLP.MergeFormat, "env beats file")
	})

	t.Run("MissingExplicitConfigFile", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
		defer SetConfigFile("")

		_, err := Load(ctx)
		require.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		isolate(t)
		tests := []struct {
			name      string
			overrides map[string]any
		}{
			{"port", map[string]any{"server": map[string]any{"port": 70000}}},
			{"merge format", map[string]any{"ytdlp": map[string]any{"merge_format": "avi"}}},
			{"buffer", map[string]any{"jobs": map[string]any{"subscriber_buffer": 0}}},
			{"s3 half creds", map[string]any{"publish": map[string]any{"s3": map[string]any{"bucket": "b", "access_key_id": "AK"}}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Load(ctx, tt.overrides)
				assert.Error(t, err)
			})
		}
	})
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	names := make(map[string]string)
	for _, spec := range specs {
		names[spec.Name] = spec.Path
	}

	assert.Equal(t, "logging.level", names["YTGRAB_LOG_LEVEL"])
	assert.Equal(t, "server.port", names["YTGRAB_PORT"])
	assert.Equal(t, "server.host", names["YTGRAB_HOST"])
	assert.Equal(t, "downloads.allowed_base_dir", names["YTGRAB_ALLOWED_BASE_DIR"])
	assert.Equal(t, "downloads.default_dir", names["YTGRAB_DEFAULT_DOWNLOAD_DIR"])

	defaults := Defaults()
	for _, spec := range specs {
		assert.Contains(t, spec.Name, "YTGRAB_")
		assert.Contains(t, defaults, spec.Path, "env var %s maps to an unknown key", spec.Name)
	}
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("YTGRAB_READ_TIMEOUT", "45s")
	t.Setenv("YTGRAB_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("YTGRAB_CANCEL_GRACE", "1500ms")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.YTDLP.CancelGrace)
}

func TestConfigReload(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	initialPort := cfg1.Server.Port

	cfg2, err := Load(ctx, map[string]any{
		"server": map[string]any{"port": initialPort + 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, initialPort+1000, cfg2.Server.Port)
	assert.Equal(t, cfg2.Server.Port, GetConfig().Server.Port)
}

// resetAppIdentity resets package state for isolated tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestGetUserConfigPathsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getUserConfigPaths())
	assert.Nil(t, GetIdentity())
}

func TestGetEnvSpecsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getEnvSpecs())
}

func TestUserConfigPaths(t *testing.T) {
	isolate(t)
	xdg := os.Getenv("XDG_CONFIG_HOME")
	_, err := Load(context.Background())
	require.NoError(t, err)

	paths := getUserConfigPaths()
	require.NotEmpty(t, paths)
	assert.Contains(t, paths, filepath.Join(xdg, "ytgrab", "ytgrab.yaml"))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "ytgrab.yaml"), paths[len(paths)-1])
}

func TestSetIdentity(t *testing.T) {
	isolate(t)
	defer SetIdentity(DefaultIdentity)

	SetIdentity(Identity{BinaryName: "other", EnvPrefix: "OTHER", ConfigName: "other"})
	t.Setenv("OTHER_PORT", "6060")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
	assert.Equal(t, "other", GetIdentity().BinaryName)
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"Server": map[string]any{"port": 1},
		"debug":  true,
	})
	assert.Equal(t, map[string]any{"server.port": 1, "debug": true}, got)
}
