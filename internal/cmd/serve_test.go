package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/ytgrab/internal/config"
	"github.com/3leaps/ytgrab/pkg/sandbox"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "myapp",
			envPrefix:  "",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDownloadDirHealthChecker(t *testing.T) {
	t.Run("nil sandbox", func(t *testing.T) {
		err := downloadDirHealthChecker{}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
	})

	t.Run("writable default dir", func(t *testing.T) {
		base := t.TempDir()
		sb, err := sandbox.New(base, filepath.Join(base, "ytdl"))
		require.NoError(t, err)

		assert.NoError(t, downloadDirHealthChecker{sandbox: sb}.CheckHealth(context.Background()))
		assert.DirExists(t, filepath.Join(sb.Base(), "ytdl"))
	})

	t.Run("default dir replaced by a file", func(t *testing.T) {
		base := t.TempDir()
		sb, err := sandbox.New(base, filepath.Join(base, "ytdl"))
		require.NoError(t, err)
		require.NoError(t, os.RemoveAll(sb.DefaultDir()))
		require.NoError(t, os.WriteFile(sb.DefaultDir(), []byte("x"), 0o644))

		err = downloadDirHealthChecker{sandbox: sb}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "download directory")
	})
}

func TestYTDLPHealthChecker(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	err := ytdlpHealthChecker{binary: "yt-dlp-missing"}.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yt-dlp-missing")
}

func TestBuildService(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{
		Logging:   config.LoggingConfig{Level: "error", Profile: "structured"},
		Downloads: config.DownloadsConfig{AllowedBaseDir: base, DefaultDir: filepath.Join(base, "ytdl"), HostDir: "/host/downloads"},
		YTDLP:     config.YTDLPConfig{Binary: "yt-dlp", MergeFormat: "mp4"},
		Jobs:      config.JobsConfig{SubscriberBuffer: 8, SampleBuffer: 8},
	}

	svc, err := buildService(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.manager.Shutdown(context.Background()) })

	assert.NotNil(t, svc.manager)
	assert.NotNil(t, svc.prober)
	assert.Nil(t, svc.publisher)
	assert.True(t, svc.display.Enabled())
	assert.Empty(t, svc.manager.List())
}

func TestBuildServiceRejectsBadHosts(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{
		Downloads: config.DownloadsConfig{AllowedBaseDir: base, AllowedHosts: []string{"[invalid"}},
		Jobs:      config.JobsConfig{SubscriberBuffer: 8, SampleBuffer: 8},
	}

	_, err := buildService(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, ExitConfigInvalid, ExitCode(err))
}
