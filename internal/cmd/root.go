// Package cmd implements the ytgrab command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/ytgrab/internal/config"
	"github.com/3leaps/ytgrab/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile     string
	verbose     bool
	appIdentity *config.Identity
)

var rootCmd = &cobra.Command{
	Use:   "ytgrab",
	Short: "Single-host media download service built on yt-dlp",
	Long: `ytgrab probes media URLs, downloads the chosen format into a sandboxed
directory and streams job progress over HTTP and websockets.

Examples:
  ytgrab serve --port 8080
  ytgrab probe https://www.youtube.com/watch?v=dQw4w9WgXcQ
  ytgrab fetch https://www.youtube.com/watch?v=dQw4w9WgXcQ --format 22
  ytgrab doctor`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity set during startup, or nil.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	setDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: <user config dir>/ytgrab/ytgrab.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose CLI output")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("download-dir", "", "Allowed base directory for downloads")
	rootCmd.PersistentFlags().String("ytdlp", "", "Path to the yt-dlp binary")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("downloads.allowed_base_dir", rootCmd.PersistentFlags().Lookup("download-dir"))
	_ = viper.BindPFlag("ytdlp.binary", rootCmd.PersistentFlags().Lookup("ytdlp"))
}

// setDefaults mirrors the config defaults into the global viper instance
// that command flags are bound to.
func setDefaults() {
	for key, value := range config.Defaults() {
		viper.SetDefault(key, value)
	}
}

// flagKeys maps flags to config keys. Only flags the user set become
// runtime overrides.
var flagKeys = map[string]string{
	"log-level":    "logging.level",
	"download-dir": "downloads.allowed_base_dir",
	"ytdlp":        "ytdlp.binary",
	"host":         "server.host",
	"port":         "server.port",
	"default-dir":  "downloads.default_dir",
	"host-dir":     "downloads.host_dir",
}

func runtimeOverrides(cmd *cobra.Command) map[string]any {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		overrides[key] = viper.Get(key)
	}
	return overrides
}

func initApp(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("ytgrab", verbose)

	id := config.DefaultIdentity
	appIdentity = &id
	config.SetIdentity(id)
	config.SetConfigFile(cfgFile)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := config.Load(ctx, runtimeOverrides(cmd)); err != nil {
		return exitError(ExitConfigInvalid, "Invalid configuration", err)
	}
	return nil
}

// loadedConfig returns the configuration loaded by initApp.
func loadedConfig() (*config.Config, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
