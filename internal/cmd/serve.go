package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/ytgrab/internal/config"
	"github.com/3leaps/ytgrab/internal/observability"
	"github.com/3leaps/ytgrab/internal/server"
	"github.com/3leaps/ytgrab/internal/server/handlers"
	"github.com/3leaps/ytgrab/pkg/jobregistry"
	"github.com/3leaps/ytgrab/pkg/media"
	"github.com/3leaps/ytgrab/pkg/publish"
	"github.com/3leaps/ytgrab/pkg/sandbox"
	"github.com/3leaps/ytgrab/pkg/ytdlp"
)

var serveOrigins []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download API server",
	Long: `Run the HTTP API and websocket progress stream.

Downloads are confined to downloads.allowed_base_dir. Jobs live in memory
and are cancelled when the server stops.

Examples:
  ytgrab serve
  ytgrab serve --host 0.0.0.0 --port 9000
  ytgrab serve --download-dir /data --host-dir /Users/me/Downloads`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "Listen host")
	serveCmd.Flags().Int("port", 8080, "Listen port")
	serveCmd.Flags().String("default-dir", "", "Directory used when a request names none")
	serveCmd.Flags().String("host-dir", "", "Host-side path of the download directory (container deployments)")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "allow-origin", nil, "Origin patterns allowed to open websocket streams")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("downloads.default_dir", serveCmd.Flags().Lookup("default-dir"))
	_ = viper.BindPFlag("downloads.host_dir", serveCmd.Flags().Lookup("host-dir"))
}

// service holds the components shared by serve and fetch.
type service struct {
	cfg       *config.Config
	logger    *zap.Logger
	sandbox   *sandbox.Sandbox
	display   *sandbox.DisplayMapper
	prober    *ytdlp.Prober
	fetcher   *ytdlp.Fetcher
	publisher *publish.S3Publisher
	manager   *jobregistry.Manager
}

func buildService(ctx context.Context, cfg *config.Config) (*service, error) {
	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return nil, exitError(ExitConfigInvalid, "Invalid logging configuration", err)
	}

	sb, err := sandbox.New(cfg.Downloads.AllowedBaseDir, cfg.Downloads.DefaultDir)
	if err != nil {
		return nil, exitError(ExitFileWriteError, "Download directory unusable", err)
	}

	policy, err := media.NewURLPolicy(cfg.Downloads.AllowedHosts)
	if err != nil {
		return nil, exitError(ExitConfigInvalid, "Invalid downloads.allowed_hosts", err)
	}

	prober := ytdlp.NewProber(ytdlp.ProberConfig{
		Binary:    cfg.YTDLP.Binary,
		Timeout:   cfg.YTDLP.ProbeTimeout,
		RateLimit: cfg.YTDLP.ProbeRateLimit,
		Policy:    policy,
		ExtraArgs: cfg.YTDLP.ExtraArgs,
		Logger:    logger,
	})
	fetcher := ytdlp.NewFetcher(ytdlp.FetcherConfig{
		Binary:      cfg.YTDLP.Binary,
		CancelGrace: cfg.YTDLP.CancelGrace,
		ExtraArgs:   cfg.YTDLP.ExtraArgs,
		Logger:      logger,
	})

	svc := &service{
		cfg:     cfg,
		logger:  logger,
		sandbox: sb,
		display: sandbox.NewDisplayMapper(sb.Base(), cfg.Downloads.HostDir),
		prober:  prober,
		fetcher: fetcher,
	}

	opts := []jobregistry.Option{
		jobregistry.WithLogger(logger),
		jobregistry.WithURLPolicy(policy),
		jobregistry.WithMergeFormat(cfg.YTDLP.MergeFormat),
		jobregistry.WithSubscriberBuffer(cfg.Jobs.SubscriberBuffer),
		jobregistry.WithSampleBuffer(cfg.Jobs.SampleBuffer),
	}
	if svc.display.Enabled() {
		opts = append(opts, jobregistry.WithDisplayMapper(svc.display))
	}
	if cfg.Publish.S3.Enabled() {
		pub, err := publish.NewS3(ctx, cfg.Publish.S3, logger)
		if err != nil {
			return nil, exitError(ExitExternalServiceUnavailable, "Failed to configure S3 publishing", err)
		}
		svc.publisher = pub
		opts = append(opts, jobregistry.WithPublisher(pub))
	}

	svc.manager = jobregistry.NewManager(prober, fetcher, sb, opts...)
	return svc, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return exitError(ExitConfigInvalid, "Configuration not loaded", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg)
	if err != nil {
		observability.CLILogger.Error("Failed to start", zap.Error(err))
		return err
	}
	logger := svc.logger
	defer func() { _ = logger.Sync() }()

	if err := ytdlp.CheckDependencies(cfg.YTDLP.Binary); err != nil {
		logger.Warn("Missing media tools; downloads will fail until installed", zap.Error(err))
	}

	if cfg.Health.Enabled {
		registerHealthChecks(svc)
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithLogger(logger),
		server.WithJobs(svc.manager, svc.prober),
		server.WithOriginPatterns(serveOrigins),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
	)

	logger.Info("Starting ytgrab server",
		zap.String("addr", srv.Addr()),
		zap.String("allowed_base_dir", svc.sandbox.Base()),
		zap.String("default_dir", svc.sandbox.DefaultDir()),
		zap.String("version", versionInfo.Version))

	serveErr := srv.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := svc.manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Jobs did not stop before timeout", zap.Error(err))
	}

	if serveErr != nil {
		logger.Error("Server failed", zap.Error(serveErr))
		return exitError(ExitFailure, "Server failed", serveErr)
	}
	logger.Info("Server stopped")
	return nil
}

func registerHealthChecks(svc *service) {
	hm := handlers.InitHealthManager(versionInfo.Version)
	hm.RegisterChecker("signals", signalHealthChecker{})

	id := config.DefaultIdentity
	if appIdentity != nil {
		id = *appIdentity
	}
	hm.RegisterChecker("identity", identityHealthChecker{
		binaryName: id.BinaryName,
		envPrefix:  id.EnvPrefix,
		configName: id.ConfigName,
	})
	hm.RegisterChecker("download_dir", downloadDirHealthChecker{sandbox: svc.sandbox})
	hm.RegisterChecker("ytdlp", ytdlpHealthChecker{binary: svc.cfg.YTDLP.Binary})
	if svc.publisher != nil {
		hm.RegisterChecker("s3", s3HealthChecker{publisher: svc.publisher})
	}

	hm.SetInfo("allowed_base_dir", svc.sandbox.Base())
	hm.SetInfo("default_dir", svc.sandbox.DefaultDir())
	if svc.display.Enabled() {
		hm.SetInfo("host_dir", svc.cfg.Downloads.HostDir)
	}
}

// signalHealthChecker reports healthy while the process is handling signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("identity: missing env prefix")
	case c.configName == "":
		return errors.New("identity: missing config name")
	}
	return nil
}

// downloadDirHealthChecker verifies the default directory is still writable.
type downloadDirHealthChecker struct {
	sandbox *sandbox.Sandbox
}

func (c downloadDirHealthChecker) CheckHealth(context.Context) error {
	if c.sandbox == nil {
		return errors.New("download directory not configured")
	}
	if _, err := c.sandbox.Resolve(""); err != nil {
		return fmt.Errorf("download directory: %w", err)
	}
	return nil
}

type ytdlpHealthChecker struct {
	binary string
}

func (c ytdlpHealthChecker) CheckHealth(context.Context) error {
	return ytdlp.CheckDependencies(c.binary)
}

// s3HealthChecker confirms the publish bucket is reachable.
type s3HealthChecker struct {
	publisher *publish.S3Publisher
}

func (c s3HealthChecker) CheckHealth(ctx context.Context) error {
	return c.publisher.Check(ctx)
}
