package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/ytgrab/internal/observability"
	"github.com/3leaps/ytgrab/pkg/publish"
	"github.com/3leaps/ytgrab/pkg/sandbox"
	"github.com/3leaps/ytgrab/pkg/ytdlp"
)

var doctorS3 bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  ytgrab doctor         # Full environment check
  ytgrab doctor --s3    # Also check S3 publishing credentials and bucket`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorS3, "s3", false, "Run S3 publishing checks")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log := observability.CLILogger
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(ExitConfigInvalid, "Configuration not loaded", err)
	}

	allChecks := true
	checkNum := 1
	totalChecks := 6
	if doctorS3 {
		totalChecks = 8
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	log.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
		zap.String("go_version", goVersion))
	checkNum++

	// Checks 2-3: external tools
	deps := ytdlp.DependencyStatus(cfg.YTDLP.Binary)
	if deps.YTDLPFound {
		log.Info(fmt.Sprintf("[%d/%d] Checking yt-dlp... ✅ %s", checkNum, totalChecks, deps.YTDLPPath),
			zap.String("ytdlp_path", deps.YTDLPPath))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking yt-dlp... ❌ %q not found on PATH", checkNum, totalChecks, cfg.YTDLP.Binary))
		log.Info("  Install with 'pipx install yt-dlp' or set ytdlp.binary / YTGRAB_YTDLP_BINARY")
		allChecks = false
	}
	checkNum++

	if deps.FFmpegFound {
		log.Info(fmt.Sprintf("[%d/%d] Checking ffmpeg... ✅ %s", checkNum, totalChecks, deps.FFmpegPath),
			zap.String("ffmpeg_path", deps.FFmpegPath))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking ffmpeg... ❌ not found on PATH (needed to merge audio and video)", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
			zap.String("config_dir", configDir))
	}
	checkNum++

	// Check 5: Download directory
	sb, err := sandbox.New(cfg.Downloads.AllowedBaseDir, cfg.Downloads.DefaultDir)
	if err == nil {
		_, err = sb.Resolve("")
	}
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking download directory... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking download directory... ✅ %s", checkNum, totalChecks, sb.DefaultDir()),
			zap.String("allowed_base_dir", sb.Base()),
			zap.String("default_dir", sb.DefaultDir()))
	}
	checkNum++

	// Check 6: Environment
	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorS3 {
		allChecks = runS3Checks(cmd.Context(), cfg.Publish.S3, checkNum, totalChecks) && allChecks
	}

	log.Info("")
	if allChecks {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")

	if !allChecks {
		return exitError(ExitExternalServiceUnavailable, "Diagnostics failed", nil)
	}
	return nil
}

// runS3Checks verifies credentials and bucket access for publishing.
func runS3Checks(ctx context.Context, s3cfg publish.S3Config, checkNum, totalChecks int) bool {
	log := observability.CLILogger
	log.Info("")
	log.Info("S3 Publishing Checks:")

	var loadOpts []func(*awsconfig.LoadOptions) error
	if s3cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(s3cfg.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	if s3cfg.AccessKeyID == "" {
		creds, err := cfg.Credentials.Retrieve(ctx)
		if err != nil {
			log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
				zap.Error(err))
			printAWSCredentialsHelp()
			return false
		}
		log.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
			zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
			zap.String("source", creds.Source))
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Static credentials from config", checkNum, totalChecks),
			zap.String("access_key", maskAccessKey(s3cfg.AccessKeyID)))
	}
	checkNum++

	if !s3cfg.Enabled() {
		log.Error(fmt.Sprintf("[%d/%d] Checking publish bucket... ❌ publish.s3.bucket is not set", checkNum, totalChecks))
		return false
	}
	pub, err := publish.NewS3(ctx, s3cfg, observability.CLILogger)
	if err == nil {
		err = pub.Check(ctx)
	}
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking publish bucket... ❌ %v", checkNum, totalChecks, err))
		if publish.IsAccessDenied(err) {
			printAWSCredentialsHelp()
		}
		return false
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking publish bucket... ✅ s3://%s", checkNum, totalChecks, pub.Bucket()))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' and set publish.s3.profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	log.Info("  - publish.s3.endpoint (YTGRAB_S3_ENDPOINT)")
	log.Info("")
}
