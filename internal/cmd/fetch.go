package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/ytgrab/internal/observability"
	"github.com/3leaps/ytgrab/pkg/jobregistry"
	"github.com/3leaps/ytgrab/pkg/output"
)

var (
	fetchFormat    string
	fetchTargetDir string
	fetchQuiet     bool
	fetchJSONL     bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download one media URL and wait for it to finish",
	Long: `Run a single download job in the foreground.

The job goes through the same sandbox, naming and progress rules as jobs
submitted to the server. Progress is logged to stderr; the final job is
printed to stdout as JSON. With --jsonl every event and the final job are
written to stdout as JSON Lines instead. Ctrl-C cancels the download.

Examples:
  ytgrab fetch https://www.youtube.com/watch?v=dQw4w9WgXcQ --format 22
  ytgrab fetch https://youtu.be/dQw4w9WgXcQ --format 137 --target-dir music`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVarP(&fetchFormat, "format", "f", "", "Format id or selector (required)")
	fetchCmd.Flags().StringVarP(&fetchTargetDir, "target-dir", "t", "", "Target directory inside the download base")
	fetchCmd.Flags().BoolVarP(&fetchQuiet, "quiet", "q", false, "Suppress progress output")
	fetchCmd.Flags().BoolVar(&fetchJSONL, "jsonl", false, "Write events and the final job to stdout as JSON Lines")
	_ = fetchCmd.MarkFlagRequired("format")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return exitError(ExitConfigInvalid, "Configuration not loaded", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}

	job, err := svc.manager.Start(ctx, jobregistry.StartRequest{
		URL:            args[0],
		FormatSelector: fetchFormat,
		TargetDir:      fetchTargetDir,
	})
	if err != nil {
		observability.CLILogger.Error("Download rejected", zap.Error(err))
		if jobregistry.KindOf(err) == jobregistry.KindPathNotWritable {
			return exitError(ExitFileWriteError, "Download rejected", err)
		}
		return exitError(ExitInvalidArgument, "Download rejected", err)
	}

	sub, err := svc.manager.Subscribe(job.ID)
	if err != nil {
		return exitError(ExitFailure, "Subscribe failed", err)
	}
	defer sub.Close()

	var records output.Writer
	if fetchJSONL {
		records = output.NewJSONLWriter(os.Stdout, job.ID)
		defer func() { _ = records.Close() }()
	}

	interrupted := false
	for done := false; !done; {
		select {
		case <-ctx.Done():
			if !interrupted {
				interrupted = true
				observability.CLILogger.Warn("Cancelling download", zap.String("job_id", job.ID))
				_ = svc.manager.Cancel(job.ID)
			}
			// Keep draining until the job reports its terminal state.
			ctx = cmd.Context()
		case ev, ok := <-sub.Events:
			if !ok {
				done = true
				break
			}
			switch {
			case records != nil:
				if err := records.WriteEvent(cmd.Context(), ev); err != nil {
					return exitError(ExitFileWriteError, "Failed to write event", err)
				}
			case !fetchQuiet:
				logEvent(job.ID, ev)
			}
		}
	}

	final, err := svc.manager.Wait(cmd.Context(), job.ID)
	if err != nil {
		return exitError(ExitFailure, "Wait failed", err)
	}
	if records != nil {
		err = records.WriteJob(cmd.Context(), final)
	} else {
		err = writeOutput(os.Stdout, "json", final)
	}
	if err != nil {
		return exitError(ExitFileWriteError, "Failed to write result", err)
	}

	switch final.Status {
	case jobregistry.StatusSucceeded:
		return nil
	case jobregistry.StatusCancelled:
		return exitError(ExitSignalInt, "Download cancelled", nil)
	default:
		msg := "download failed"
		if final.Error != nil {
			msg = final.Error.Message
		}
		return exitError(ExitFailure, "Download failed", fmt.Errorf("%s", msg))
	}
}

func logEvent(jobID string, ev jobregistry.Event) {
	log := observability.CLILogger.With(zap.String("job_id", jobID))
	switch e := ev.(type) {
	case jobregistry.StatusEvent:
		log.Info("Status", zap.String("status", string(e.Status)))
	case jobregistry.ProgressEvent:
		log.Info(fmt.Sprintf("Progress %3d%%", e.Percent),
			zap.Int64("bytes_downloaded", e.BytesDownloaded),
			zap.Int64("bytes_total", e.BytesTotal),
			zap.Float64("speed_bps", e.Speed),
			zap.Int64("eta_seconds", e.ETA))
	case jobregistry.CompleteEvent:
		log.Info("Complete", zap.String("path", e.ResultPath))
	case jobregistry.ErrorEvent:
		log.Error("Failed", zap.String("kind", string(e.ErrKind)), zap.String("message", e.Message))
	}
}
