package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/ytgrab/internal/observability"
	"github.com/3leaps/ytgrab/pkg/media"
)

var probeOutput string

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Show title and available formats for a media URL",
	Long: `Query yt-dlp for a URL's metadata without downloading anything.

Formats are listed highest resolution first.

Examples:
  ytgrab probe https://www.youtube.com/watch?v=dQw4w9WgXcQ
  ytgrab probe https://youtu.be/dQw4w9WgXcQ --output yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "json", "Output format (json|yaml)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := validateOutputFormat(probeOutput); err != nil {
		return exitError(ExitInvalidArgument, "Invalid output format", err)
	}
	cfg, err := loadedConfig()
	if err != nil {
		return exitError(ExitConfigInvalid, "Configuration not loaded", err)
	}
	svc, err := buildService(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	res, err := svc.prober.Probe(cmd.Context(), args[0])
	if err != nil {
		observability.CLILogger.Error("Probe failed", zap.String("url", args[0]), zap.Error(err))
		if media.IsInvalidURL(err) {
			return exitError(ExitInvalidArgument, "Invalid URL", err)
		}
		return exitError(ExitExternalServiceUnavailable, "Probe failed", err)
	}
	return writeOutput(os.Stdout, probeOutput, res)
}

func validateOutputFormat(format string) error {
	switch strings.ToLower(format) {
	case "json", "yaml":
		return nil
	}
	return fmt.Errorf("unsupported output format %q (expected json or yaml)", format)
}

func writeOutput(w io.Writer, format string, v any) error {
	if strings.EqualFold(format, "yaml") {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
