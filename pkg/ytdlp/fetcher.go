package ytdlp

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/ytgrab/pkg/media"
)

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// Binary is the yt-dlp executable; empty means "yt-dlp" on PATH.
	Binary string
	// CancelGrace bounds how long yt-dlp may take to exit after an interrupt.
	CancelGrace time.Duration
	// ExtraArgs are appended before the URL, e.g. cookies or proxy flags.
	ExtraArgs []string
	Logger    *zap.Logger
}

// Fetcher downloads media by running yt-dlp.
type Fetcher struct {
	runner    runner
	extraArgs []string
}

var _ media.Fetcher = (*Fetcher)(nil)

// NewFetcher returns a Fetcher for cfg.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	return &Fetcher{
		runner:    newRunner(cfg.Binary, cfg.CancelGrace, cfg.Logger),
		extraArgs: append([]string(nil), cfg.ExtraArgs...),
	}
}

// Fetch runs one download. The output file lands next to req.OutputPath
// with the extension yt-dlp picks; the actual path is returned.
func (f *Fetcher) Fetch(ctx context.Context, req media.FetchRequest, onSample func(media.Sample)) (*media.FetchResult, error) {
	if strings.TrimSpace(req.OutputPath) == "" {
		return nil, &media.FetchError{Message: "output path is required"}
	}

	args := f.args(req)
	var finalPath string
	res, err := f.runner.run(ctx, args, func(stream Stream, line string) {
		if s, ok := parseProgressLine(line); ok {
			if onSample != nil {
				onSample(s)
			}
			return
		}
		if p, ok := parseFinalPath(line); ok {
			finalPath = p
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := res.errorLines()
		if msg == "" {
			msg = strings.TrimSpace(lastLine(res.stderr))
		}
		if msg == "" {
			msg = err.Error()
		}
		return nil, &media.FetchError{Message: msg, Err: err}
	}

	if finalPath == "" {
		finalPath = req.OutputPath
	}
	return &media.FetchResult{FinalPath: finalPath}, nil
}

func (f *Fetcher) args(req media.FetchRequest) []string {
	args := []string{
		"--no-playlist",
		"--newline",
		"--progress",
		"--no-simulate",
		"--no-overwrites",
		"--progress-template", progressTemplate,
		"--print", finalPathTemplate,
		"-f", req.FormatSelector,
		"-o", outputTemplate(req.OutputPath),
	}
	if req.MergeFormat != "" {
		args = append(args, "--merge-output-format", req.MergeFormat)
	}
	args = append(args, f.extraArgs...)
	return append(args, "--", req.URL)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
