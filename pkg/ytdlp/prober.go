package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/ytgrab/pkg/media"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 60 * time.Second

// ProberConfig configures a Prober.
type ProberConfig struct {
	// Binary is the yt-dlp executable; empty means "yt-dlp" on PATH.
	Binary string
	// Timeout bounds one probe. Zero selects DefaultProbeTimeout.
	Timeout time.Duration
	// RateLimit caps probes per second across the process. Zero disables
	// limiting.
	RateLimit float64
	// Policy validates URLs before yt-dlp sees them. Nil accepts any http(s) URL.
	Policy *media.URLPolicy
	// ExtraArgs are appended before the URL.
	ExtraArgs []string
	Logger    *zap.Logger
}

// Prober lists formats by running "yt-dlp -J".
type Prober struct {
	runner    runner
	timeout   time.Duration
	limiter   *rate.Limiter
	policy    *media.URLPolicy
	extraArgs []string
}

var _ media.Prober = (*Prober)(nil)

// NewProber returns a Prober for cfg.
func NewProber(cfg ProberConfig) *Prober {
	p := &Prober{
		runner:    newRunner(cfg.Binary, 0, cfg.Logger),
		timeout:   cfg.Timeout,
		policy:    cfg.Policy,
		extraArgs: append([]string(nil), cfg.ExtraArgs...),
	}
	if p.timeout <= 0 {
		p.timeout = DefaultProbeTimeout
	}
	if p.policy == nil {
		p.policy = &media.URLPolicy{}
	}
	if cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return p
}

// Probe returns metadata and formats for url, sorted by height then fps,
// both descending. Nothing is downloaded.
func (p *Prober) Probe(ctx context.Context, url string) (*media.ProbeResult, error) {
	normalized, err := p.policy.Check(url)
	if err != nil {
		return nil, err
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &media.ProbeError{URL: normalized, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"-J", "--no-playlist", "--skip-download", "--no-warnings"}
	args = append(args, p.extraArgs...)
	args = append(args, "--", normalized)

	var payload []byte
	res, err := p.runner.run(ctx, args, func(stream Stream, line string) {
		if stream == StreamStdout && strings.HasPrefix(line, "{") {
			payload = []byte(line)
		}
	})
	if err != nil {
		msg := res.errorLines()
		if msg == "" {
			msg = err.Error()
		}
		return nil, &media.ProbeError{URL: normalized, Err: errors.New(msg)}
	}
	if len(payload) == 0 {
		return nil, &media.ProbeError{URL: normalized, Err: fmt.Errorf("no metadata returned")}
	}
	info, err := decodeInfo(payload)
	if err != nil {
		return nil, &media.ProbeError{URL: normalized, Err: err}
	}
	return info, nil
}

type infoJSON struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Duration  *float64     `json:"duration"`
	Thumbnail string       `json:"thumbnail"`
	Formats   []formatJSON `json:"formats"`
}

type formatJSON struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Height         *float64 `json:"height"`
	FPS            *float64 `json:"fps"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	FormatNote     string   `json:"format_note"`
	Format         string   `json:"format"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
}

func decodeInfo(payload []byte) (*media.ProbeResult, error) {
	var info infoJSON
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	out := &media.ProbeResult{
		ID:           info.ID,
		Title:        info.Title,
		ThumbnailURL: info.Thumbnail,
		Formats:      make([]media.Format, 0, len(info.Formats)),
	}
	if info.Duration != nil {
		out.DurationSeconds = *info.Duration
	}

	for _, f := range info.Formats {
		if f.FormatID == "" {
			continue
		}
		mf := media.Format{
			ID:         f.FormatID,
			Extension:  f.Ext,
			VideoCodec: nonEmpty(f.VCodec, "none"),
			AudioCodec: nonEmpty(f.ACodec, "none"),
			Note:       f.FormatNote,
		}
		if mf.Note == "" {
			mf.Note = f.Format
		}
		if f.Height != nil && *f.Height > 0 {
			mf.Height = int(*f.Height)
			mf.Resolution = strconv.Itoa(mf.Height) + "p"
		}
		if f.FPS != nil {
			mf.FPS = math.Round(*f.FPS*100) / 100
		}
		switch {
		case f.Filesize != nil:
			mf.FileSize = int64(*f.Filesize)
		case f.FilesizeApprox != nil:
			mf.FileSize = int64(*f.FilesizeApprox)
		}
		out.Formats = append(out.Formats, mf)
	}

	media.SortFormats(out.Formats)
	return out, nil
}
