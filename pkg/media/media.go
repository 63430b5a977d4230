// Package media defines the contracts between the job core and the external
// capabilities that inspect and fetch remote media.
package media

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors shared by Prober and Fetcher implementations.
var (
	// ErrInvalidURL indicates a URL that is not http(s) with a host.
	ErrInvalidURL = errors.New("invalid url")

	// ErrHostNotAllowed indicates a URL host outside the configured allow-list.
	ErrHostNotAllowed = errors.New("host not allowed")

	// ErrProbeFailed indicates metadata could not be retrieved.
	ErrProbeFailed = errors.New("probe failed")

	// ErrFetchFailed indicates the download or mux step failed.
	ErrFetchFailed = errors.New("fetch failed")
)

// Format is one encoding variant offered by a source.
type Format struct {
	ID         string  `json:"id" yaml:"id"`
	Resolution string  `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Height     int     `json:"height,omitempty" yaml:"height,omitempty"`
	FPS        float64 `json:"fps,omitempty" yaml:"fps,omitempty"`
	Extension  string  `json:"ext" yaml:"ext"`
	VideoCodec string  `json:"vcodec" yaml:"vcodec"`
	AudioCodec string  `json:"acodec" yaml:"acodec"`
	Note       string  `json:"note,omitempty" yaml:"note,omitempty"`
	FileSize   int64   `json:"filesize,omitempty" yaml:"filesize,omitempty"`
}

// HasVideo reports whether the format carries a video stream.
func (f Format) HasVideo() bool {
	return codecPresent(f.VideoCodec)
}

// HasAudio reports whether the format carries an audio stream.
func (f Format) HasAudio() bool {
	return codecPresent(f.AudioCodec)
}

// Progressive reports whether audio and video come in one stream.
func (f Format) Progressive() bool {
	return f.HasVideo() && f.HasAudio()
}

func codecPresent(codec string) bool {
	c := strings.TrimSpace(strings.ToLower(codec))
	return c != "" && c != "none"
}

// ProbeResult is the read-only metadata returned by a Prober.
type ProbeResult struct {
	ID              string   `json:"id,omitempty" yaml:"id,omitempty"`
	Title           string   `json:"title" yaml:"title"`
	DurationSeconds float64  `json:"duration,omitempty" yaml:"duration,omitempty"`
	ThumbnailURL    string   `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
	Formats         []Format `json:"formats" yaml:"formats"`
}

// FindFormat returns the format with the given id.
func (r *ProbeResult) FindFormat(id string) (Format, bool) {
	if r == nil {
		return Format{}, false
	}
	for _, f := range r.Formats {
		if f.ID == id {
			return f, true
		}
	}
	return Format{}, false
}

// SortFormats orders formats by height then fps, both descending. Formats
// with equal keys keep their relative order.
func SortFormats(formats []Format) {
	sort.SliceStable(formats, func(i, j int) bool {
		if formats[i].Height != formats[j].Height {
			return formats[i].Height > formats[j].Height
		}
		return formats[i].FPS > formats[j].FPS
	})
}

// Sample is one raw progress report from a Fetcher. Zero means unknown for
// every field.
type Sample struct {
	BytesDownloaded int64
	BytesTotal      int64
	FragmentIndex   int
	FragmentCount   int
	// Speed is in bytes per second and ETA in seconds; zero when unknown.
	Speed float64
	ETA   int64
}

// FetchRequest describes one download.
type FetchRequest struct {
	URL            string
	FormatSelector string
	// OutputPath is the exact destination file. Implementations must not
	// write outside its directory.
	OutputPath string
	// MergeFormat is the container used when the selector merges streams.
	MergeFormat string
}

// FetchResult is returned on success.
type FetchResult struct {
	FinalPath string
}

// Prober discovers metadata and formats without downloading.
type Prober interface {
	Probe(ctx context.Context, url string) (*ProbeResult, error)
}

// Fetcher performs the download and mux. onSample may be called from any
// goroutine but never concurrently with itself. Fetch must return promptly
// after ctx is cancelled when the underlying operation allows it.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest, onSample func(Sample)) (*FetchResult, error)
}

// FetchError carries the verbatim failure message of a fetch.
type FetchError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrFetchFailed.Error()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetchFailed}
	}
	return []error{ErrFetchFailed, e.Err}
}

// ProbeError wraps a probe failure with the URL that caused it.
type ProbeError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying errors for errors.Is/As support.
func (e *ProbeError) Unwrap() []error {
	return []error{ErrProbeFailed, e.Err}
}

// IsProbeFailed reports whether err came from a failed probe.
func IsProbeFailed(err error) bool {
	return errors.Is(err, ErrProbeFailed)
}

// IsInvalidURL reports whether err is a URL validation failure.
func IsInvalidURL(err error) bool {
	return errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrHostNotAllowed)
}
