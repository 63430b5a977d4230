// Package ytdlp implements media.Prober and media.Fetcher on top of the
// yt-dlp command line tool.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBinary is looked up on PATH when no binary is configured.
const DefaultBinary = "yt-dlp"

// DefaultCancelGrace is how long yt-dlp gets to exit after an interrupt
// before it is killed.
const DefaultCancelGrace = 5 * time.Second

// maxKeep bounds the captured output per stream.
const maxKeep = 8192

// Stream identifies which pipe a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// runner executes yt-dlp and streams its output line by line.
type runner struct {
	binary      string
	cancelGrace time.Duration
	logger      *zap.Logger
}

func newRunner(binary string, grace time.Duration, logger *zap.Logger) runner {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	if grace <= 0 {
		grace = DefaultCancelGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return runner{binary: binary, cancelGrace: grace, logger: logger}
}

// runResult holds the bounded output of a finished command.
type runResult struct {
	stdout string
	stderr string
}

// errorLines returns the "ERROR:" lines yt-dlp printed, in order.
func (r runResult) errorLines() string {
	var lines []string
	for _, s := range []string{r.stderr, r.stdout} {
		for _, line := range strings.Split(s, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "ERROR:") {
				lines = append(lines, strings.TrimSpace(line))
			}
		}
	}
	return strings.Join(lines, "\n")
}

// run starts yt-dlp with args and calls onLine for every output line until
// the process exits. On cancellation yt-dlp receives an interrupt so it can
// clean up partial files, and is killed after the grace period.
func (r runner) run(ctx context.Context, args []string, onLine func(Stream, string)) (runResult, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.cancelGrace

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return runResult{}, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return runResult{}, fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return runResult{}, fmt.Errorf("start %s: %w", r.binary, err)
	}
	r.logger.Debug("Started yt-dlp", zap.String("binary", r.binary), zap.Int("pid", cmd.Process.Pid))

	var outBuf, errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream Stream, rd io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(rd)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 16*1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			if stream == StreamStderr {
				appendLimited(&errBuf, line)
			} else if !strings.HasPrefix(line, "{") {
				appendLimited(&outBuf, line)
			}
			if onLine != nil {
				onLine(stream, line)
			}
			mu.Unlock()
		}
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	wg.Wait()

	waitErr := cmd.Wait()
	res := runResult{stdout: outBuf.String(), stderr: errBuf.String()}
	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("%s exited with code %d: %w", r.binary, exitErr.ExitCode(), waitErr)
		}
		return res, waitErr
	}
	return res, nil
}

// splitByNewlineOrCR splits on \n and \r so carriage-return progress
// redraws are seen as separate lines.
func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(b *strings.Builder, line string) {
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

// DependencyReport describes which external tools are available.
type DependencyReport struct {
	YTDLPFound  bool   `json:"yt_dlp_found" yaml:"yt_dlp_found"`
	YTDLPPath   string `json:"yt_dlp_path,omitempty" yaml:"yt_dlp_path,omitempty"`
	FFmpegFound bool   `json:"ffmpeg_found" yaml:"ffmpeg_found"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty" yaml:"ffmpeg_path,omitempty"`
}

// DependencyStatus looks up binary (yt-dlp when empty) and ffmpeg.
func DependencyStatus(binary string) DependencyReport {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	report := DependencyReport{}
	if path, err := exec.LookPath(binary); err == nil {
		report.YTDLPFound = true
		report.YTDLPPath = path
	}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	return report
}

// CheckDependencies returns an error naming the first missing tool.
func CheckDependencies(binary string) error {
	report := DependencyStatus(binary)
	if !report.YTDLPFound {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", nonEmpty(binary, DefaultBinary))
	}
	if !report.FFmpegFound {
		return fmt.Errorf("missing dependency: ffmpeg is required to merge audio and video and was not found on PATH")
	}
	return nil
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
