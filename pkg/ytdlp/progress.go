package ytdlp

import (
	"math"
	"strconv"
	"strings"

	"github.com/3leaps/ytgrab/pkg/media"
)

const (
	progressPrefix = "[ytgrab] "
	finalPrefix    = "ytgrab-final:"
)

// progressTemplate makes yt-dlp print one machine-readable line per update:
// downloaded, total, total estimate, fragment index, fragment count, speed
// in bytes per second and ETA in seconds. Missing values are printed as "NA".
var progressTemplate = "download:" + progressPrefix +
	"%(progress.downloaded_bytes)s %(progress.total_bytes)s %(progress.total_bytes_estimate)s " +
	"%(progress.fragment_index)s %(progress.fragment_count)s " +
	"%(progress.speed)s %(progress.eta)s"

// finalPathTemplate prints the path of the finished file after post-processing.
var finalPathTemplate = "after_move:" + finalPrefix + "%(filepath)s"

// parseProgressLine decodes a line produced by progressTemplate. Lines
// without the trailing speed and ETA fields are accepted.
func parseProgressLine(line string) (media.Sample, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, progressPrefix) {
		return media.Sample{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(line, progressPrefix))
	if len(fields) != 5 && len(fields) != 7 {
		return media.Sample{}, false
	}

	s := media.Sample{
		BytesDownloaded: parseInt(fields[0]),
		BytesTotal:      parseInt(fields[1]),
		FragmentIndex:   int(parseInt(fields[3])),
		FragmentCount:   int(parseInt(fields[4])),
	}
	if s.BytesTotal <= 0 {
		s.BytesTotal = parseInt(fields[2])
	}
	if len(fields) == 7 {
		s.Speed = parseFloat(fields[5])
		s.ETA = parseInt(fields[6])
	}
	return s, true
}

// parseFinalPath decodes a line produced by finalPathTemplate.
func parseFinalPath(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, finalPrefix) {
		return "", false
	}
	p := strings.TrimPrefix(line, finalPrefix)
	if p == "" || p == "NA" {
		return "", false
	}
	return p, true
}

// parseInt accepts integers and floats ("1.5e6", "123.0"); "NA" and
// garbage yield zero.
func parseInt(s string) int64 {
	if s == "" || s == "NA" || s == "None" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return int64(f)
	}
	return 0
}

// parseFloat is parseInt for fractional values such as speed.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// outputTemplate turns an exact output path into a yt-dlp template whose
// extension is chosen by yt-dlp. Literal percent signs are escaped.
func outputTemplate(outputPath string) string {
	stem := outputPath
	if i := strings.LastIndexByte(outputPath, '.'); i > strings.LastIndexAny(outputPath, `/\`) {
		stem = outputPath[:i]
	}
	return strings.ReplaceAll(stem, "%", "%%") + ".%(ext)s"
}
