package jobregistry

import "github.com/3leaps/ytgrab/pkg/media"

// progressTracker maps raw fetcher samples to a clamped, non-decreasing
// percent. Fetchers recompute aggregate progress across fragments and
// streams, so raw values jitter and may restart from zero.
type progressTracker struct {
	percent int
}

// apply folds s into the tracker and returns the percent to report. A
// sample without usable totals, or one that would lower the value, leaves
// the previous percent in place.
func (p *progressTracker) apply(s media.Sample) int {
	if next, ok := derivePercent(s); ok && next > p.percent {
		p.percent = next
	}
	return p.percent
}

// complete forces the final value for a succeeded job.
func (p *progressTracker) complete() int {
	p.percent = 100
	return p.percent
}

func derivePercent(s media.Sample) (int, bool) {
	var v int64
	switch {
	case s.BytesTotal > 0:
		v = s.BytesDownloaded * 100 / s.BytesTotal
	case s.FragmentCount > 0:
		v = int64(s.FragmentIndex) * 100 / int64(s.FragmentCount)
	default:
		return 0, false
	}
	return int(clamp(v, 0, 100)), true
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
