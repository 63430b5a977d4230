package jobregistry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/ytgrab/pkg/filename"
	"github.com/3leaps/ytgrab/pkg/media"
)

// PathMapper translates a result path into its externally visible form.
type PathMapper interface {
	Map(path string) (string, bool)
}

// Publisher copies a finished artifact somewhere else and returns its URI.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// executor runs a job's backing unit: request shaping, output allocation,
// the fetch with its progress pump, and the terminal transition.
type executor struct {
	prober       media.Prober
	fetcher      media.Fetcher
	allocator    *filename.Allocator
	broadcaster  *Broadcaster
	mapper       PathMapper
	publisher    Publisher
	logger       *zap.Logger
	mergeFormat  string
	sampleBuffer int
	now          func() time.Time
}

type fetchPlan struct {
	selector string
	merge    bool
	baseName string
	ext      string
}

func (x *executor) run(ctx context.Context, e *entry) {
	defer close(e.done)
	defer e.cancel()

	job := e.snapshot()
	log := x.logger.With(zap.String("job_id", job.ID))
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("Job panicked", zap.Any("panic", r), zap.Stack("stack"))
		if !e.status().Terminal() {
			x.finishFailed(e, KindFetchFailed, fmt.Sprintf("job panic: %v", r), log)
		}
	}()

	plan := x.shape(ctx, job.ID, job.Request, log)
	if x.cancelObserved(ctx, e) {
		x.finishCancelled(e, log)
		return
	}

	out, err := x.allocator.Allocate(job.Request.TargetDir, plan.baseName, plan.ext)
	if err != nil {
		x.finishFailed(e, KindFetchFailed, err.Error(), log)
		return
	}
	defer x.allocator.Release(out)

	now := x.now()
	e.mu.Lock()
	e.job.Request.EffectiveSelector = plan.selector
	e.job.Status = StatusRunning
	e.job.StartedAt = &now
	e.mu.Unlock()
	x.broadcaster.Publish(job.ID, StatusEvent{Status: StatusRunning})
	log.Info("Job running",
		zap.String("selector", plan.selector),
		zap.Bool("merge_audio", plan.merge),
		zap.String("output", out))

	req := media.FetchRequest{
		URL:            job.Request.URL,
		FormatSelector: plan.selector,
		OutputPath:     out,
	}
	if plan.merge {
		req.MergeFormat = x.mergeFormat
	}

	res, err := x.fetch(ctx, e, req)
	switch {
	case err == nil:
		final := out
		if res != nil && res.FinalPath != "" {
			final = res.FinalPath
		}
		var uri string
		if x.publisher != nil {
			uri, err = x.publisher.Publish(context.WithoutCancel(ctx), final)
			if err != nil {
				x.finishFailed(e, KindFetchFailed, "publish: "+err.Error(), log)
				return
			}
		}
		x.finishSucceeded(e, final, uri, log)
	case x.cancelObserved(ctx, e):
		x.finishCancelled(e, log)
	default:
		x.finishFailed(e, KindFetchFailed, err.Error(), log)
	}
}

// shape probes once and decides the effective selector, whether audio must
// be merged in, and the output name. Probe failures are not fatal: the
// selector falls back to a merge chain and a generic name is used.
func (x *executor) shape(ctx context.Context, id string, req Request, log *zap.Logger) fetchPlan {
	sel := req.FormatSelector
	compound := media.IsCompoundSelector(sel)
	plan := fetchPlan{
		selector: sel,
		merge:    strings.Contains(sel, "+"),
		baseName: "download-" + shortID(id),
		ext:      x.mergeFormat,
	}

	var info *media.ProbeResult
	var err error
	if x.prober == nil {
		err = fmt.Errorf("no prober configured")
	} else {
		info, err = x.prober.Probe(ctx, req.URL)
	}
	if err != nil {
		log.Warn("Probe before fetch failed, requesting audio merge", zap.Error(err))
		if !compound {
			plan.selector = withBestAudio(sel)
			plan.merge = true
		}
		return plan
	}

	f, found := info.FindFormat(sel)
	var height, fps int
	if found {
		height = f.Height
		fps = int(math.Round(f.FPS))
	}
	plan.baseName = filename.BaseName(info.Title, info.ID, height, fps)

	switch {
	case compound, !found:
		// Selector expressions and keywords such as "best" are left to the fetcher.
	case f.HasVideo() && !f.HasAudio():
		plan.selector = withBestAudio(sel)
		plan.merge = true
	default:
		if ext := filename.SanitizeExt(f.Extension); ext != "" {
			plan.ext = ext
		}
	}
	return plan
}

func withBestAudio(sel string) string {
	return sel + "+bestaudio/best"
}

func shortID(id string) string {
	s := strings.ReplaceAll(id, "-", "")
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// fetch runs the fetcher in its own goroutine and pumps its samples through
// a channel into onRawSample, so slow mapping or fan-out never runs on the
// fetcher's goroutine and samples are applied in order.
func (x *executor) fetch(ctx context.Context, e *entry, req media.FetchRequest) (*media.FetchResult, error) {
	samples := make(chan media.Sample, x.sampleBuffer)
	type outcome struct {
		res *media.FetchResult
		err error
	}
	done := make(chan outcome, 1)

	var mu sync.Mutex
	finished := false
	onSample := func(s media.Sample) {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		samples <- s
	}

	go func() {
		res, err := x.safeFetch(ctx, req, onSample)
		mu.Lock()
		finished = true
		close(samples)
		mu.Unlock()
		done <- outcome{res: res, err: err}
	}()

	for s := range samples {
		x.onRawSample(e, s)
	}
	o := <-done
	return o.res, o.err
}

func (x *executor) safeFetch(ctx context.Context, req media.FetchRequest, onSample func(media.Sample)) (res *media.FetchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("fetcher panic: %v", r)
		}
	}()
	return x.fetcher.Fetch(ctx, req, onSample)
}

// onRawSample maps one fetcher sample onto the job and publishes the
// resulting progress event.
func (x *executor) onRawSample(e *entry, s media.Sample) {
	e.mu.Lock()
	if e.job.Status != StatusRunning {
		e.mu.Unlock()
		return
	}
	pct := e.tracker.apply(s)
	e.job.ProgressPercent = pct
	if s.BytesDownloaded > 0 {
		e.job.BytesDownloaded = s.BytesDownloaded
	}
	if s.BytesTotal > 0 {
		e.job.BytesTotal = s.BytesTotal
	}
	ev := ProgressEvent{
		Percent:         pct,
		BytesDownloaded: e.job.BytesDownloaded,
		BytesTotal:      e.job.BytesTotal,
		Speed:           s.Speed,
		ETA:             s.ETA,
	}
	id := e.job.ID
	e.mu.Unlock()

	x.broadcaster.Publish(id, ev)
}

func (x *executor) cancelObserved(ctx context.Context, e *entry) bool {
	if ctx.Err() == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.CancelRequested
}

func (x *executor) finishSucceeded(e *entry, path, uri string, log *zap.Logger) {
	var display string
	if x.mapper != nil {
		if d, ok := x.mapper.Map(path); ok {
			display = d
		}
	}
	now := x.now()

	e.mu.Lock()
	e.job.Status = StatusSucceeded
	e.job.ProgressPercent = e.tracker.complete()
	if e.job.BytesTotal > 0 {
		e.job.BytesDownloaded = e.job.BytesTotal
	}
	e.job.ResultPath = path
	e.job.HostDisplayPath = display
	e.job.RemoteURI = uri
	e.job.EndedAt = &now
	id := e.job.ID
	e.mu.Unlock()

	x.broadcaster.Publish(id, CompleteEvent{ResultPath: path, HostDisplayPath: display, RemoteURI: uri})
	log.Info("Job succeeded", zap.String("result_path", path), zap.String("remote_uri", uri))
}

func (x *executor) finishFailed(e *entry, kind ErrorKind, msg string, log *zap.Logger) {
	now := x.now()

	e.mu.Lock()
	e.job.Status = StatusFailed
	e.job.Error = &JobError{Kind: kind, Message: msg}
	e.job.EndedAt = &now
	id := e.job.ID
	e.mu.Unlock()

	x.broadcaster.Publish(id, ErrorEvent{ErrKind: kind, Message: msg})
	log.Warn("Job failed", zap.String("kind", string(kind)), zap.String("error", msg))
}

func (x *executor) finishCancelled(e *entry, log *zap.Logger) {
	now := x.now()

	e.mu.Lock()
	e.job.Status = StatusCancelled
	e.job.EndedAt = &now
	id := e.job.ID
	e.mu.Unlock()

	x.broadcaster.Publish(id, StatusEvent{Status: StatusCancelled})
	log.Info("Job cancelled")
}
