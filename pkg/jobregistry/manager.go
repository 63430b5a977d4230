// Package jobregistry owns the lifecycle of download jobs: an in-memory
// registry, the per-job state machine, cancellation, progress mapping and
// fan-out of progress events to observers.
//
// A Manager is constructed once at startup and handed to the API layer.
// Each job runs in its own goroutine; Start never waits for the fetch.
package jobregistry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/ytgrab/pkg/filename"
	"github.com/3leaps/ytgrab/pkg/media"
	"github.com/3leaps/ytgrab/pkg/sandbox"
)

// DefaultMergeFormat is the container used when streams are merged.
const DefaultMergeFormat = "mp4"

// DefaultSampleBuffer is the capacity of the per-job sample channel.
const DefaultSampleBuffer = 32

// DirResolver validates a requested target directory.
type DirResolver interface {
	Resolve(requested string) (string, error)
}

// StartRequest is what a caller asks a job to do.
type StartRequest struct {
	URL            string
	FormatSelector string
	// TargetDir is optional; empty selects the default directory.
	TargetDir string
}

// Manager creates, tracks and cancels jobs.
type Manager struct {
	registry    *Registry
	broadcaster *Broadcaster
	exec        *executor
	dirs        DirResolver
	policy      *media.URLPolicy
	logger      *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	// lifeMu orders Start against Shutdown so no job is added once
	// closed is set.
	lifeMu sync.Mutex
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for job lifecycle messages.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
			m.exec.logger = l
		}
	}
}

// WithURLPolicy restricts which source URLs are accepted.
func WithURLPolicy(p *media.URLPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithDisplayMapper sets the mapper used to compute HostDisplayPath.
func WithDisplayMapper(pm PathMapper) Option {
	return func(m *Manager) { m.exec.mapper = pm }
}

// WithPublisher uploads finished artifacts; a failed upload fails the job.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.exec.publisher = p }
}

// WithSubscriberBuffer sets the per-subscriber event buffer.
func WithSubscriberBuffer(n int) Option {
	return func(m *Manager) { m.broadcaster = NewBroadcaster(n) }
}

// WithSampleBuffer sets the per-job sample channel capacity.
func WithSampleBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.exec.sampleBuffer = n
		}
	}
}

// WithMergeFormat sets the container for merged audio and video.
func WithMergeFormat(format string) Option {
	return func(m *Manager) {
		if f := filename.SanitizeExt(format); f != "" {
			m.exec.mergeFormat = f
		}
	}
}

// WithAllocator shares a filename allocator between managers.
func WithAllocator(a *filename.Allocator) Option {
	return func(m *Manager) {
		if a != nil {
			m.exec.allocator = a
		}
	}
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.exec.now = now
		}
	}
}

// NewManager returns a Manager that probes with prober, fetches with
// fetcher and confines output to directories accepted by dirs.
func NewManager(prober media.Prober, fetcher media.Fetcher, dirs DirResolver, opts ...Option) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		registry:    NewRegistry(),
		broadcaster: NewBroadcaster(DefaultSubscriberBuffer),
		dirs:        dirs,
		policy:      &media.URLPolicy{},
		logger:      zap.NewNop(),
		baseCtx:     ctx,
		stop:        stop,
	}
	m.exec = &executor{
		prober:       prober,
		fetcher:      fetcher,
		allocator:    filename.NewAllocator(),
		logger:       m.logger,
		mergeFormat:  DefaultMergeFormat,
		sampleBuffer: DefaultSampleBuffer,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.exec.broadcaster = m.broadcaster
	return m
}

// Start validates req, registers a queued job and launches its backing
// unit. Validation failures return an *Error and create no job.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	if m.exec.fetcher == nil {
		return Job{}, fmt.Errorf("job manager has no fetcher")
	}

	u, err := m.policy.Check(req.URL)
	if err != nil {
		return Job{}, &Error{Kind: KindInvalidRequest, Message: err.Error(), Err: err}
	}
	sel := strings.TrimSpace(req.FormatSelector)
	if err := media.ValidateSelector(sel); err != nil {
		return Job{}, &Error{Kind: KindInvalidRequest, Message: err.Error(), Err: err}
	}
	dir, err := m.resolveDir(req.TargetDir)
	if err != nil {
		return Job{}, err
	}

	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return Job{}, &Error{Kind: KindShuttingDown, Message: "job manager is shutting down"}
	}
	jobCtx, cancel := context.WithCancel(m.baseCtx)
	e := newEntry(Job{
		ID:     uuid.New().String(),
		Status: StatusQueued,
		Request: Request{
			URL:            u,
			FormatSelector: sel,
			TargetDir:      dir,
		},
		CreatedAt: m.exec.now(),
	}, cancel)

	if err := m.registry.add(e); err != nil {
		m.lifeMu.Unlock()
		cancel()
		return Job{}, err
	}
	m.wg.Add(1)
	m.lifeMu.Unlock()

	id := e.job.ID
	m.broadcaster.open(id)
	m.broadcaster.Publish(id, StatusEvent{Status: StatusQueued})

	m.logger.Info("Job queued",
		zap.String("job_id", id),
		zap.String("url", u),
		zap.String("format", sel),
		zap.String("target_dir", dir))

	go func() {
		defer m.wg.Done()
		m.exec.run(jobCtx, e)
	}()

	return e.snapshot(), nil
}

func (m *Manager) resolveDir(requested string) (string, error) {
	if m.dirs == nil {
		return "", &Error{Kind: KindPathNotWritable, Message: "no target directory policy configured"}
	}
	dir, err := m.dirs.Resolve(requested)
	if err == nil {
		return dir, nil
	}
	kind := KindPathNotWritable
	if sandbox.IsPathNotAllowed(err) {
		kind = KindPathNotAllowed
	}
	return "", &Error{Kind: kind, Message: err.Error(), Err: err}
}

// Snapshot returns a copy of the job's current state.
func (m *Manager) Snapshot(id string) (Job, error) {
	return m.registry.Get(id)
}

// List returns all jobs, newest first.
func (m *Manager) List() []Job {
	return m.registry.List()
}

// Cancel asks a job to stop. It is advisory: the job ends in whatever
// terminal state its backing unit actually reaches. Repeated calls while
// the job is still active are no-ops.
func (m *Manager) Cancel(id string) error {
	e, ok := m.registry.lookup(id)
	if !ok {
		return notFound(id)
	}

	e.mu.Lock()
	if e.job.Status.Terminal() {
		status := e.job.Status
		e.mu.Unlock()
		return &Error{Kind: KindAlreadyTerminal, JobID: id, Message: "job is " + string(status)}
	}
	first := !e.job.CancelRequested
	e.job.CancelRequested = true
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	if first {
		m.logger.Info("Job cancel requested", zap.String("job_id", id))
	}
	return nil
}

// Subscribe returns a live stream of the job's events.
func (m *Manager) Subscribe(id string) (*Subscription, error) {
	return m.broadcaster.Subscribe(id)
}

// Latest returns the last event published for the job.
func (m *Manager) Latest(id string) (Event, error) {
	if _, ok := m.registry.lookup(id); !ok {
		return nil, notFound(id)
	}
	ev, ok := m.broadcaster.Latest(id)
	if !ok {
		return StatusEvent{Status: StatusQueued}, nil
	}
	return ev, nil
}

// Wait blocks until the job is terminal or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	e, ok := m.registry.lookup(id)
	if !ok {
		return Job{}, notFound(id)
	}
	select {
	case <-e.done:
		return e.snapshot(), nil
	case <-ctx.Done():
		return e.snapshot(), ctx.Err()
	}
}

// Active returns the number of jobs that have not reached a terminal state.
func (m *Manager) Active() int {
	n := 0
	for _, e := range m.registry.entries() {
		if !e.status().Terminal() {
			n++
		}
	}
	return n
}

// Shutdown cancels every active job and waits for the backing units to
// exit or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifeMu.Lock()
	m.closed = true
	m.lifeMu.Unlock()

	for _, e := range m.registry.entries() {
		e.mu.Lock()
		if !e.job.Status.Terminal() {
			e.job.CancelRequested = true
		}
		e.mu.Unlock()
	}
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
