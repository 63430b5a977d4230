package jobregistry

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/ytgrab/pkg/media"
	"github.com/3leaps/ytgrab/pkg/sandbox"
)

type fakeProber struct {
	result *media.ProbeResult
	err    error
	panics bool

	mu    sync.Mutex
	calls int
}

func (p *fakeProber) Probe(ctx context.Context, url string) (*media.ProbeResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.panics {
		panic("extractor crashed")
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

// scriptedFetcher replays samples and then succeeds or fails.
type scriptedFetcher struct {
	samples []media.Sample
	err     error
	panics  bool

	// blockUntilCancel makes Fetch wait for ctx after emitting samples.
	blockUntilCancel bool
	// ignoreCancel makes a blocked Fetch succeed anyway once released.
	ignoreCancel bool
	// release, when set, is awaited before any sample is emitted.
	release chan struct{}
	started chan struct{}

	mu       sync.Mutex
	requests []media.FetchRequest
	once     sync.Once
}

func newScriptedFetcher(samples ...media.Sample) *scriptedFetcher {
	return &scriptedFetcher{samples: samples, started: make(chan struct{})}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req media.FetchRequest, onSample func(media.Sample)) (*media.FetchResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	f.once.Do(func() { close(f.started) })

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panics {
		panic("boom")
	}
	for _, s := range f.samples {
		onSample(s)
	}
	if f.blockUntilCancel {
		<-ctx.Done()
		if !f.ignoreCancel {
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(req.OutputPath, []byte("media"), 0o644); err != nil {
		return nil, err
	}
	return &media.FetchResult{FinalPath: req.OutputPath}, nil
}

func (f *scriptedFetcher) lastRequest(t *testing.T) media.FetchRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type fakePublisher struct {
	uri    string
	err    error
	panics bool
}

func (p *fakePublisher) Publish(ctx context.Context, localPath string) (string, error) {
	if p.panics {
		panic("upload client crashed")
	}
	if p.err != nil {
		return "", p.err
	}
	return p.uri, nil
}

func progressiveProbe() *fakeProber {
	return &fakeProber{result: &media.ProbeResult{
		ID:    "abc",
		Title: "Clip",
		Formats: []media.Format{
			{ID: "22", Height: 720, FPS: 30, Extension: "mp4", VideoCodec: "avc1", AudioCodec: "mp4a"},
			{ID: "137", Height: 1080, FPS: 30, Extension: "mp4", VideoCodec: "avc1", AudioCodec: "none"},
			{ID: "140", Extension: "m4a", VideoCodec: "none", AudioCodec: "mp4a"},
		},
	}}
}

func newTestManager(t *testing.T, prober media.Prober, fetcher media.Fetcher, opts ...Option) (*Manager, *sandbox.Sandbox) {
	t.Helper()
	sb, err := sandbox.New(t.TempDir(), "default")
	require.NoError(t, err)

	m := NewManager(prober, fetcher, sb, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, sb
}

func startJob(t *testing.T, m *Manager, sel string) Job {
	t.Helper()
	job, err := m.Start(context.Background(), StartRequest{
		URL:            "https://example.com/watch?v=abc",
		FormatSelector: sel,
	})
	require.NoError(t, err)
	return job
}

func waitTerminal(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := m.Wait(ctx, id)
	require.NoError(t, err)
	require.True(t, job.Status.Terminal(), "job still %s", job.Status)
	return job
}

// drain reads until the subscription closes.
func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("subscription not closed; got %d events", len(out))
			return out
		}
	}
}

func percents(events []Event) []int {
	var out []int
	for _, ev := range events {
		if p, ok := ev.(ProgressEvent); ok {
			out = append(out, p.Percent)
		}
	}
	return out
}

var errForbidden = errors.New("ERROR: [youtube] abc: HTTP Error 403: Forbidden")
