package jobregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds every job created by a Manager for the life of the
// process. Entries are never evicted.
//
// The map is guarded by mu; each entry's mutable state is guarded by its
// own lock so jobs never contend with each other.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

// entry is the registry's private, mutable view of one job.
type entry struct {
	mu      sync.Mutex
	job     Job
	tracker progressTracker
	cancel  context.CancelFunc
	done    chan struct{}
}

func newEntry(job Job, cancel context.CancelFunc) *entry {
	return &entry{job: job, cancel: cancel, done: make(chan struct{})}
}

func (e *entry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone()
}

func (e *entry) status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Status
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*entry)}
}

func (r *Registry) add(e *entry) error {
	id := strings.TrimSpace(e.job.ID)
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[id]; exists {
		return fmt.Errorf("duplicate job id: %s", id)
	}
	r.jobs[id] = e
	return nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[strings.TrimSpace(id)]
	return e, ok
}

func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e)
	}
	return out
}

// Get returns a snapshot of the job with the given id.
func (r *Registry) Get(id string) (Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Job{}, notFound(id)
	}
	return e.snapshot(), nil
}

// List returns snapshots of all jobs, newest first.
func (r *Registry) List() []Job {
	entries := r.entries()
	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := jobSortTime(out[i]), jobSortTime(out[j])
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.After(tj)
	})
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func jobSortTime(j Job) time.Time {
	return j.CreatedAt
}
