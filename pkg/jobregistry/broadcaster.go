package jobregistry

import "sync"

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 64

// Broadcaster fans job events out to subscribers and keeps the latest event
// per job for poll-based readers.
//
// Publishing never blocks: a subscriber whose buffer is full misses the
// event. The terminal event is always delivered, evicting the oldest
// buffered event when necessary, after which the subscriber's channel is
// closed. Subscribers that arrive after the terminal event receive it once
// on an already closed channel.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
	buffer int
}

type topic struct {
	latest Event
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is a live stream of one job's events.
type Subscription struct {
	// Events is closed after the terminal event or on Close.
	Events <-chan Event

	ch     chan Event
	b      *Broadcaster
	jobID  string
	closed bool // guarded by b.mu
}

// NewBroadcaster returns a Broadcaster whose subscriber channels hold
// buffer events. Values below 1 select DefaultSubscriberBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		topics: make(map[string]*topic),
		buffer: buffer,
	}
}

// open registers a job so it can be subscribed to.
func (b *Broadcaster) open(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[jobID]; !ok {
		b.topics[jobID] = &topic{subs: make(map[*Subscription]struct{})}
	}
}

// Publish records ev as the latest event of jobID and delivers it to every
// current subscriber. Events published after the terminal event are ignored.
func (b *Broadcaster) Publish(jobID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.closed {
		return
	}
	t.latest = ev

	if !ev.Terminal() {
		for sub := range t.subs {
			select {
			case sub.ch <- ev:
			default:
			}
		}
		return
	}

	for sub := range t.subs {
		deliverFinal(sub.ch, ev)
		close(sub.ch)
		sub.closed = true
	}
	t.subs = nil
	t.closed = true
}

// deliverFinal makes room for ev by dropping the oldest buffered event.
// Only the publisher sends, and it holds b.mu, so the retry cannot lose.
func deliverFinal(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Subscribe attaches a new subscriber to jobID. It returns ErrNotFound for
// unknown jobs.
func (b *Broadcaster) Subscribe(jobID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return nil, notFound(jobID)
	}

	ch := make(chan Event, b.buffer)
	sub := &Subscription{Events: ch, ch: ch, b: b, jobID: jobID}

	if t.closed {
		if t.latest != nil {
			ch <- t.latest
		}
		close(ch)
		sub.closed = true
		return sub, nil
	}

	t.subs[sub] = struct{}{}
	return sub, nil
}

// Close detaches the subscriber and closes its channel. It is safe to call
// more than once and after the job has finished.
func (s *Subscription) Close() {
	if s == nil || s.b == nil {
		return
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.b.topics[s.jobID]; ok && t.subs != nil {
		delete(t.subs, s)
	}
	close(s.ch)
	s.closed = true
}

// Latest returns the last event published for jobID.
func (b *Broadcaster) Latest(jobID string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[jobID]
	if !ok || t.latest == nil {
		return nil, false
	}
	return t.latest, true
}

// SubscriberCount returns the number of live subscribers of jobID.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[jobID]; ok {
		return len(t.subs)
	}
	return 0
}
