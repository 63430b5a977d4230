package jobregistry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	b := NewBroadcaster(16)
	b.open("job-1")

	sub1, err := b.Subscribe("job-1")
	require.NoError(t, err)
	sub2, err := b.Subscribe("job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, b.SubscriberCount("job-1"))

	b.Publish("job-1", StatusEvent{Status: StatusRunning})
	b.Publish("job-1", ProgressEvent{Percent: 10})
	b.Publish("job-1", ProgressEvent{Percent: 20})
	b.Publish("job-1", CompleteEvent{ResultPath: "/downloads/a.mp4"})

	want := []Event{
		StatusEvent{Status: StatusRunning},
		ProgressEvent{Percent: 10},
		ProgressEvent{Percent: 20},
		CompleteEvent{ResultPath: "/downloads/a.mp4"},
	}
	assert.Equal(t, want, drain(t, sub1))
	assert.Equal(t, want, drain(t, sub2))
	assert.Equal(t, 0, b.SubscriberCount("job-1"))
}

func TestBroadcaster_SlowSubscriberDropsButGetsFinal(t *testing.T) {
	b := NewBroadcaster(1)
	b.open("job-1")

	sub, err := b.Subscribe("job-1")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		b.Publish("job-1", ProgressEvent{Percent: i * 10})
	}
	b.Publish("job-1", ErrorEvent{ErrKind: KindFetchFailed, Message: "disk full"})

	events := drain(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, ErrorEvent{ErrKind: KindFetchFailed, Message: "disk full"}, events[0])
}

func TestBroadcaster_ExactlyOneFinalEvent(t *testing.T) {
	b := NewBroadcaster(4)
	b.open("job-1")
	sub, err := b.Subscribe("job-1")
	require.NoError(t, err)

	b.Publish("job-1", StatusEvent{Status: StatusCancelled})
	b.Publish("job-1", ProgressEvent{Percent: 99})
	b.Publish("job-1", CompleteEvent{ResultPath: "/x"})

	events := drain(t, sub)
	assert.Equal(t, []Event{StatusEvent{Status: StatusCancelled}}, events)

	latest, ok := b.Latest("job-1")
	require.True(t, ok)
	assert.Equal(t, StatusEvent{Status: StatusCancelled}, latest)
}

func TestBroadcaster_SubscribeAfterTerminal(t *testing.T) {
	b := NewBroadcaster(4)
	b.open("job-1")
	b.Publish("job-1", CompleteEvent{ResultPath: "/x"})

	for i := 0; i < 2; i++ {
		sub, err := b.Subscribe("job-1")
		require.NoError(t, err)
		assert.Equal(t, []Event{CompleteEvent{ResultPath: "/x"}}, drain(t, sub))
		sub.Close()
	}
}

func TestBroadcaster_UnknownJob(t *testing.T) {
	b := NewBroadcaster(0)
	_, err := b.Subscribe("nope")
	assert.True(t, IsNotFound(err))

	_, ok := b.Latest("nope")
	assert.False(t, ok)

	// Publishing to an unknown job is a no-op.
	b.Publish("nope", ProgressEvent{Percent: 1})
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b := NewBroadcaster(4)
	b.open("job-1")
	sub, err := b.Subscribe("job-1")
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount("job-1"))

	_, ok := <-sub.Events
	assert.False(t, ok)

	// Publishing after a subscriber left must not panic.
	b.Publish("job-1", ProgressEvent{Percent: 5})
	b.Publish("job-1", CompleteEvent{ResultPath: "/x"})
	sub.Close()
}

func TestBroadcaster_ConcurrentSubscribers(t *testing.T) {
	b := NewBroadcaster(128)
	b.open("job-1")

	const subscribers = 8
	subs := make([]*Subscription, subscribers)
	for i := range subs {
		s, err := b.Subscribe("job-1")
		require.NoError(t, err)
		subs[i] = s
	}

	var wg sync.WaitGroup
	results := make([][]Event, subscribers)
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s *Subscription) {
			defer wg.Done()
			for ev := range s.Events {
				results[i] = append(results[i], ev)
			}
		}(i, s)
	}

	for p := 0; p <= 100; p += 10 {
		b.Publish("job-1", ProgressEvent{Percent: p})
	}
	b.Publish("job-1", CompleteEvent{ResultPath: "/x"})
	wg.Wait()

	for _, events := range results {
		require.Len(t, events, 12)
		assert.Equal(t, []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, percents(events))
		assert.IsType(t, CompleteEvent{}, events[len(events)-1])
	}
}
