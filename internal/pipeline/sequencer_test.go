package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionlabs/notisync/internal/notification"
)

func rawWithID(id string) notification.RawNotification {
	return notification.RawNotification{NotificationID: id}
}

func TestSequencerPreservesEnqueueOrder(t *testing.T) {
	s := NewSequencer()

	const n = 200
	for i := 0; i < n; i++ {
		s.Enqueue(rawWithID(fmt.Sprintf("n-%03d", i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(raw notification.RawNotification) {
			got = append(got, raw.NotificationID)
			if len(got) == n {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain the queue")
	}

	require.Len(t, got, n)
	for i, id := range got {
		assert.Equal(t, fmt.Sprintf("n-%03d", i), id)
	}
}

func TestSequencerConcurrentProducersAllDelivered(t *testing.T) {
	s := NewSequencer()

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Enqueue(rawWithID(fmt.Sprintf("p%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(map[string]bool)
	perProducerOrder := make(map[string]int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(raw notification.RawNotification) {
			seen[raw.NotificationID] = true
			// Per-producer order must be preserved even though producers
			// interleave arbitrarily.
			var p, i int
			fmt.Sscanf(raw.NotificationID, "p%d-%d", &p, &i)
			key := fmt.Sprintf("p%d", p)
			assert.Equal(t, perProducerOrder[key], i)
			perProducerOrder[key]++
			if len(seen) == producers*perProducer {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain the queue")
	}

	assert.Len(t, seen, producers*perProducer)
}

func TestSequencerEnqueueNeverBlocksWithoutWorker(t *testing.T) {
	s := NewSequencer()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			s.Enqueue(rawWithID("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked with no consumer running")
	}
	assert.Equal(t, 10000, s.Len())
}

func TestSequencerDropsQueueOnCancel(t *testing.T) {
	s := NewSequencer()
	for i := 0; i < 10; i++ {
		s.Enqueue(rawWithID("x"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var handled int
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(notification.RawNotification) {
			handled++
			if handled == 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	// In-flight work finished, the rest was dropped without replay.
	assert.Equal(t, 3, handled)
	assert.Equal(t, 0, s.Len())
}
