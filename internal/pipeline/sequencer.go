package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/motionlabs/notisync/internal/notification"
)

// Sequencer serializes notification processing. The host may fire its
// callback from any number of goroutines in rapid succession; everything is
// admitted into an unbounded FIFO and exactly one worker drains it, so
// processing order always matches arrival order.
//
// Enqueue never blocks: a slow listener gets punished by the host, so the
// callback path must return immediately.
type Sequencer struct {
	mu    sync.Mutex
	queue []notification.RawNotification
	wake  chan struct{}
}

func NewSequencer() *Sequencer {
	return &Sequencer{
		wake: make(chan struct{}, 1),
	}
}

// Enqueue admits one raw notification. Safe for concurrent use, returns
// immediately.
func (s *Sequencer) Enqueue(raw notification.RawNotification) {
	s.mu.Lock()
	s.queue = append(s.queue, raw)
	depth := len(s.queue)
	s.mu.Unlock()

	// Non-blocking wake: one pending signal is enough, the worker drains
	// the whole queue when it runs.
	select {
	case s.wake <- struct{}{}:
	default:
	}

	log.Debug().Int("depth", depth).Msg("Notification enqueued")
}

// Len reports the current queue depth.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run drains the queue, invoking handle once per raw notification in arrival
// order, until ctx is cancelled. Whatever is still queued at cancellation is
// dropped: it corresponds to notifications the host will also discard, and
// the at-least-once contract accepts the loss.
func (s *Sequencer) Run(ctx context.Context, handle func(notification.RawNotification)) {
	for {
		if ctx.Err() != nil {
			s.drop()
			return
		}

		raw, ok := s.dequeue()
		if ok {
			handle(raw)
			continue
		}

		select {
		case <-ctx.Done():
			s.drop()
			return
		case <-s.wake:
		}
	}
}

func (s *Sequencer) drop() {
	s.mu.Lock()
	dropped := len(s.queue)
	s.queue = nil
	s.mu.Unlock()
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("Sequencer stopped with queued notifications")
	}
}

func (s *Sequencer) dequeue() (notification.RawNotification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return notification.RawNotification{}, false
	}
	raw := s.queue[0]
	s.queue = s.queue[1:]
	return raw, true
}
