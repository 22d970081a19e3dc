package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/motionlabs/notisync/internal/store"
	"github.com/motionlabs/notisync/internal/syncer"
)

// Host is the platform adapter the dismissal loop talks to. Too many queued
// notifications in the host's shade can throttle delivery of new ones, so
// the active set is cleared wholesale on a slow cadence.
type Host interface {
	ActiveNotifications(ctx context.Context) (int, error)
	CancelAll(ctx context.Context) error
}

// RetryStore is the slice of the local store the retry loop reads and
// updates.
type RetryStore interface {
	ListUnsynced(ceiling, limit int) ([]store.UnsyncedRow, error)
	MarkSynced(messageID uint, at time.Time) error
	BumpRetry(messageID uint) error
	CountUnsynced() (int64, error)
}

// Deliverer is the sync client surface the retry loop re-drives. Scheduler
// retries go straight through the client, not the sequencer: they operate on
// already-stored messages, not freshly-parsed ones.
type Deliverer interface {
	Deliver(ctx context.Context, ev syncer.Event) (syncer.Outcome, error)
	Heartbeat(ctx context.Context) error
}

// Options tunes the loop cadences and the retry budget.
type Options struct {
	CleanupEnabled    bool
	CleanupInterval   time.Duration
	RetryInterval     time.Duration
	RetryCeiling      int
	RetryBatchSize    int
	HeartbeatInterval time.Duration
	Package           string
}

// Scheduler runs the low-frequency background loops: stale-notification
// dismissal, unsynced-message retry, and the device heartbeat.
type Scheduler struct {
	host      Host
	store     RetryStore
	deliverer Deliverer
	opts      Options
}

func New(host Host, st RetryStore, deliverer Deliverer, opts Options) (*Scheduler, error) {
	if st == nil {
		return nil, fmt.Errorf("retry store cannot be nil")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer cannot be nil")
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Minute
	}
	if opts.RetryCeiling <= 0 {
		opts.RetryCeiling = 10
	}
	if opts.RetryBatchSize <= 0 {
		opts.RetryBatchSize = 50
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 2 * time.Minute
	}
	return &Scheduler{host: host, store: st, deliverer: deliverer, opts: opts}, nil
}

// Run starts the loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if s.opts.CleanupEnabled && s.host != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, s.opts.CleanupInterval, s.dismissStale)
		}()
	} else {
		log.Info().Msg("Stale-notification dismissal disabled")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop(ctx, s.opts.RetryInterval, s.retryUnsynced)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop(ctx, s.opts.HeartbeatInterval, s.heartbeat)
	}()

	log.Info().
		Bool("cleanupEnabled", s.opts.CleanupEnabled).
		Dur("retryInterval", s.opts.RetryInterval).
		Int("retryCeiling", s.opts.RetryCeiling).
		Msg("Scheduler running")

	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// dismissStale clears all currently-active host notifications so shade
// buildup cannot suppress delivery of new ones.
func (s *Scheduler) dismissStale(ctx context.Context) {
	n, err := s.host.ActiveNotifications(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to enumerate active notifications")
		return
	}
	if n == 0 {
		return
	}
	if err := s.host.CancelAll(ctx); err != nil {
		log.Warn().Err(err).Int("active", n).Msg("Failed to dismiss stale notifications")
		return
	}
	log.Info().Int("dismissed", n).Msg("Cleared stale host notifications")
}

// retryUnsynced re-attempts delivery for messages still awaiting backend
// acceptance. One Deliver pass per row; renewed failure bumps the retry
// count, and rows at the ceiling stay stored for inspection but are no
// longer picked up.
func (s *Scheduler) retryUnsynced(ctx context.Context) {
	rows, err := s.store.ListUnsynced(s.opts.RetryCeiling, s.opts.RetryBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query unsynced messages")
		return
	}
	if len(rows) == 0 {
		return
	}

	log.Info().Int("count", len(rows)).Msg("Retrying unsynced messages")

	for _, row := range rows {
		if ctx.Err() != nil {
			return
		}

		ev := syncer.Event{
			Package:    s.opts.Package,
			ChatRoom:   row.RoomName,
			SenderName: row.Sender,
			Text:       row.Body,
			ReceivedAt: time.UnixMilli(row.Timestamp).UTC(),
		}

		if _, err := s.deliverer.Deliver(ctx, ev); err != nil {
			if berr := s.store.BumpRetry(row.ID); berr != nil {
				log.Error().Err(berr).Uint("messageID", row.ID).Msg("Failed to bump retry count")
			}
			log.Warn().
				Err(err).
				Uint("messageID", row.ID).
				Int("retryCount", row.RetryCount+1).
				Int("ceiling", s.opts.RetryCeiling).
				Msg("Scheduled retry failed")
			continue
		}

		if err := s.store.MarkSynced(row.ID, time.Now()); err != nil {
			log.Error().Err(err).Uint("messageID", row.ID).Msg("Failed to record sync success")
		}
	}

	if n, err := s.store.CountUnsynced(); err == nil {
		log.Info().Int64("unsynced", n).Msg("Unsynced message count")
	}
}

func (s *Scheduler) heartbeat(ctx context.Context) {
	if err := s.deliverer.Heartbeat(ctx); err != nil {
		log.Debug().Err(err).Msg("Heartbeat failed")
	}
}
