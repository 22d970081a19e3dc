package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/motionlabs/notisync/internal/notification"
	"github.com/motionlabs/notisync/internal/syncer"
)

// MessageStore is the slice of the local store the pipeline writes through.
type MessageStore interface {
	UpsertMessageWithRoom(roomName, sender, body string, timestamp int64, rawPayload string) (uint, error)
	MarkSynced(messageID uint, at time.Time) error
	MarkFailed(messageID uint) error
}

// Deliverer is the slice of the sync client the pipeline drives.
type Deliverer interface {
	Deliver(ctx context.Context, ev syncer.Event) (syncer.Outcome, error)
	ReportParseFailure(ctx context.Context, dump string)
}

// Service owns the sequenced processing pipeline: parse, dedup, persist,
// first-attempt delivery. It implements notification.Listener so the host
// adapter can hand raw payloads straight in.
type Service struct {
	parser    *notification.Parser
	sequencer *Sequencer
	dedup     *Deduplicator
	store     MessageStore
	deliverer Deliverer

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewService wires the pipeline together.
func NewService(store MessageStore, deliverer Deliverer, dedupTTL time.Duration, dedupMax int) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("message store cannot be nil")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer cannot be nil")
	}
	return &Service{
		parser:    notification.NewParser(),
		sequencer: NewSequencer(),
		dedup:     NewDeduplicator(dedupTTL, dedupMax),
		store:     store,
		deliverer: deliverer,
	}, nil
}

// Start launches the single drain worker. Call Stop to shut it down.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.sequencer.Run(ctx, func(raw notification.RawNotification) {
			s.process(ctx, raw)
		})
	}()
	log.Info().Msg("Pipeline service started")
}

// Stop cancels the worker and waits for in-flight work to finish. Queued
// notifications not yet dequeued are dropped.
func (s *Service) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		log.Info().Msg("Pipeline service stopped")
	})
}

// OnRawNotification admits one host-delivered payload. Never blocks.
func (s *Service) OnRawNotification(raw notification.RawNotification) {
	s.sequencer.Enqueue(raw)
}

// OnListenerConnected handles the host's "listener re-attached" signal by
// clearing the dedup cache: reprocessing is safe thanks to backend-side
// idempotency, wrong suppression is not.
func (s *Service) OnListenerConnected() {
	s.dedup.Clear()
}

// QueueDepth and DedupSize expose read-only snapshots for status surfaces.
func (s *Service) QueueDepth() int { return s.sequencer.Len() }
func (s *Service) DedupSize() int  { return s.dedup.Len() }

// process handles one raw notification end to end. No failure here may stop
// the worker: a bad payload degrades to a debug report, a storage error
// skips that single message.
func (s *Service) process(ctx context.Context, raw notification.RawNotification) {
	msgs := s.parser.Parse(raw)
	if len(msgs) == 0 {
		if !raw.Extras.Bool(notification.KeyIsGroupSummary) {
			log.Warn().
				Str("package", raw.PackageName).
				Msg("Payload yielded no messages, filing parse-failure report")
			s.deliverer.ReportParseFailure(ctx, raw.DebugDump())
		}
		return
	}

	for _, msg := range msgs {
		fp := Fingerprint{Room: msg.RoomName, Sender: msg.Sender, Body: msg.Body}
		if s.dedup.Seen(fp, time.Now()) {
			log.Debug().
				Str("room", msg.RoomName).
				Str("sender", msg.Sender).
				Msg("Suppressed duplicate message")
			continue
		}

		id, err := s.store.UpsertMessageWithRoom(msg.RoomName, msg.Sender, msg.Body, msg.Timestamp, msg.RawPayload)
		if err != nil {
			log.Error().
				Err(err).
				Str("room", msg.RoomName).
				Str("sender", msg.Sender).
				Msg("Failed to persist message, skipping")
			continue
		}

		s.deliverFirstAttempt(ctx, id, raw, msg)
	}
}

// deliverFirstAttempt pushes a freshly stored message to the backend. On
// exhausted attempts the message moves to the failed-retryable state and the
// scheduler takes over; delivery is never abandoned outright.
func (s *Service) deliverFirstAttempt(ctx context.Context, messageID uint, raw notification.RawNotification, msg notification.ParsedMessage) {
	ev := syncer.Event{
		ChatRoom:       msg.RoomName,
		SenderName:     msg.Sender,
		Text:           msg.Body,
		ReceivedAt:     time.UnixMilli(msg.Timestamp).UTC(),
		NotificationID: raw.NotificationID,
		Metadata: &syncer.Metadata{
			Title:   raw.Extras.String(notification.KeyTitle),
			Subtext: raw.Extras.String(notification.KeySubText),
			IsGroup: msg.IsGroup,
		},
	}

	outcome, err := s.deliverer.Deliver(ctx, ev)
	if err != nil {
		log.Warn().
			Err(err).
			Uint("messageID", messageID).
			Msg("Immediate delivery exhausted, deferring to scheduler")
		if serr := s.store.MarkFailed(messageID); serr != nil {
			log.Error().Err(serr).Uint("messageID", messageID).Msg("Failed to record delivery failure")
		}
		return
	}

	if serr := s.store.MarkSynced(messageID, time.Now()); serr != nil {
		log.Error().Err(serr).Uint("messageID", messageID).Msg("Failed to record sync success")
		return
	}

	log.Debug().
		Uint("messageID", messageID).
		Bool("deduped", outcome.Deduped).
		Int("attempts", outcome.Attempts).
		Msg("Message delivered")
}
