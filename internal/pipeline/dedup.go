package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Fingerprint is the dedup key for one message. The timestamp is left out on
// purpose: hosts re-post updated versions of the same notification object as
// new text arrives, often with slightly different timestamps, and the loose
// key catches those retransmissions. The short TTL keeps the false-suppression
// window small.
type Fingerprint struct {
	Room   string
	Sender string
	Body   string
}

// Deduplicator is a bounded, time-windowed cache of recently processed
// fingerprints. Mutated only by the sequencer worker; the lock exists for
// occasional concurrent reads (metrics) and the reconnect clear.
type Deduplicator struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[Fingerprint]time.Time
	order   []Fingerprint // insertion order = age order
}

func NewDeduplicator(ttl time.Duration, maxSize int) *Deduplicator {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 512
	}
	return &Deduplicator{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[Fingerprint]time.Time),
	}
}

// Seen reports whether fp was recorded within the TTL window. A negative
// result records fp as a side effect.
func (d *Deduplicator) Seen(fp Fingerprint, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictExpired(now)

	if at, ok := d.entries[fp]; ok && now.Sub(at) < d.ttl {
		return true
	}

	d.entries[fp] = now
	d.order = append(d.order, fp)
	d.enforceCap()
	return false
}

// evictExpired walks from the oldest entry and stops at the first live one.
func (d *Deduplicator) evictExpired(now time.Time) {
	i := 0
	for ; i < len(d.order); i++ {
		fp := d.order[i]
		at, ok := d.entries[fp]
		if ok && now.Sub(at) < d.ttl {
			break
		}
		delete(d.entries, fp)
	}
	if i > 0 {
		d.order = d.order[i:]
	}
}

// enforceCap force-evicts the oldest entries when TTL eviction alone did not
// keep the cache under its memory bound.
func (d *Deduplicator) enforceCap() {
	for len(d.order) > d.maxSize {
		fp := d.order[0]
		d.order = d.order[1:]
		delete(d.entries, fp)
	}
}

// Len reports the current number of live fingerprints.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Clear drops the whole cache. Called when the host signals that the
// listener re-attached: reprocessing and leaning on server-side idempotency
// beats wrongly suppressing messages that arrived while disconnected.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	n := len(d.entries)
	d.entries = make(map[Fingerprint]time.Time)
	d.order = nil
	d.mu.Unlock()
	if n > 0 {
		log.Info().Int("cleared", n).Msg("Dedup cache cleared on listener reconnect")
	}
}
