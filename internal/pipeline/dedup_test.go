package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fp(body string) Fingerprint {
	return Fingerprint{Room: "Alice", Sender: "Alice", Body: body}
}

func TestDedupSuppressesWithinTTL(t *testing.T) {
	d := NewDeduplicator(10*time.Second, 512)
	now := time.Unix(1700000000, 0)

	assert.False(t, d.Seen(fp("hi"), now))
	assert.True(t, d.Seen(fp("hi"), now.Add(time.Second)))
	assert.True(t, d.Seen(fp("hi"), now.Add(9*time.Second)))
}

func TestDedupExpiresAfterTTL(t *testing.T) {
	d := NewDeduplicator(10*time.Second, 512)
	now := time.Unix(1700000000, 0)

	assert.False(t, d.Seen(fp("hi"), now))
	assert.False(t, d.Seen(fp("hi"), now.Add(11*time.Second)))
	// The re-record opens a fresh window.
	assert.True(t, d.Seen(fp("hi"), now.Add(12*time.Second)))
}

func TestDedupTimestampExcludedFromKey(t *testing.T) {
	// The same content with different host-reported timestamps is still one
	// logical message within the window.
	d := NewDeduplicator(10*time.Second, 512)
	now := time.Unix(1700000000, 0)

	a := Fingerprint{Room: "Alice", Sender: "Alice", Body: "hi"}
	b := Fingerprint{Room: "Alice", Sender: "Alice", Body: "hi"}
	assert.False(t, d.Seen(a, now))
	assert.True(t, d.Seen(b, now.Add(500*time.Millisecond)))
}

func TestDedupDistinctContentNotSuppressed(t *testing.T) {
	d := NewDeduplicator(10*time.Second, 512)
	now := time.Unix(1700000000, 0)

	assert.False(t, d.Seen(fp("hi"), now))
	assert.False(t, d.Seen(fp("hello"), now))
	assert.False(t, d.Seen(Fingerprint{Room: "Bob", Sender: "Bob", Body: "hi"}, now))
}

func TestDedupBoundedBySizeCap(t *testing.T) {
	const maxEntries = 64
	d := NewDeduplicator(time.Hour, maxEntries)
	now := time.Unix(1700000000, 0)

	for i := 0; i < maxEntries*4; i++ {
		d.Seen(fp(fmt.Sprintf("msg-%d", i)), now)
		assert.LessOrEqual(t, d.Len(), maxEntries)
	}
	assert.Equal(t, maxEntries, d.Len())

	// Oldest were force-evicted, newest survive.
	assert.True(t, d.Seen(fp(fmt.Sprintf("msg-%d", maxEntries*4-1)), now))
	assert.False(t, d.Seen(fp("msg-0"), now))
}

func TestDedupLazyEvictionFromOldest(t *testing.T) {
	d := NewDeduplicator(10*time.Second, 512)
	now := time.Unix(1700000000, 0)

	d.Seen(fp("old"), now)
	d.Seen(fp("fresh"), now.Add(9*time.Second))

	// "old" expires, "fresh" does not.
	assert.False(t, d.Seen(fp("old"), now.Add(11*time.Second)))
	assert.True(t, d.Seen(fp("fresh"), now.Add(11*time.Second)))
}

func TestDedupClear(t *testing.T) {
	d := NewDeduplicator(time.Hour, 512)
	now := time.Unix(1700000000, 0)

	d.Seen(fp("hi"), now)
	assert.Equal(t, 1, d.Len())

	d.Clear()
	assert.Equal(t, 0, d.Len())
	assert.False(t, d.Seen(fp("hi"), now.Add(time.Second)))
}
