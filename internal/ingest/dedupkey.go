package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// HashText derives the content half of the dedup key: a SHA-256 over room,
// sender and text. Identical content always collides regardless of which
// delivery attempt carried it.
func HashText(chatRoom, senderName, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", chatRoom, senderName, text)))
	return hex.EncodeToString(sum[:])
}

// BucketTs truncates receivedAt into a fixed-width bucket, unix seconds.
// The width trades dedup strictness against legitimate rapid repeats (a
// customer sending "?" twice in five seconds), so it is configuration, not a
// constant.
func BucketTs(receivedAt time.Time, width time.Duration) int64 {
	if width <= 0 {
		width = 10 * time.Second
	}
	return receivedAt.UTC().Truncate(width).Unix()
}
