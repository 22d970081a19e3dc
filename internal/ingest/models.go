package ingest

import (
	"time"
)

// MessageEvent is one ingested chat message. The unique index on
// (text_hash, bucket_ts) is the idempotency boundary: a resubmission of the
// same content within the same bucket collides here and is answered with
// deduped:true instead of an error.
type MessageEvent struct {
	ID           uint      `gorm:"primaryKey"`
	EventID      string    `gorm:"uniqueIndex;not null"`
	DeviceID     string    `gorm:"index;not null"`
	Package      string    `gorm:""`
	ChatRoom     string    `gorm:"index;not null"`
	SenderName   string    `gorm:"not null"`
	TextRaw      string    `gorm:"type:text;not null"`
	TextHash     string    `gorm:"uniqueIndex:idx_dedup;not null"`
	BucketTs     int64     `gorm:"uniqueIndex:idx_dedup;not null;comment:received_at truncated to the bucket width, unix seconds"`
	ReceivedAt   time.Time `gorm:"index;not null"`
	MetadataJSON string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// DeviceHeartbeat tracks the last time each collector device checked in.
type DeviceHeartbeat struct {
	ID         uint      `gorm:"primaryKey"`
	DeviceID   string    `gorm:"uniqueIndex;not null"`
	LastSeenAt time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}
