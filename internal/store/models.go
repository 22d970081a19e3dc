package store

import (
	"time"
)

// Sync states a stored message moves through. A message is created unsynced,
// becomes synced on backend acceptance (a deduped acceptance counts), and
// becomes failed when the immediate delivery attempts are exhausted. Failed
// messages keep their retry count; the scheduler bumps it on every renewed
// failure and gives up past the ceiling without ever deleting the row.
const (
	SyncStateUnsynced = "unsynced"
	SyncStateSynced   = "synced"
	SyncStateFailed   = "failed"
)

// Room is one chat room, keyed by its business name. Rooms are updated in
// place on every message so their identity (and anything a UI hangs off it)
// survives; the pipeline never deletes them.
type Room struct {
	ID            uint      `gorm:"primaryKey"`
	RoomName      string    `gorm:"uniqueIndex;not null"`
	LastMessage   string    `gorm:"type:text"`
	LastMessageAt int64     `gorm:"comment:ms epoch of the latest message"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// Message is one accepted chat message. Immutable except for the sync
// fields.
type Message struct {
	ID         uint       `gorm:"primaryKey"`
	RoomID     uint       `gorm:"index;not null"`
	Sender     string     `gorm:"not null"`
	Body       string     `gorm:"type:text;not null"`
	Timestamp  int64      `gorm:"comment:ms epoch as reported by the source"`
	RawPayload string     `gorm:"type:text;comment:diagnostic JSON dump of the source notification"`
	SyncState  string     `gorm:"index;default:unsynced"`
	RetryCount int        `gorm:"default:0;comment:scheduler retry attempts, only ever increments"`
	SyncedAt   *time.Time `gorm:""`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
}
