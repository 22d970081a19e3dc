package store

import (
	"errors"
	"fmt"
	stlog "log"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the local database the collector persists rooms and messages
// into.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	gl := gormlogger.New(
		stlog.New(log.Logger, "", stlog.LstdFlags),
		gormlogger.Config{
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&Room{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("Local store ready")
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open gorm handle. Used by tests.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	if err := db.AutoMigrate(&Room{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// UpsertMessageWithRoom is the pipeline's idempotent write: look the room up
// by its business name, create it on first contact or update its lastMessage
// fields in place, then insert a new unsynced message owned by it. The whole
// unit runs in one transaction so a crash mid-operation cannot leave a
// message pointing at an uncommitted room. The sequencer already guarantees
// a single writer, but the contract must not assume it.
func (s *Store) UpsertMessageWithRoom(roomName, sender, body string, timestamp int64, rawPayload string) (uint, error) {
	if roomName == "" || body == "" {
		return 0, fmt.Errorf("roomName and body must be non-empty")
	}

	var messageID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var room Room
		err := tx.Where("room_name = ?", roomName).First(&room).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			room = Room{RoomName: roomName, LastMessage: body, LastMessageAt: timestamp}
			if err := tx.Create(&room).Error; err != nil {
				return fmt.Errorf("create room %q: %w", roomName, err)
			}
		case err != nil:
			return fmt.Errorf("lookup room %q: %w", roomName, err)
		default:
			updates := map[string]any{"last_message": body, "last_message_at": timestamp}
			if err := tx.Model(&room).Updates(updates).Error; err != nil {
				return fmt.Errorf("update room %q: %w", roomName, err)
			}
		}

		msg := Message{
			RoomID:     room.ID,
			Sender:     sender,
			Body:       body,
			Timestamp:  timestamp,
			RawPayload: rawPayload,
			SyncState:  SyncStateUnsynced,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("insert message for room %q: %w", roomName, err)
		}
		messageID = msg.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return messageID, nil
}

// MarkSynced records backend acceptance of the message.
func (s *Store) MarkSynced(messageID uint, at time.Time) error {
	res := s.db.Model(&Message{}).Where("id = ?", messageID).
		Updates(map[string]any{"sync_state": SyncStateSynced, "synced_at": at})
	if res.Error != nil {
		return fmt.Errorf("mark message %d synced: %w", messageID, res.Error)
	}
	return nil
}

// MarkFailed moves the message to the failed-retryable state after the
// immediate delivery attempts were exhausted. The retry count is untouched;
// it belongs to the scheduler.
func (s *Store) MarkFailed(messageID uint) error {
	res := s.db.Model(&Message{}).Where("id = ?", messageID).
		Update("sync_state", SyncStateFailed)
	if res.Error != nil {
		return fmt.Errorf("mark message %d failed: %w", messageID, res.Error)
	}
	return nil
}

// BumpRetry increments the retry count after a renewed scheduler-driven
// failure. The count only ever goes up.
func (s *Store) BumpRetry(messageID uint) error {
	res := s.db.Model(&Message{}).Where("id = ?", messageID).
		Update("retry_count", gorm.Expr("retry_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("bump retry for message %d: %w", messageID, res.Error)
	}
	return nil
}

// UnsyncedRow is one retryable message joined with its room name, which the
// wire contract needs.
type UnsyncedRow struct {
	ID         uint
	RoomName   string
	Sender     string
	Body       string
	Timestamp  int64
	RetryCount int
}

// ListUnsynced returns messages still awaiting backend acceptance whose
// retry count is below ceiling, oldest first.
func (s *Store) ListUnsynced(ceiling, limit int) ([]UnsyncedRow, error) {
	var rows []UnsyncedRow
	err := s.db.Model(&Message{}).
		Select("messages.id, rooms.room_name, messages.sender, messages.body, messages.timestamp, messages.retry_count").
		Joins("JOIN rooms ON rooms.id = messages.room_id").
		Where("messages.sync_state <> ? AND messages.retry_count < ?", SyncStateSynced, ceiling).
		Order("messages.id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list unsynced messages: %w", err)
	}
	return rows, nil
}

// CountUnsynced reports how many messages have not reached the backend yet,
// including those past the retry ceiling. This is the aggregate surfaced for
// metrics.
func (s *Store) CountUnsynced() (int64, error) {
	var n int64
	err := s.db.Model(&Message{}).Where("sync_state <> ?", SyncStateSynced).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unsynced messages: %w", err)
	}
	return n, nil
}
