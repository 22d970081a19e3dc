package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	stlog "log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// EventPublisher is the hand-off for accepted events.
type EventPublisher interface {
	Publish(data []byte)
}

// Options configures the ingest server.
type Options struct {
	DeviceKey     string
	BucketWidth   time.Duration
	DedupCacheTTL time.Duration
}

// Server is the backend ingest API: the idempotent write path collectors
// deliver into.
type Server struct {
	db        *gorm.DB
	router    *mux.Router
	publisher EventPublisher
	dedupHot  *gocache.Cache
	opts      Options
}

type eventRequest struct {
	DeviceID       string          `json:"device_id"`
	Package        string          `json:"package"`
	ChatRoom       string          `json:"chat_room"`
	SenderName     string          `json:"sender_name"`
	Text           string          `json:"text"`
	ReceivedAt     time.Time       `json:"received_at"`
	NotificationID string          `json:"notification_id,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type eventResponse struct {
	Ok      bool   `json:"ok"`
	EventID string `json:"event_id"`
	Deduped bool   `json:"deduped"`
}

type heartbeatRequest struct {
	DeviceID string    `json:"device_id"`
	Ts       time.Time `json:"ts"`
}

type errorResponse struct {
	Ok    bool        `json:"ok"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OpenDB connects to the ingest database and migrates the schema.
// TranslateError is on so a dedup collision surfaces as
// gorm.ErrDuplicatedKey instead of a driver-specific error string.
func OpenDB(dsn string) (*gorm.DB, error) {
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
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gl, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&MessageEvent{}, &DeviceHeartbeat{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return db, nil
}

// NewServer assembles the router, middleware chain and handlers.
func NewServer(db *gorm.DB, publisher EventPublisher, opts Options) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	if opts.DeviceKey == "" {
		return nil, fmt.Errorf("device key cannot be empty")
	}
	if opts.BucketWidth <= 0 {
		opts.BucketWidth = 10 * time.Second
	}
	if opts.DedupCacheTTL <= 0 {
		opts.DedupCacheTTL = 30 * time.Second
	}

	s := &Server{
		db:        db,
		publisher: publisher,
		dedupHot:  gocache.New(opts.DedupCacheTTL, time.Minute),
		opts:      opts,
	}

	r := mux.NewRouter()
	authed := alice.New(s.logRequest, s.requireDeviceKey)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/v1/events", authed.ThenFunc(s.handleEvent)).Methods(http.MethodPost)
	r.Handle("/v1/heartbeat", authed.ThenFunc(s.handleHeartbeat)).Methods(http.MethodPost)

	s.router = r
	log.Info().
		Dur("bucketWidth", opts.BucketWidth).
		Msg("Ingest server ready")
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

func (s *Server) requireDeviceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Device-Key")
		if key == "" || key != s.opts.DeviceKey {
			s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid device key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "ingest-api"})
}

// handleEvent performs the idempotent write. The dedup key is a content hash
// combined with a fixed-width time bucket of received_at; a uniqueness
// violation on insert is answered with deduped:true, never an error. A hot
// in-memory cache of recent keys short-circuits the database round-trip for
// tight retransmissions.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.ChatRoom == "" || req.SenderName == "" || req.Text == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION", "device_id, chat_room, sender_name and text are required")
		return
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}

	textHash := HashText(req.ChatRoom, req.SenderName, req.Text)
	bucketTs := BucketTs(req.ReceivedAt, s.opts.BucketWidth)
	hotKey := fmt.Sprintf("%s:%d", textHash, bucketTs)

	if cached, found := s.dedupHot.Get(hotKey); found {
		s.respondJSON(w, http.StatusOK, eventResponse{Ok: true, EventID: cached.(string), Deduped: true})
		return
	}

	event := MessageEvent{
		EventID:      uuid.NewString(),
		DeviceID:     req.DeviceID,
		Package:      req.Package,
		ChatRoom:     req.ChatRoom,
		SenderName:   req.SenderName,
		TextRaw:      req.Text,
		TextHash:     textHash,
		BucketTs:     bucketTs,
		ReceivedAt:   req.ReceivedAt.UTC(),
		MetadataJSON: string(req.Metadata),
	}

	err := s.db.Create(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing MessageEvent
			ferr := s.db.Where("text_hash = ? AND bucket_ts = ?", textHash, bucketTs).First(&existing).Error
			if ferr != nil {
				log.Error().Err(ferr).Msg("Dedup conflict but existing event not found")
				s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Dedup conflict")
				return
			}
			s.dedupHot.SetDefault(hotKey, existing.EventID)
			log.Debug().
				Str("chatRoom", req.ChatRoom).
				Str("eventID", existing.EventID).
				Msg("Duplicate event absorbed")
			s.respondJSON(w, http.StatusOK, eventResponse{Ok: true, EventID: existing.EventID, Deduped: true})
			return
		}
		log.Error().Err(err).Str("chatRoom", req.ChatRoom).Msg("Failed to store event")
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store event")
		return
	}

	s.dedupHot.SetDefault(hotKey, event.EventID)

	if s.publisher != nil {
		if data, merr := json.Marshal(event); merr == nil {
			s.publisher.Publish(data)
		} else {
			log.Error().Err(merr).Msg("Failed to marshal event for publishing")
		}
	}

	log.Info().
		Str("eventID", event.EventID).
		Str("deviceID", event.DeviceID).
		Str("chatRoom", event.ChatRoom).
		Msg("Event ingested")
	s.respondJSON(w, http.StatusOK, eventResponse{Ok: true, EventID: event.EventID})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION", "device_id is required")
		return
	}
	if req.Ts.IsZero() {
		req.Ts = time.Now().UTC()
	}

	var hb DeviceHeartbeat
	err := s.db.Where("device_id = ?", req.DeviceID).First(&hb).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hb = DeviceHeartbeat{DeviceID: req.DeviceID, LastSeenAt: req.Ts}
		err = s.db.Create(&hb).Error
	case err == nil:
		err = s.db.Model(&hb).Update("last_seen_at", req.Ts).Error
	}
	if err != nil {
		log.Error().Err(err).Str("deviceID", req.DeviceID).Msg("Failed to record heartbeat")
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to record heartbeat")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, code, message string) {
	s.respondJSON(w, statusCode, errorResponse{Error: errorDetail{Code: code, Message: message}})
}
