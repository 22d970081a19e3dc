package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for both the collector service and
// the ingest API. Fields not relevant to a given binary are simply unused.
type Config struct {
	// Device identity and backend endpoint (collector).
	DeviceID  string
	DeviceKey string
	ServerURL string
	Package   string

	// Local persistence (collector).
	DatabasePath string

	// Deduplicator tuning.
	DedupTTL        time.Duration
	DedupMaxEntries int

	// Sync client tuning.
	SyncMaxAttempts int
	SyncBaseDelay   time.Duration
	SyncTimeout     time.Duration

	// Scheduler tuning.
	RetryCeiling      int
	RetryInterval     time.Duration
	RetryBatchSize    int
	CleanupEnabled    bool
	CleanupInterval   time.Duration
	HeartbeatInterval time.Duration

	// Ingest API.
	IngestPort          string
	IngestDatabasePath  string
	IngestBucketSeconds int
	DedupCacheTTL       time.Duration

	// RabbitMQ hand-off for accepted events (ingest API, optional).
	RabbitURL   string
	RabbitQueue string
}

// Load reads configuration from environment variables, loading a .env file
// first when one is present. Environment variables take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{
		DeviceID:  envString("DEVICE_ID", "device-001"),
		DeviceKey: os.Getenv("DEVICE_KEY"),
		ServerURL: envString("SERVER_URL", "http://localhost:8001"),
		Package:   envString("SOURCE_PACKAGE", "com.kakao.talk"),

		DatabasePath: envString("DATABASE_PATH", "notisync.db"),

		DedupTTL:        envSeconds("DEDUP_TTL_SECONDS", 10),
		DedupMaxEntries: envInt("DEDUP_MAX_ENTRIES", 512),

		SyncMaxAttempts: envInt("SYNC_MAX_ATTEMPTS", 3),
		SyncBaseDelay:   envSeconds("SYNC_BASE_DELAY_SECONDS", 2),
		SyncTimeout:     envSeconds("SYNC_TIMEOUT_SECONDS", 10),

		RetryCeiling:      envInt("RETRY_CEILING", 10),
		RetryInterval:     envSeconds("RETRY_INTERVAL_SECONDS", 300),
		RetryBatchSize:    envInt("RETRY_BATCH_SIZE", 50),
		CleanupEnabled:    envBool("CLEANUP_ENABLED", true),
		CleanupInterval:   envSeconds("CLEANUP_INTERVAL_SECONDS", 3600),
		HeartbeatInterval: envSeconds("HEARTBEAT_INTERVAL_SECONDS", 120),

		IngestPort:          envString("INGEST_PORT", "8001"),
		IngestDatabasePath:  envString("INGEST_DATABASE_PATH", "ingest.db"),
		IngestBucketSeconds: envInt("INGEST_BUCKET_SECONDS", 10),
		DedupCacheTTL:       envSeconds("INGEST_DEDUP_CACHE_TTL_SECONDS", 30),

		RabbitURL:   os.Getenv("RABBITMQ_URL"),
		RabbitQueue: envString("RABBITMQ_QUEUE", "chat_events"),
	}

	return cfg, nil
}

func envString(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Debug().Str("key", key).Str("default", def).Msg("Env var not set, using default")
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("Invalid integer env var, using default")
		return def
	}
	return n
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Bool("default", def).Msg("Invalid boolean env var, using default")
		return def
	}
	return b
}
