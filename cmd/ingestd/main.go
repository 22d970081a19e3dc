package main

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/motionlabs/notisync/config"
	"github.com/motionlabs/notisync/internal/ingest"
	"github.com/motionlabs/notisync/pkg/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.DeviceKey == "" {
		log.Fatal().Msg("DEVICE_KEY must be set")
	}

	db, err := ingest.OpenDB(cfg.IngestDatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ingest database")
	}

	publisher := ingest.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	defer publisher.Close()

	srv, err := ingest.NewServer(db, publisher, ingest.Options{
		DeviceKey:     cfg.DeviceKey,
		BucketWidth:   time.Duration(cfg.IngestBucketSeconds) * time.Second,
		DedupCacheTTL: cfg.DedupCacheTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ingest server")
	}

	addr := ":" + cfg.IngestPort
	log.Info().Str("addr", addr).Msg("Ingest API listening")
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Ingest server failed")
	}
}
