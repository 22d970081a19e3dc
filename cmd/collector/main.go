package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/motionlabs/notisync/config"
	"github.com/motionlabs/notisync/internal/notification"
	"github.com/motionlabs/notisync/internal/pipeline"
	"github.com/motionlabs/notisync/internal/scheduler"
	"github.com/motionlabs/notisync/internal/store"
	"github.com/motionlabs/notisync/internal/syncer"
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

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local store")
	}

	client, err := syncer.NewClient(cfg.ServerURL, cfg.DeviceID, cfg.DeviceKey, cfg.Package, syncer.Options{
		MaxAttempts: cfg.SyncMaxAttempts,
		BaseDelay:   cfg.SyncBaseDelay,
		Timeout:     cfg.SyncTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sync client")
	}

	svc, err := pipeline.NewService(st, client, cfg.DedupTTL, cfg.DedupMaxEntries)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline service")
	}

	sched, err := scheduler.New(nil, st, client, scheduler.Options{
		CleanupEnabled:    cfg.CleanupEnabled,
		CleanupInterval:   cfg.CleanupInterval,
		RetryInterval:     cfg.RetryInterval,
		RetryCeiling:      cfg.RetryCeiling,
		RetryBatchSize:    cfg.RetryBatchSize,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Package:           cfg.Package,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	svc.OnListenerConnected()
	go sched.Run(ctx)

	// Local intake endpoint for the host adapter. The platform side posts
	// one RawNotification JSON per observed notification; this process
	// carries no platform dependency itself.
	http.HandleFunc("/notify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var raw notification.RawNotification
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		svc.OnRawNotification(raw)
		w.WriteHeader(http.StatusAccepted)
	})
	go func() {
		addr := ":8080"
		log.Info().Str("addr", addr).Msg("Collector intake listening")
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Fatal().Err(err).Msg("Intake server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	cancel()
	svc.Stop()
}
