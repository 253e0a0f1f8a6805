package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/api"
	"github.com/serenalabs/breath-engine/internal/archive"
	"github.com/serenalabs/breath-engine/internal/config"
	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/feedback"
	"github.com/serenalabs/breath-engine/internal/ingest"
	"github.com/serenalabs/breath-engine/internal/metrics"
	"github.com/serenalabs/breath-engine/internal/mqttclient"
	"github.com/serenalabs/breath-engine/internal/session"
	"github.com/serenalabs/breath-engine/internal/stream"
)

var version = "dev"

// pipelineStats adapts the registry and hub to the scrape-time
// collector.
type pipelineStats struct {
	registry *session.Registry
	hub      *stream.Hub
}

func (p pipelineStats) ActiveSessionCount() int { return p.registry.ActiveCount() }
func (p pipelineStats) SSESubscriberCount() int { return p.hub.TotalSubscribers() }

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "Postgres connection string")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-broker", "", "MQTT broker URL")
	flag.StringVar(&overrides.SpoolDir, "spool-dir", "", "NDJSON spool directory")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("breath-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}
	if err := db.Seed(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to seed reference data")
	}

	// Core pipeline
	hub := stream.NewHub(log)
	registry := session.NewRegistry()
	fb := feedback.NewGenerator(db, log)
	svc := ingest.NewService(db, registry, hub, fb, ingest.Options{
		SampleRate:     cfg.ECGSampleRate,
		StartThreshold: cfg.StartThreshold,
	}, log)
	defer svc.Close()

	prometheus.MustRegister(metrics.NewCollector(db.Pool, pipelineStats{registry: registry, hub: hub}))

	// Optional session archive
	var onSessionEnd func(sessionID string)
	if cfg.S3.Enabled() {
		archiver, err := archive.New(cfg.S3, db, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build session archiver")
		}
		headCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := archiver.HeadBucket(headCtx); err != nil {
			cancel()
			log.Fatal().Err(err).Str("bucket", cfg.S3.Bucket).Msg("archive bucket unreachable")
		}
		cancel()
		log.Info().Str("bucket", cfg.S3.Bucket).Msg("session archive enabled")

		onSessionEnd = func(sessionID string) {
			archiveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := archiver.ArchiveSession(archiveCtx, sessionID); err != nil {
				log.Error().Err(err).Str("session_id", sessionID).Msg("session archive failed")
			}
		}
		svc.SetSessionEndHook(onSessionEnd)
	}

	// Optional MQTT bridge
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topics:    cfg.MQTTTopics,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()

		bridge := ingest.NewMQTTBridge(svc, log)
		mqtt.SetMessageHandler(bridge.Handle)
	}

	// Optional spool replay
	var spool *ingest.SpoolWatcher
	if cfg.SpoolDir != "" {
		spool = ingest.NewSpoolWatcher(svc, cfg.SpoolDir, log)
		go func() {
			if err := spool.Run(ctx); err != nil {
				log.Error().Err(err).Msg("spool watcher failed")
			}
		}()
	}

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.Deps{
		DB:           db,
		Ingest:       svc,
		Hub:          hub,
		Registry:     registry,
		Feedback:     fb,
		MQTT:         mqtt,
		Spool:        spool,
		OnSessionEnd: onSessionEnd,
		Version:      version,
		StartTime:    startTime,
	}, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("breath-engine stopped")
}
