package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/dispatch"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/scorer"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.RunMigrations && cfg.PGDSN != "" {
		runMigrations(cfg.PGDSN, logger.Info)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := presence.NewRegistry()
	registry.StartSweeper(ctx, cfg.PresenceSweepInterval, cfg.PresenceTTL)

	var store storage.RideStore = storage.NewMemoryStore()
	var dir directory.Directory
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Warn("postgres unavailable, using memory ride store", "error", err)
		}
		if pd, err := directory.NewPostgres(cfg.PGDSN); err == nil {
			dir = pd
		}
	}

	rank := scorer.New(scorer.Config{
		Weights: scorer.Weights{
			Distance:   cfg.Scorer.WeightDistance,
			Rating:     cfg.Scorer.WeightRating,
			Completion: cfg.Scorer.WeightCompletion,
			Comfort:    cfg.Scorer.WeightComfort,
		},
		FallbackRating:     cfg.Scorer.FallbackRating,
		FallbackCompletion: cfg.Scorer.FallbackCompletion,
		TopN:               cfg.Scorer.TopN,
		DefaultSpeedMps:    cfg.Dispatch.DriverSpeedMps,
		FareBase:           cfg.Scorer.FareBase,
		FarePerKm:          cfg.Scorer.FarePerKm,
	}, registry, dir)

	hub := dispatch.NewHub(registry, logger)

	var fares payments.FareHolder
	if cfg.StripeEnabled {
		fares = payments.NewStripeClient()
	}
	manager := lifecycle.NewManager(store, hub, fares, logger)
	manager.Currency = cfg.FareCurrency

	coord := dispatch.NewCoordinator(dispatch.Config{
		InitialRadiusKm:  cfg.Dispatch.InitialRadiusKm,
		ExpandedRadiusKm: cfg.Dispatch.ExpandedRadiusKm,
		PhaseTimeout:     cfg.Dispatch.PhaseTimeout,
		BatchSize:        cfg.Dispatch.BatchSize,
		DriverSpeedMps:   cfg.Dispatch.DriverSpeedMps,
	}, rank, hub, store, manager, logger)
	manager.SetDispatcher(coord)

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	api := httpapi.NewServer(httpapi.Deps{
		Registry: registry,
		Scorer:   rank,
		Rides:    manager,
		Coord:    coord,
		Hub:      hub,
		Kafka:    producer,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string, info func(string, ...any)) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	info("migration applied", "file", "001_create_rides.sql")
}
