package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/driftlock/filestore/internal/api"
	"github.com/driftlock/filestore/internal/api/handlers"
	"github.com/driftlock/filestore/internal/api/middleware"
	"github.com/driftlock/filestore/internal/backend"
	"github.com/driftlock/filestore/internal/cache"
	"github.com/driftlock/filestore/internal/configuration"
	"github.com/driftlock/filestore/internal/services"
	"github.com/driftlock/filestore/internal/storage"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cfg := configuration.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg, log)

	backendConfigs, err := cfg.Backends()
	if err != nil {
		log.Fatal().Err(err).Msg("loading backend configurations")
	}
	registry, err := backend.NewRegistry(cfg.DefaultBackend.ID, backendConfigs...)
	if err != nil {
		log.Fatal().Err(err).Msg("building backend registry")
	}
	for _, bc := range backendConfigs {
		if err := backend.EnsureBucket(ctx, bc); err != nil {
			log.Warn().Err(err).Str("backend", bc.ID).Msg("bucket check failed")
		}
	}

	staging, err := services.NewStaging(cfg.StagingDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.StagingDir).Msg("creating staging directory")
	}

	var events *services.EventBus
	if cfg.NATSURL != "" {
		events, err = services.ConnectEvents(cfg.NATSURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("nats unavailable, events disabled")
		}
	}
	defer events.Close()

	var scanner *services.Scanner
	if cfg.CLAMAVURL != "" {
		scanner = services.NewScanner(cfg.CLAMAVURL, log)
	}

	if cfg.OIDCIssuer != "" {
		if err := middleware.InitAuth(ctx, cfg.OIDCIssuer, cfg.OIDCClient); err != nil {
			log.Fatal().Err(err).Msg("initializing oidc")
		}
	}

	recCache := cache.New(cfg.CacheSize, cfg.CacheTTL)
	ingestor := services.NewIngestor(store, recCache, registry, backend.NewClient, staging, events, scanner, log)
	ledger := services.NewLedger(store, recCache, log)
	gc := services.NewCollector(store, registry, backend.NewClient, recCache, events, log)
	gc.GraceWindow = cfg.GC.GraceWindow
	gc.BatchSize = cfg.GC.BatchSize
	resolver := services.NewResolver(store, recCache, registry, backend.NewClient, staging, log)

	sched := startSweeps(ctx, cfg, gc, log)

	r := gin.New()
	r.Use(gin.Recovery())
	api.RegisterRoutes(r, handlers.New(ingestor, ledger, gc, resolver, log))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	<-sched.Stop().Done()
	// Let in-flight background uploads finish before dropping staging.
	ingestor.Wait()
	log.Info().Msg("shutdown complete")
}

// openStore prefers PostgreSQL and degrades to the in-memory store so the
// service still comes up for local development without a database.
func openStore(ctx context.Context, cfg *configuration.Config, log zerolog.Logger) storage.FileStore {
	store, err := storage.NewPostgresStore(ctx, cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Warn().Err(err).Msg("postgres unavailable, falling back to in-memory store")
		return storage.NewMemoryStore()
	}
	return store
}

func startSweeps(ctx context.Context, cfg *configuration.Config, gc *services.Collector, log zerolog.Logger) *cron.Cron {
	sched := cron.New()
	mustSchedule(sched, cfg.GC.ExpirationSchedule, log, func() {
		if err := gc.RunExpirationSweep(ctx); err != nil {
			log.Error().Err(err).Msg("expiration sweep failed")
		}
	})
	mustSchedule(sched, cfg.GC.UnusedSchedule, log, func() {
		if err := gc.RunUnusedSweep(ctx); err != nil {
			log.Error().Err(err).Msg("unused sweep failed")
		}
	})
	sched.Start()
	return sched
}

func mustSchedule(sched *cron.Cron, spec string, log zerolog.Logger, job func()) {
	if _, err := sched.AddFunc(spec, job); err != nil {
		log.Fatal().Err(err).Str("schedule", spec).Msg("invalid cron expression")
	}
}
