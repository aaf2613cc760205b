package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/groblegark/scribe/internal/archive"
	"github.com/groblegark/scribe/internal/backfill"
	"github.com/groblegark/scribe/internal/config"
	"github.com/groblegark/scribe/internal/pipeline"
	"github.com/groblegark/scribe/internal/retry"
	"github.com/groblegark/scribe/internal/server"
	"github.com/groblegark/scribe/internal/source/natssource"
	"github.com/groblegark/scribe/internal/store/postgres"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the scribe ingestion server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an HTTP client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Connect to Postgres.
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		policy := retry.Default()
		policy.MaxAttempts = cfg.RetryMaxAttempts
		policy.MaxElapsed = cfg.RetryMaxElapsed

		// Assemble the ingestion pipeline.
		pipeCfg := pipeline.Config{
			MessageQueueCapacity: cfg.MessageQueueCapacity,
			ActionQueueCapacity:  cfg.ActionQueueCapacity,
			DedupCapacity:        cfg.DedupCapacity,
			ShutdownTimeout:      cfg.ShutdownTimeout,
			Writer: pipeline.WriterConfig{
				BatchSize:      cfg.BatchSize,
				FlushInterval:  cfg.FlushInterval,
				Policy:         policy,
				RequeueCeiling: cfg.RequeueCeiling,
			},
		}
		pipe := pipeline.New(store, pipeCfg, cfg, logger)
		pipe.Start()

		// Connect the live event source.
		var src *natssource.Source
		var coordinator *backfill.Coordinator
		if cfg.NATSURL != "" {
			src, err = natssource.Connect(cfg.NATSURL, pipe, logger)
			if err != nil {
				pipe.Stop()
				store.Close()
				return err
			}
			if err := src.Start(); err != nil {
				src.Close()
				pipe.Stop()
				store.Close()
				return err
			}
			logger.Info("live source started", "nats_url", cfg.NATSURL)

			// Backfill fetches history pages through the same gateway.
			coordinator = backfill.New(store, src, pipe, backfill.Config{
				PageSize:  cfg.BackfillPageSize,
				PageDelay: cfg.BackfillPageDelay,
				MaxAge:    cfg.BackfillMaxAge,
				Policy:    policy,
			}, logger)
		} else {
			logger.Info("live source disabled (SCRIBE_NATS_URL not set)")
		}

		// Resume interrupted backfills across every known channel.
		if coordinator != nil && cfg.BackfillOnStart {
			channelIDs, err := store.ListChannelIDs(context.Background())
			if err != nil {
				logger.Error("listing channels for backfill", "err", err)
			}
			for _, id := range channelIDs {
				started, err := coordinator.Start(context.Background(), id, true)
				if err != nil {
					logger.Error("starting backfill", "scope_id", id, "err", err)
					continue
				}
				if started {
					logger.Info("backfill started", "scope_id", id)
				}
			}
		}

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: server.New(store, pipe, coordinator, logger).Handler(),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start the archive scheduler if a destination is configured.
		var scheduler *archive.Scheduler
		if cfg.ArchiveInterval > 0 && cfg.ArchiveS3Bucket != "" {
			dest, err := archive.NewS3Destination(
				context.Background(),
				cfg.ArchiveS3Bucket,
				cfg.ArchiveS3Key,
				cfg.ArchiveS3Region,
				cfg.ArchiveS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				scheduler = archive.NewScheduler(store, []archive.Destination{dest}, cfg.ArchiveInterval, logger)
				scheduler.Start()
				logger.Info("archive scheduler started",
					"interval", cfg.ArchiveInterval,
					"bucket", cfg.ArchiveS3Bucket,
				)
			}
		}

		logger.Info("scribe server started", "http_addr", cfg.HTTPAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown: stop intake first, then drain, then close.
		if src != nil {
			src.Close()
			logger.Info("live source stopped")
		}
		if coordinator != nil {
			coordinator.StopAll()
			logger.Info("backfills paused")
		}

		pipe.Stop()
		logger.Info("pipeline drained")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
