package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"orcamento/internal/cache"
	"orcamento/internal/config"
	"orcamento/internal/core"
	"orcamento/internal/events"
	"orcamento/internal/export"
	"orcamento/internal/ledger"
	"orcamento/internal/remote"
	"orcamento/internal/remote/amqpstream"
	"orcamento/internal/remote/httpapi"
	"orcamento/internal/remote/memory"
	"orcamento/internal/storage"
	"orcamento/internal/store"
	orsync "orcamento/internal/sync"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting orcamentod")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	st := store.New()
	bus := events.NewBus()
	defer bus.Close()
	totals := cache.NewTotalsCache(512, 5*time.Minute)
	coord := orsync.NewCoordinator(st, ledger.New(st), repo, bus, totals)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Hydrate(ctx); err != nil {
		logger.Error("Failed to hydrate local cache", "error", err)
		os.Exit(1)
	}

	var backend remote.Backend
	if cfg.RemoteBaseURL != "" {
		backend = httpapi.NewClient(cfg.RemoteBaseURL, cfg.RemoteAuthToken)
		logger.Info("Using REST remote backend", "base_url", cfg.RemoteBaseURL)
	} else {
		backend = memory.New()
		logger.Info("No remote base URL configured, using in-memory backend")
	}

	pusher := orsync.NewPusher(repo, backend, coord, orsync.PusherConfig{
		PollInterval:    cfg.PushInterval,
		BatchSize:       cfg.PushBatchSize,
		MaxRetries:      cfg.PushMaxRetries,
		BaseBackoff:     5 * time.Second,
		MaxBackoff:      10 * time.Minute,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	})
	pusher.OnConflict = func(e *remote.ConflictError) {
		logger.Warn("Sync conflict resolved in favor of remote", "error", e)
	}
	if err := pusher.Start(ctx); err != nil {
		logger.Error("Failed to start push loop", "error", err)
		os.Exit(1)
	}

	// Replay anything still queued from the previous run, per workspace.
	reconciler := orsync.NewReconciler(pusher)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ws := range st.Workspaces() {
		g.Go(func() error {
			if err := reconciler.Reconcile(gctx, ws.ID); err != nil {
				if errors.Is(err, core.ErrNetworkUnavailable) {
					logger.Info("Backend unreachable, reconciliation deferred", "workspace_id", ws.ID)
					return nil
				}
				logger.Error("Startup reconciliation failed", "workspace_id", ws.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Remote change stream (optional).
	var amqpClient *amqpstream.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqpstream.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		go func() {
			err := amqpClient.ConsumeDeltas(ctx, func(msg *amqpstream.DeltaMessage) error {
				return coord.ApplyRemoteDelta(ctx, msg.Envelope)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Delta consumption failed", "error", err)
				cancel()
			}
		}()
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	// Sheets dashboard export (optional).
	var exporter *export.Exporter
	if cfg.GoogleSpreadsheetID != "" {
		exporter, err = export.NewExporter(ctx, st, export.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			OAuthClientFile: cfg.GoogleOAuthClientFile,
			OAuthClientJSON: cfg.GoogleOAuthClientJSON,
			OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
			OAuthTokenJSON:  cfg.GoogleOAuthTokenJSON,
		})
		if err != nil {
			logger.Error("Failed to initialize sheets export", "error", err)
			os.Exit(1)
		}
		if err := exporter.Start(ctx, bus); err != nil {
			logger.Error("Failed to start sheets export", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if exporter != nil {
		if err := exporter.Stop(shutdownCtx); err != nil {
			logger.Error("Sheets export shutdown error", "error", err)
		}
	}
	if err := pusher.Stop(shutdownCtx); err != nil {
		logger.Error("Push loop shutdown error", "error", err)
	}
	cancel()

	logger.Info("orcamentod stopped gracefully")
}
