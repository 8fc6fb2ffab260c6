// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github-star-browser/internal/api"
	"github-star-browser/internal/config"
	"github-star-browser/internal/cron"
	"github-star-browser/internal/database"
	"github-star-browser/internal/durable"
	"github-star-browser/internal/github"
	"github-star-browser/internal/setup"
	"github-star-browser/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize the durable execution substrate
	exec := durable.NewExecutor(durable.NewPostgresBackend(dbpool))
	worker := durable.NewWorker(exec, logger, durable.WorkerConfig{
		PollInterval: cfg.WorkerPollEvery,
		MaxAttempts:  cfg.WorkerMaxAttempts,
	})

	// 6. Initialize application components
	store := database.New(dbpool)
	ghClient := github.NewClient(cfg.GithubToken, logger)

	syncService := syncer.NewService(exec, store, ghClient, logger, syncer.Config{
		Production:   cfg.IsProduction(),
		PageSize:     cfg.StarredPageSize,
		ReadmeMaxAge: cfg.ReadmeMaxAge(),
	})
	syncService.Register(worker)

	dispatcher := cron.NewRunDispatcher(exec)
	dispatcher.Route(setup.TargetService, setup.TargetMethod, syncer.WorkflowSyncStarred)

	cronActor := cron.NewActor(exec, dispatcher, logger)
	worker.RegisterActorHandler(cron.HandlerExecute, cronActor.Execute)

	setupService := setup.NewService(cronActor, cfg.SyncCron, logger)
	if _, err := setupService.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize daily sync job: %w", err)
	}

	// 7. Start the worker and the HTTP server
	router := api.NewRouter(store, setupService, syncService, logger)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Worker started")
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP server started", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
