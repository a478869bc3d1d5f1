// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/finsync and cmd/finsync-worker.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"finsync/internal/backend"
	"finsync/internal/config"
	"finsync/internal/log"
	"finsync/internal/services"
	"finsync/internal/storage"
)

// SetupLogger initializes structured logging from LOG_LEVEL and LOG_FORMAT.
// Returns the configured logger and sets it as the default logger.
func SetupLogger(component string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Component = component
	if level, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		cfg.Level = level
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		cfg.Format = "json"
	}

	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	sqliteRepo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, log.FieldPath, dbPath)
		os.Exit(1)
	}
	return sqliteRepo
}

// SyncStack is everything needed to run sync operations against one local
// store and one remote backend.
type SyncStack struct {
	Repo        *storage.SQLiteRepository
	Remote      *backend.GatewayResult
	Ledger      *services.BalanceLedger
	Coordinator *services.Coordinator
}

// BuildSyncStack wires the local store, the remote gateway, the balance
// ledger and the coordinator.
func BuildSyncStack(ctx context.Context, logger *log.Logger, cfg *config.Config) (*SyncStack, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := backend.NewFactory().CreateGateway(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("create remote gateway: %w", err)
	}

	repo := InitSQLite(logger, cfg.SQLiteDBPath)
	ledger := services.NewBalanceLedger(gw.Gateway)
	coord := services.NewCoordinator(gw.Gateway, repo, repo, ledger, services.CoordinatorConfig{
		MaxRejections: cfg.MaxRejections,
	})

	logger.Info("Sync stack ready",
		"backend", backendCfg.Type,
		log.FieldPath, cfg.SQLiteDBPath,
		"category_cache", gw.Cached != nil)

	return &SyncStack{Repo: repo, Remote: gw, Ledger: ledger, Coordinator: coord}, nil
}

// Close pushes the last balance snapshot and releases every resource.
func (s *SyncStack) Close(ctx context.Context) error {
	var errs []error
	if err := s.Ledger.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop balance persister: %w", err))
	}
	if err := s.Ledger.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush balance: %w", err))
	}
	if s.Remote.Cleanup != nil {
		if err := s.Remote.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("remote cleanup: %w", err))
		}
	}
	if err := s.Repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals or when parent
// ends, and a channel that signals when cleanup is complete.
func GracefulShutdown(parent context.Context, logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
