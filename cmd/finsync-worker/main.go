package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"finsync/internal/amqp"
	"finsync/internal/cache"
	"finsync/internal/cli"
	"finsync/internal/log"
	"finsync/internal/scheduler"
	"finsync/internal/services"
	"finsync/internal/worker"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = 5 * time.Minute
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting finsync-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	stack, err := cli.BuildSyncStack(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to build sync stack", log.FieldError, err)
		os.Exit(1)
	}

	// Optional broker: events out, sync requests in
	var amqpClient *amqp.Client
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(amqp.Config{
			URL:              cfg.AMQPURL,
			Exchange:         cfg.AMQPExchange,
			RequestQueue:     cfg.AMQPRequestQueue,
			EventsRoutingKey: cfg.AMQPEventsRouting,
		})
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without broker", log.FieldError, err)
			amqpClient = nil
		} else {
			stack.Coordinator.SetNotifier(amqpClient)
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPRequestQueue)
		}
	} else {
		logger.Info("AMQP disabled - sync runs on the poll interval only")
	}

	cacheManager := cache.NewManager()
	var invalidator worker.Invalidator
	if stack.Remote.Cached != nil {
		cacheManager.Register(stack.Remote.Cached.Cache())
		invalidator = stack.Remote.Cached
	}

	processor := services.NewSyncProcessor(stack.Coordinator, services.SyncProcessorConfig{
		PollInterval: cfg.SyncInterval,
		RequeueAge:   cfg.RequeueFailedAfter,
	})
	syncWorker := worker.NewSyncWorker(stack.Coordinator, invalidator)

	sched := scheduler.New(shutdownTimeout)
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.CategoryRefreshSchedule, scheduler.JobFunc{JobName: "category_refresh", Fn: syncWorker.ForceRefreshCategories}},
		{cfg.TransactionRefreshSchedule, scheduler.JobFunc{JobName: "transaction_refresh", Fn: syncWorker.RefreshTransactions}},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			logger.Error("Failed to register job", log.FieldError, err)
			os.Exit(1)
		}
	}

	root, stop := context.WithCancel(context.Background())
	defer stop()

	ctx, done := cli.GracefulShutdown(root, logger, shutdownTimeout, func(ctx context.Context) {
		logger.Info("Shutting down worker...", log.FieldOperation, log.OpShutdown)
		if err := processor.Stop(ctx); err != nil {
			logger.Warn("Sync processor stop failed", log.FieldError, err)
		}
		if err := sched.Stop(ctx); err != nil {
			logger.Warn("Scheduler stop failed", log.FieldError, err)
		}
		cacheManager.Stop()
	})

	logger.Info("Checking category cache...")
	if err := syncWorker.WarmCategories(ctx); err != nil {
		logger.Error("Failed to warm categories", log.FieldError, err)
	}

	logger.Info("Performing startup sync check...", log.FieldOperation, log.OpStartup)
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		if errors.Is(err, services.ErrNoPrimaryAccount) {
			logger.Error("No primary bank account on the remote; balance tracking is disabled", log.FieldError, err)
		} else {
			logger.Error("Failed startup sync check", log.FieldError, err)
		}
	}

	cacheManager.StartCleanup(cacheCleanupInterval)
	sched.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := stack.Ledger.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		if err := processor.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})

	if amqpClient != nil {
		g.Go(func() error {
			err := amqpClient.ConsumeSyncRequests(gctx, syncWorker.HandleSyncRequest)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
	}
	stop()
	cli.WaitForShutdown(ctx, done)

	// Nothing uses the stack past this point; push the last balance and close.
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stack.Close(closeCtx); err != nil {
		logger.Error("Failed to close sync stack", log.FieldError, err)
	}
	if amqpClient != nil {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close failed", log.FieldError, err)
		}
	}
	logger.Info("Worker shutdown complete")
}
