package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"savebuddy/internal/amqp"
	"savebuddy/internal/api"
	"savebuddy/internal/cli"
	"savebuddy/internal/ledger"
	"savebuddy/internal/log"
	"savebuddy/internal/worker"
)

func main() {
	cfg, logger := cli.Init(log.ComponentWorker)
	logger.Info("Starting savebuddy-worker")

	if cfg.LedgerBackend != "local" {
		logger.Error("The sync worker needs the local ledger backend", "backend", cfg.LedgerBackend)
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	client, err := api.New(cfg.APIBaseURL, cli.Tokens(cfg, repo, true), cfg.HTTPTimeout)
	if err != nil {
		logger.Error("Failed to create API client", log.FieldError, err)
		os.Exit(1)
	}

	l := ledger.New(repo, ledger.WithSyncer(ledger.NewRemoteSyncer(client)))
	syncWorker := worker.NewSyncWorker(l, repo, worker.Config{
		PollInterval: cfg.SyncInterval,
		BatchSize:    cfg.SyncBatchSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// On startup, push any completions whose messages were missed
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", log.FieldError, err)
		// Don't exit - the periodic sweep retries
	}

	if err := syncWorker.Start(ctx); err != nil {
		logger.Error("Failed to start sync worker", log.FieldError, err)
		os.Exit(1)
	}

	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		go func() {
			if err := amqpClient.ConsumeCompletionSync(ctx, syncWorker.HandleSyncMessage); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error("Message consumption failed", log.FieldError, err)
				}
				cancel()
			}
		}()
	} else {
		logger.Info("AMQP disabled - relying on the periodic sweep", "interval", cfg.SyncInterval)
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

	logger.Info("Shutting down worker...", log.FieldOperation, log.OpShutdown)
	if err := syncWorker.Stop(shutdownCtx); err != nil {
		logger.Warn("Worker stop timed out", log.FieldError, err)
	}
	cancel()
}
