package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/softaidev/assistant-ledger/cmd/mainconfig"
	"github.com/softaidev/assistant-ledger/internal/app/bootstrap"
	"github.com/softaidev/assistant-ledger/internal/config"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// queue-worker delivers queued support-inbox forwards for deployments that
// run more than one API instance.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfigIfNeeded(ctx, cfg, bootstrap.NeedsAWS(cfg))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	app, err := bootstrap.New(ctx, cfg, awsCfg, prometheus.NewRegistry(), logger)
	if err != nil {
		logger.Error("failed to initialize queue worker", "error", err)
		os.Exit(1)
	}
	if app.Storage.Backend == bootstrap.BackendMemory {
		app.Close()
		logger.Error("queue worker requires a shared storage backend")
		os.Exit(1)
	}
	defer app.Close()

	deliverer := app.Deliverer()
	done := make(chan struct{})
	go func() {
		defer close(done)
		deliverer.Start(ctx)
	}()
	logger.Info("email queue worker started", "interval", cfg.EmailQueueInterval, "batch_size", cfg.EmailQueueBatchSize)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("email queue worker shutting down")
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("queue drain did not finish before timeout")
	}
}
