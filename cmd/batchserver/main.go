// Command batchserver runs the self-hosted, OpenAI-compatible batch
// inference job server: the HTTP API, the admission-controlled
// scheduler, and the single GPU-bound worker, all in one process.
//
// try running the server with:
//
//	go run ./cmd/batchserver
//
// configuration is entirely environment-driven; see internal/config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sammcj/batchserve/internal/blobstore"
	"github.com/sammcj/batchserve/internal/config"
	"github.com/sammcj/batchserve/internal/engine"
	"github.com/sammcj/batchserve/internal/handlers"
	"github.com/sammcj/batchserve/internal/httpapi"
	"github.com/sammcj/batchserve/internal/logging"
	"github.com/sammcj/batchserve/internal/optimizer"
	"github.com/sammcj/batchserve/internal/scheduler"
	"github.com/sammcj/batchserve/internal/store"
	"github.com/sammcj/batchserve/internal/worker"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code per spec section 6: 0 clean
// shutdown, 1 startup config error, 2 unrecoverable storage error.
func run() int {
	logger := logging.NewDefaultLogger(logging.LogLevelInfo, logging.OutputTypePretty)

	cfg, err := config.Load()
	if err != nil {
		logger.Error(err, "startup config error")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(ctx, store.SQLiteConfig{Path: cfg.DatabasePath}, logger)
	if err != nil {
		logger.Error(err, "failed to open metadata store")
		return 2
	}
	defer st.Close(context.Background())

	blobs, err := blobstore.New(cfg.StoragePath)
	if err != nil {
		logger.Error(err, "failed to open blob store")
		return 2
	}

	registry := handlers.NewRegistry(logger)
	registry.Register(handlers.NewWebhookHandler(logger))
	registry.Register(handlers.NewFileCopyHandler(logger))

	opt := optimizer.New(optimizer.GPUInfo{}, optimizer.DefaultProfiles())
	eng := engine.NewHTTPEngine(cfg.EngineURL)

	schedCfg := scheduler.Config{
		MaxQueueDepth:           cfg.MaxQueueDepth,
		MaxRequestsPerJob:       cfg.MaxRequestsPerJob,
		MaxTotalQueuedRequests:  cfg.MaxTotalQueuedRequests,
		CompletionWindow:        cfg.CompletionWindow,
		HeartbeatInterval:       cfg.HeartbeatInterval,
		HeartbeatDeadMultiplier: 3,
	}
	sched := scheduler.New(schedCfg, st, logger)

	w := worker.New(
		worker.Config{ChunkSize: cfg.ChunkSize, RetryAttempts: cfg.RetryAttempts},
		st, blobs, eng, opt, registry, sched.Heartbeat(), logger,
	)
	sched.SetRunner(w)

	retention := store.NewRetention(st, blobs, cfg.CleanupAfterDays, logger)
	retention.Start()
	defer retention.Stop()

	if err := sched.ResumeAtStartup(ctx); err != nil {
		logger.Error(err, "failed to resume in-flight batches")
	}

	go sched.Run(ctx)

	server := httpapi.NewServer(cfg, st, blobs, sched, sched.Heartbeat(), logger)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		serverErr <- server.ListenAndServe(addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := server.Shutdown(); err != nil {
			logger.Error(err, "error during http server shutdown")
		}
	case err := <-serverErr:
		if err != nil {
			logger.Error(err, "http server exited")
			return 2
		}
	}

	return 0
}
