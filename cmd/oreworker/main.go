// Package main implements the oreworker service.
// It hosts a hash search worker behind a ZMQ socket for a remote oreminer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bardlex/oreminer/internal/config"
	"github.com/bardlex/oreminer/internal/search"
	"github.com/bardlex/oreminer/internal/worker"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting oreworker",
		"version", cfg.Version,
		"bind", cfg.WorkerBind,
		"threads", cfg.SearchThreads,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	svc := NewService(cfg, logger)
	if err := svc.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("worker server failed")
		os.Exit(1)
	}

	logger.Info("oreworker stopped")
}

// Service runs a local search worker and serves it over ZMQ
type Service struct {
	cfg    *config.Config
	logger *log.Logger
	worker *worker.Worker
	server *worker.Server
}

// NewService creates the worker service
func NewService(cfg *config.Config, logger *log.Logger) *Service {
	svcLogger := logger.WithComponent("oreworker")

	engine := search.NewEngine(&search.Config{
		Threads:          cfg.SearchThreads,
		ProgressInterval: uint64(cfg.ProgressInterval),
		OnProgress: func(p search.Progress) {
			svcLogger.LogSearchProgress(p.Attempts, p.Nonce, p.Hashrate())
		},
	}, logger)

	w := worker.New(engine, logger)

	return &Service{
		cfg:    cfg,
		logger: svcLogger,
		worker: w,
		server: worker.NewServer(cfg.WorkerBind, w, logger),
	}
}

// Serve runs until ctx is cancelled or the socket fails
func (s *Service) Serve(ctx context.Context) error {
	s.worker.Start(ctx)
	defer s.worker.Close()

	return s.server.Serve(ctx)
}
