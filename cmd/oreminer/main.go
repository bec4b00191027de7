// Package main implements the oreminer service.
// It searches for proof-of-work solutions and submits them to the ORE program.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/bardlex/oreminer/internal/config"
	"github.com/bardlex/oreminer/internal/events"
	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/internal/ledger/rpc"
	"github.com/bardlex/oreminer/internal/miner"
	"github.com/bardlex/oreminer/internal/search"
	"github.com/bardlex/oreminer/internal/submit"
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
	logger.Info("starting oreminer",
		"version", cfg.Version,
		"worker_mode", cfg.WorkerMode,
		"threads", cfg.SearchThreads,
		"continuous", cfg.Continuous,
	)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("oreminer failed")
		os.Exit(1)
	}
	logger.Info("oreminer stopped")
}

func run(cfg *config.Config, logger *log.Logger) error {
	gwCfg := rpc.DefaultConfig()
	gwCfg.Commitment = solanarpc.CommitmentType(cfg.Commitment)
	gwCfg.ConfirmTimeout = cfg.ConfirmTimeout

	gateway, err := rpc.Dial(cfg.RPCURL, cfg.KeypairPath, cfg.ProgramID, cfg.Mint, gwCfg, logger)
	if err != nil {
		return err
	}

	sinks, err := newSinkSet(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.WithError(err).Warn("failed to close event sinks")
		}
	}()

	app, err := NewMiner(cfg, logger, gateway, gateway, sinks.sinks)
	if err != nil {
		return err
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks.StartPeriodicTasks(ctx)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-sigChan:
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := app.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to stop mining session")
		}

		select {
		case runErr = <-errCh:
		case <-shutdownCtx.Done():
			logger.Warn("timed out waiting for the session to finish")
			cancel()
			runErr = <-errCh
		}
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	}

	app.Close()
	sinks.LogStats(gateway.PublicKey().String())
	logger.Info("session summary",
		"submitted", app.Submitted(),
		"breaker_state", gateway.BreakerStats().State.String(),
	)
	return runErr
}

// Gateway is the ledger access the miner needs
type Gateway interface {
	ledger.Gateway
	ledger.BalanceReader
}

// channel is a worker.Channel with a lifecycle
type channel interface {
	worker.Channel
	Start(ctx context.Context)
	Close()
}

// Miner wires the search engine, worker channel, submitter and controller
type Miner struct {
	cfg        *config.Config
	logger     *log.Logger
	gateway    Gateway
	fanout     *events.Fanout
	channel    channel
	controller *miner.Controller
}

// NewMiner builds a miner that signs as signer and reports to sinks. Events
// are always written to the log as well.
func NewMiner(cfg *config.Config, logger *log.Logger, gateway Gateway, signer ledger.Signer, sinks []events.Sink) (*Miner, error) {
	minerID := signer.PublicKey().String()
	fanout := events.NewFanout(0, logger, append([]events.Sink{events.NewLogSink(logger)}, sinks...)...)

	engine := search.NewEngine(&search.Config{
		Threads:          cfg.SearchThreads,
		ProgressInterval: uint64(cfg.ProgressInterval),
		OnProgress: func(p search.Progress) {
			fanout.Notify(events.Event{
				Kind:     events.KindProgress,
				Miner:    minerID,
				Attempts: p.Attempts,
				Nonce:    p.Nonce,
				Hashrate: p.Hashrate(),
			})
		},
	}, logger)

	ch, err := newChannel(cfg, engine, logger)
	if err != nil {
		return nil, err
	}

	submitter := submit.New(gateway, signer, submit.Config{
		Policy: cfg.SubmitPolicy(),
		OnRetry: func(failedBus, attempt int, err error) {
			fanout.Notify(events.Event{
				Kind:     events.KindRetry,
				Miner:    minerID,
				Bus:      failedBus,
				Attempts: uint64(attempt),
				Error:    err.Error(),
			})
		},
		OnEpochReset: func(id ledger.TransactionID) {
			fanout.Notify(events.Event{
				Kind:      events.KindReset,
				Miner:     minerID,
				Signature: id.String(),
			})
		},
	}, logger)

	controller := miner.NewController(gateway, signer, ch, submitter, fanout,
		miner.Config{Continuous: cfg.Continuous}, logger)

	return &Miner{
		cfg:        cfg,
		logger:     logger.WithComponent("oreminer").WithMiner(minerID),
		gateway:    gateway,
		fanout:     fanout,
		channel:    ch,
		controller: controller,
	}, nil
}

func newChannel(cfg *config.Config, engine *search.Engine, logger *log.Logger) (channel, error) {
	switch cfg.WorkerMode {
	case config.WorkerModeRemote:
		remote, err := worker.Dial(cfg.WorkerEndpoint, logger)
		if err != nil {
			return nil, err
		}
		return remote, nil
	case config.WorkerModeLocal, "":
		return worker.New(engine, logger), nil
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "worker_mode",
			fmt.Sprintf("unknown worker mode %q", cfg.WorkerMode))
	}
}

// Run starts the worker and mines until the session ends. An ineligible
// balance is not an error.
func (m *Miner) Run(ctx context.Context) error {
	m.fanout.Start(ctx)
	m.channel.Start(ctx)

	balance, err := m.gateway.GetBalance(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeGateway, "get_balance", "failed to read balance")
	}

	started, err := m.controller.StartMining(ctx, balance)
	if err != nil {
		return err
	}
	if !started {
		m.logger.Warn("miner is not eligible", "balance", balance, "min_balance", ledger.MinBalance)
		return nil
	}

	return m.controller.Run(ctx)
}

// Stop ends the mining session
func (m *Miner) Stop(ctx context.Context) error {
	return m.controller.Stop(ctx)
}

// Submitted returns the number of confirmed submissions
func (m *Miner) Submitted() uint64 {
	return m.controller.Submitted()
}

// Close stops the worker and flushes queued events. Run must have returned.
func (m *Miner) Close() {
	m.channel.Close()
	m.fanout.Close()
}
