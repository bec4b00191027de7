// Package submit commits mined solutions to the ledger.
//
// A submission pass reads the treasury and clock, resets the epoch when it has
// expired, and sends a mine transaction on the current bus. A failed mine
// transaction is treated as bus contention: the next pass moves to the next
// bus and re-checks the epoch, since ledger time may have advanced meanwhile.
package submit

import (
	"context"
	"time"

	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
	"github.com/bardlex/oreminer/pkg/retry"
)

// Config holds submission settings
type Config struct {
	// EpochDuration is added to the treasury epoch start to find its end.
	EpochDuration int64

	// Policy bounds the mine attempts. Nil means retry.SubmissionConfig:
	// unlimited attempts with no delay.
	Policy *retry.Config

	// OnRetry is called after a rejected mine transaction, before the next pass.
	OnRetry func(failedBus, attempt int, err error)

	// OnEpochReset is called after a reset-epoch transaction confirms.
	OnEpochReset func(id ledger.TransactionID)
}

// Result describes a confirmed mine transaction
type Result struct {
	Signature ledger.TransactionID
	Bus       int
	Attempts  int
	Resets    int
	Duration  time.Duration
}

// Submitter runs the submission loop against a gateway
type Submitter struct {
	gateway ledger.Gateway
	signer  ledger.Signer
	config  Config
	logger  *log.Logger
}

// New creates a submitter
func New(gateway ledger.Gateway, signer ledger.Signer, cfg Config, logger *log.Logger) *Submitter {
	if cfg.EpochDuration <= 0 {
		cfg.EpochDuration = ledger.EpochDuration
	}
	if cfg.Policy == nil {
		cfg.Policy = retry.SubmissionConfig()
	}
	return &Submitter{
		gateway: gateway,
		signer:  signer,
		config:  cfg,
		logger:  logger.WithComponent("submitter").WithMiner(signer.PublicKey().String()),
	}
}

// Submit commits resp and returns the mine transaction's identifier
func (s *Submitter) Submit(ctx context.Context, resp ledger.MineResponse) (ledger.TransactionID, error) {
	res, err := s.SubmitWithResult(ctx, resp)
	if err != nil {
		return ledger.TransactionID{}, err
	}
	return res.Signature, nil
}

// SubmitWithResult is Submit that also reports the bus and attempt count
func (s *Submitter) SubmitWithResult(ctx context.Context, resp ledger.MineResponse) (*Result, error) {
	start := time.Now()
	signer := s.signer.PublicKey()
	busID := 0
	resets := 0

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reset, err := s.resetIfExpired(ctx, signer)
		if err != nil {
			return nil, err
		}
		if reset {
			resets++
		}

		sig, err := s.gateway.SendAndConfirm(ctx, ledger.MineInstruction(signer, busID, resp.Hash, resp.Nonce))
		if err == nil {
			s.logger.LogSubmission(sig.String(), busID, attempt, "confirmed")
			return &Result{
				Signature: sig,
				Bus:       busID,
				Attempts:  attempt,
				Resets:    resets,
				Duration:  time.Since(start),
			}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		contention := errors.Wrap(err, errors.ErrorTypeContention, "submit_mine",
			"mine transaction rejected").
			WithContext("bus", busID).
			WithContext("attempt", attempt)

		s.logger.WithBus(busID).WithError(err).Warn("mine transaction failed, rotating bus",
			"attempt", attempt,
			"next_bus", ledger.NextBus(busID),
		)
		if s.config.OnRetry != nil {
			s.config.OnRetry(busID, attempt, contention)
		}

		if s.config.Policy.Exhausted(attempt) {
			return nil, errors.Wrap(contention, errors.ErrorTypeGateway, "submit",
				"submission attempts exhausted").
				WithContext("max_attempts", s.config.Policy.MaxAttempts)
		}

		busID = ledger.NextBus(busID)

		if err := retry.Wait(ctx, s.config.Policy.Delay(attempt-1)); err != nil {
			return nil, err
		}
	}
}

// resetIfExpired reads the treasury and clock and sends a reset-epoch
// transaction when the epoch has ended. A failed reset aborts the submission.
func (s *Submitter) resetIfExpired(ctx context.Context, signer ledger.PublicKey) (bool, error) {
	treasury, err := s.gateway.GetTreasury(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeGateway, "get_treasury",
			"failed to read treasury")
	}

	clock, err := s.gateway.GetClock(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeGateway, "get_clock",
			"failed to read clock")
	}

	if !ledger.NeedsEpochReset(treasury, clock, s.config.EpochDuration) {
		return false, nil
	}

	epochEnd := ledger.EpochEnd(treasury, s.config.EpochDuration)
	sig, err := s.gateway.SendAndConfirm(ctx, ledger.ResetInstruction(signer))
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeEpochReset, "reset_epoch",
			"reset-epoch transaction failed").
			WithContext("epoch_end", epochEnd).
			WithContext("clock", clock.UnixTimestamp)
	}

	s.logger.LogEpochReset(treasury.EpochStartAt, epochEnd, clock.UnixTimestamp)
	if s.config.OnEpochReset != nil {
		s.config.OnEpochReset(sig)
	}
	return true, nil
}
