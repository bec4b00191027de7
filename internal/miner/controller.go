// Package miner drives a mining session: eligibility, provisioning, search
// dispatch and submission of results.
package miner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bardlex/oreminer/internal/events"
	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/internal/search"
	"github.com/bardlex/oreminer/internal/submit"
	"github.com/bardlex/oreminer/internal/worker"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
)

// Phase is the session state
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEligibilityCheck
	PhaseProvisioning
	PhaseSearching
	PhaseSubmitting
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEligibilityCheck:
		return "eligibility_check"
	case PhaseProvisioning:
		return "provisioning"
	case PhaseSearching:
		return "searching"
	case PhaseSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Submitter commits a solution to the ledger
type Submitter interface {
	SubmitWithResult(ctx context.Context, resp ledger.MineResponse) (*submit.Result, error)
}

// Config holds controller settings
type Config struct {
	// Continuous starts a new search after every confirmed submission.
	Continuous bool
}

// Controller runs one mining session at a time
type Controller struct {
	gateway   ledger.Gateway
	signer    ledger.Signer
	channel   worker.Channel
	submitter Submitter
	observer  events.Observer
	config    Config
	logger    *log.Logger

	mu        sync.Mutex
	phase     Phase
	current   ledger.MineRequest
	started   time.Time
	stop      chan struct{}
	stopped   bool
	submitted uint64
}

// NewController creates a controller. A nil observer discards events.
func NewController(
	gateway ledger.Gateway,
	signer ledger.Signer,
	channel worker.Channel,
	submitter Submitter,
	observer events.Observer,
	cfg Config,
	logger *log.Logger,
) *Controller {
	if observer == nil {
		observer = events.Nop{}
	}
	return &Controller{
		gateway:   gateway,
		signer:    signer,
		channel:   channel,
		submitter: submitter,
		observer:  observer,
		config:    cfg,
		logger:    logger.WithComponent("controller").WithMiner(signer.PublicKey().String()),
		stop:      make(chan struct{}, 1),
	}
}

// Phase returns the current session state
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Submitted returns the number of confirmed mine transactions this session
func (c *Controller) Submitted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted
}

// StartMining checks balance, provisions the miner's accounts and dispatches
// the first search. It returns false without touching the ledger when the
// balance is below ledger.MinBalance.
func (c *Controller) StartMining(ctx context.Context, balance uint64) (bool, error) {
	// discard a Stop left over from a previous session
	select {
	case <-c.stop:
	default:
	}
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()

	c.setPhase(PhaseEligibilityCheck)

	if !ledger.Eligible(balance) {
		c.logger.Info("balance too low to mine",
			"balance", balance,
			"min_balance", ledger.MinBalance,
		)
		c.status(fmt.Sprintf("Insufficient balance: %d < %d", balance, ledger.MinBalance))
		c.setPhase(PhaseIdle)
		return false, nil
	}

	c.setPhase(PhaseProvisioning)
	c.status("Provisioning accounts")

	if err := c.gateway.CreateTokenAccount(ctx); err != nil {
		return false, c.fail(errors.Wrap(err, errors.ErrorTypeGateway, "create_token_account",
			"failed to create token account"))
	}
	if err := c.gateway.Register(ctx); err != nil {
		return false, c.fail(errors.Wrap(err, errors.ErrorTypeGateway, "register",
			"failed to register proof account"))
	}

	if err := c.dispatch(ctx); err != nil {
		return false, c.fail(err)
	}
	return true, nil
}

// Run consumes search results and submits them until the session ends. In
// continuous mode a new search is dispatched after each submission. Run
// returns nil when the session stops and the submission error when one fails.
func (c *Controller) Run(ctx context.Context) error {
	if c.Phase() != PhaseSearching {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.stop:
			// a search dispatched concurrently with Stop is abandoned too
			_ = c.channel.Send(ctx, worker.Pause())
			c.setPhase(PhaseIdle)
			return nil

		case resp := <-c.channel.Responses():
			done, err := c.handle(ctx, resp)
			if err != nil {
				return c.fail(err)
			}
			if done {
				return nil
			}
		}
	}
}

// Stop abandons the in-flight search and returns the session to idle
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	if err := c.channel.Send(ctx, worker.Pause()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "pause", "failed to pause worker")
	}

	c.setPhase(PhaseIdle)
	c.searching(false)
	c.status("Stopped")

	select {
	case c.stop <- struct{}{}:
	default:
	}
	return nil
}

// handle submits one result. It reports true when the session is over.
func (c *Controller) handle(ctx context.Context, resp ledger.MineResponse) (bool, error) {
	c.mu.Lock()
	req := c.current
	started := c.started
	c.mu.Unlock()

	if !search.Verify(req, resp) {
		c.logger.Warn("ignoring result that does not match the current request", "nonce", resp.Nonce)
		return false, nil
	}

	c.searching(false)
	c.logger.LogSolutionFound(resp.Hash.String(), resp.Nonce, resp.Nonce+1, time.Since(started).Nanoseconds())
	c.notify(events.Event{Kind: events.KindSolution, Hash: resp.Hash.String(), Nonce: resp.Nonce})

	c.setPhase(PhaseSubmitting)
	c.status("Submitting solution")

	res, err := c.submitter.SubmitWithResult(ctx, resp)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.submitted++
	stopped := c.stopped
	c.mu.Unlock()

	c.notify(events.Event{
		Kind:      events.KindSubmitted,
		Signature: res.Signature.String(),
		Bus:       res.Bus,
		Attempts:  uint64(res.Attempts),
		Nonce:     resp.Nonce,
	})
	c.status(fmt.Sprintf("Submitted %s", res.Signature))

	if !c.config.Continuous || stopped {
		c.setPhase(PhaseIdle)
		return true, nil
	}

	if err := c.dispatch(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// dispatch reads the treasury and proof and sends a new search to the worker
func (c *Controller) dispatch(ctx context.Context) error {
	treasury, err := c.gateway.GetTreasury(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeGateway, "get_treasury", "failed to read treasury")
	}

	pk := c.signer.PublicKey()
	proof, err := c.gateway.GetProof(ctx, pk)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeGateway, "get_proof", "failed to read proof").
			WithContext("authority", pk.String())
	}

	req := ledger.MineRequest{
		Challenge:  proof.Hash,
		Difficulty: treasury.Difficulty,
		PublicKey:  pk,
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.current = req
	c.started = time.Now()
	c.mu.Unlock()

	if err := c.channel.Send(ctx, worker.Mine(req)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "dispatch", "failed to send mine request")
	}

	c.logger.Info("search dispatched",
		"challenge", req.Challenge.String(),
		"difficulty", req.Difficulty.String(),
	)
	c.setPhase(PhaseSearching)
	c.searching(true)
	c.status("Mining")
	return nil
}

func (c *Controller) fail(err error) error {
	c.setPhase(PhaseIdle)
	c.searching(false)
	c.logger.WithError(err).Error("mining session failed")
	c.notify(events.Event{Kind: events.KindFailed, Error: err.Error()})
	return err
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	from := c.phase
	c.phase = p
	c.mu.Unlock()

	if from == p {
		return
	}
	c.logger.LogPhase(from.String(), p.String())
	c.notify(events.Event{Kind: events.KindPhase, Phase: p.String()})
}

func (c *Controller) status(msg string) {
	c.notify(events.Event{Kind: events.KindStatus, Message: msg, Phase: c.Phase().String()})
}

func (c *Controller) searching(on bool) {
	c.notify(events.Event{Kind: events.KindSearching, Searching: on})
}

func (c *Controller) notify(e events.Event) {
	e.Miner = c.signer.PublicKey().String()
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	c.observer.Notify(e)
}
