package worker

import (
	"context"
	"sync"

	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
)

// ErrClosed is returned by Send after the worker has stopped
var ErrClosed = errors.New(errors.ErrorTypeInternal, "worker_send", "worker is closed")

// Worker runs searches on a background goroutine
type Worker struct {
	searcher Searcher
	logger   *log.Logger

	requests  chan Request
	responses chan ledger.MineResponse
	done      chan struct{}
	closeOnce sync.Once
}

// result carries a finished search back to the run loop
type result struct {
	generation uint64
	resp       *ledger.MineResponse
	err        error
}

// New creates a worker. Call Start before sending messages.
func New(searcher Searcher, logger *log.Logger) *Worker {
	return &Worker{
		searcher:  searcher,
		logger:    logger.WithComponent("worker"),
		requests:  make(chan Request),
		responses: make(chan ledger.MineResponse),
		done:      make(chan struct{}),
	}
}

// Start runs the message loop until ctx is cancelled or Close is called
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Send posts a message to the worker
func (w *Worker) Send(ctx context.Context, req Request) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	select {
	case w.requests <- req:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Responses delivers search results. The channel is unbuffered so a result
// still waiting for a reader can be withdrawn by a newer request.
func (w *Worker) Responses() <-chan ledger.MineResponse {
	return w.responses
}

// Close stops the worker and cancels any in-flight search
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *Worker) run(ctx context.Context) {
	defer w.Close()

	results := make(chan result)
	var (
		generation uint64
		cancel     context.CancelFunc
		pending    ledger.MineResponse
		out        chan<- ledger.MineResponse // non-nil only while pending is deliverable
	)

	stop := func() {
		if cancel != nil {
			cancel()
			cancel = nil
		}
		out = nil
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case req := <-w.requests:
			// any message supersedes the current search and its undelivered result
			stop()
			generation++

			switch req.Kind {
			case KindPause:
				w.logger.Debug("search paused", "generation", generation)
			case KindMine:
				var searchCtx context.Context
				searchCtx, cancel = context.WithCancel(ctx)
				go w.search(searchCtx, generation, req.Mine, results)
				w.logger.Debug("search started",
					"generation", generation,
					"challenge", req.Mine.Challenge.String(),
					"difficulty", req.Mine.Difficulty.String(),
				)
			default:
				w.logger.Warn("ignoring unknown message", "kind", req.Kind.String())
			}

		case r := <-results:
			if r.generation != generation {
				continue
			}
			stop()
			if r.err != nil {
				w.logger.WithError(r.err).Warn("search ended without a solution", "generation", r.generation)
				continue
			}
			pending = *r.resp
			out = w.responses

		case out <- pending:
			out = nil
		}
	}
}

func (w *Worker) search(ctx context.Context, generation uint64, req ledger.MineRequest, results chan<- result) {
	resp, err := w.searcher.Search(ctx, req)
	select {
	case results <- result{generation: generation, resp: resp, err: err}:
	case <-w.done:
	}
}

var _ Channel = (*Worker)(nil)
