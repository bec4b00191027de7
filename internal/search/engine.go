package search

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
)

// DefaultProgressInterval is how many attempts pass between progress reports
const DefaultProgressInterval = 10_000

// ErrNonceSpaceExhausted is returned when every 64-bit nonce was tried
var ErrNonceSpaceExhausted = errors.New(errors.ErrorTypeInternal, "search",
	"nonce space exhausted without a solution")

// Progress is a periodic search report
type Progress struct {
	Attempts uint64
	Nonce    uint64
	Elapsed  time.Duration
}

// Hashrate returns attempts per second
func (p Progress) Hashrate() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.Attempts) / p.Elapsed.Seconds()
}

// Config configures an Engine
type Config struct {
	// Threads is the number of goroutines sharing the nonce space.
	Threads int
	// ProgressInterval is the per-goroutine attempt count between progress
	// reports and cancellation checks.
	ProgressInterval uint64
	// OnProgress, if set, is called from search goroutines and must not block.
	OnProgress func(Progress)
}

// Engine runs nonce searches
type Engine struct {
	threads    int
	interval   uint64
	onProgress func(Progress)
	logger     *log.Logger
}

// NewEngine creates a search engine
func NewEngine(cfg *Config, logger *log.Logger) *Engine {
	e := &Engine{
		threads:  1,
		interval: DefaultProgressInterval,
		logger:   logger.WithComponent("search"),
	}
	if cfg != nil {
		if cfg.Threads > 1 {
			e.threads = cfg.Threads
		}
		if cfg.ProgressInterval > 0 {
			e.interval = cfg.ProgressInterval
		}
		e.onProgress = cfg.OnProgress
	}
	return e
}

// Threads returns the number of search goroutines
func (e *Engine) Threads() int {
	return e.threads
}

// Search returns the smallest nonce satisfying req. It returns ctx.Err() when
// cancelled and ErrNonceSpaceExhausted if no nonce qualifies.
func (e *Engine) Search(ctx context.Context, req ledger.MineRequest) (*ledger.MineResponse, error) {
	return e.searchFrom(ctx, req, 0)
}

// searchFrom searches nonces >= start
func (e *Engine) searchFrom(ctx context.Context, req ledger.MineRequest, start uint64) (*ledger.MineResponse, error) {
	begin := time.Now()
	s := &scan{
		engine: e,
		req:    req,
		begin:  begin,
		stride: uint64(e.threads),
	}
	s.bound.Store(math.MaxUint64)

	finds := make([]*ledger.MineResponse, e.threads)

	var wg sync.WaitGroup
	for i := range e.threads {
		first := start + uint64(i)
		if first < start {
			// partition starts past the end of the nonce space
			continue
		}
		wg.Add(1)
		go func(slot int, first uint64) {
			defer wg.Done()
			finds[slot] = s.run(ctx, first)
		}(i, first)
	}
	wg.Wait()

	// The partition holding the smallest find wins
	var best *ledger.MineResponse
	for _, f := range finds {
		if f != nil && (best == nil || f.Nonce < best.Nonce) {
			best = f
		}
	}

	attempts := s.attempts.Load()
	if best != nil {
		e.logger.LogSolutionFound(best.Hash.String(), best.Nonce, attempts, time.Since(begin).Nanoseconds())
		return best, nil
	}
	if err := ctx.Err(); err != nil {
		e.logger.Debug("search cancelled", "attempts", attempts)
		return nil, err
	}
	return nil, ErrNonceSpaceExhausted
}

// scan is the state shared by the goroutines of one search
type scan struct {
	engine   *Engine
	req      ledger.MineRequest
	begin    time.Time
	stride   uint64
	attempts atomic.Uint64
	// bound is the smallest nonce found so far. Goroutines stop once their
	// next candidate exceeds it, so every smaller nonce is still examined.
	bound atomic.Uint64
}

// run walks first, first+stride, ... and returns its first find, if any
func (s *scan) run(ctx context.Context, first uint64) *ledger.MineResponse {
	h := newHasher(s.req.Challenge, s.req.PublicKey)
	interval := s.engine.interval
	var local uint64

	for nonce := first; ; nonce += s.stride {
		if nonce > s.bound.Load() {
			break
		}

		if local == interval {
			s.report(local, nonce)
			local = 0
			select {
			case <-ctx.Done():
				return nil
			default:
			}
		}

		candidate := h.sum(nonce)
		local++

		if Satisfies(candidate, s.req.Difficulty) {
			s.attempts.Add(local)
			s.lower(nonce)
			return &ledger.MineResponse{Hash: candidate, Nonce: nonce}
		}

		if nonce > math.MaxUint64-s.stride {
			break
		}
	}

	s.attempts.Add(local)
	return nil
}

// lower moves bound down to nonce if it is smaller
func (s *scan) lower(nonce uint64) {
	for {
		cur := s.bound.Load()
		if nonce >= cur || s.bound.CompareAndSwap(cur, nonce) {
			return
		}
	}
}

func (s *scan) report(local, nonce uint64) {
	total := s.attempts.Add(local)
	p := Progress{
		Attempts: total,
		Nonce:    nonce,
		Elapsed:  time.Since(s.begin),
	}
	s.engine.logger.LogSearchProgress(p.Attempts, p.Nonce, p.Hashrate())
	if s.engine.onProgress != nil {
		s.engine.onProgress(p)
	}
}
