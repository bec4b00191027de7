// Package events carries mining session notifications to observers.
//
// The session controller never waits on an observer: Fanout queues each event
// per sink and drops it when a sink falls behind.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/oreminer/pkg/log"
)

// Kind identifies an event
type Kind string

const (
	KindPhase     Kind = "phase"
	KindStatus    Kind = "status"
	KindSearching Kind = "searching"
	KindProgress  Kind = "progress"
	KindSolution  Kind = "solution"
	KindRetry     Kind = "retry"
	KindReset     Kind = "epoch_reset"
	KindSubmitted Kind = "submitted"
	KindFailed    Kind = "failed"
)

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind      Kind      `json:"kind"`
	Miner     string    `json:"miner,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	Searching bool      `json:"searching,omitempty"`
	Attempts  uint64    `json:"attempts,omitempty"`
	Hashrate  float64   `json:"hashrate,omitempty"`
	Nonce     uint64    `json:"nonce,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Bus       int       `json:"bus,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Observer receives events. Notify must return promptly.
type Observer interface {
	Notify(e Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Notify calls f
func (f ObserverFunc) Notify(e Event) { f(e) }

// Nop discards events
type Nop struct{}

// Notify does nothing
func (Nop) Notify(Event) {}

// Sink is a destination that may block, such as a broker or database
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// Fanout delivers each event to every sink on its own goroutine
type Fanout struct {
	logger *log.Logger
	queues []*queue
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type queue struct {
	sink    Sink
	ch      chan Event
	dropped atomic.Uint64
}

// NewFanout creates a fan-out with a per-sink buffer of size events
func NewFanout(size int, logger *log.Logger, sinks ...Sink) *Fanout {
	if size <= 0 {
		size = 256
	}
	f := &Fanout{logger: logger.WithComponent("events")}
	for _, s := range sinks {
		f.queues = append(f.queues, &queue{sink: s, ch: make(chan Event, size)})
	}
	return f
}

// Start runs one delivery goroutine per sink until Close
func (f *Fanout) Start(ctx context.Context) {
	for _, q := range f.queues {
		f.wg.Add(1)
		go func(q *queue) {
			defer f.wg.Done()
			for e := range q.ch {
				if err := q.sink.Handle(ctx, e); err != nil {
					f.logger.WithError(err).Warn("event sink failed",
						"sink", q.sink.Name(),
						"kind", string(e.Kind),
					)
				}
			}
		}(q)
	}
}

// Notify queues e for every sink without blocking
func (f *Fanout) Notify(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}

	for _, q := range f.queues {
		select {
		case q.ch <- e:
		default:
			if q.dropped.Add(1)%100 == 1 {
				f.logger.Warn("event sink queue full, dropping event",
					"sink", q.sink.Name(),
					"dropped", q.dropped.Load(),
				)
			}
		}
	}
}

// Dropped returns the number of events dropped for the named sink
func (f *Fanout) Dropped(name string) uint64 {
	for _, q := range f.queues {
		if q.sink.Name() == name {
			return q.dropped.Load()
		}
	}
	return 0
}

// Close drains the queues and waits for the sinks. Later events are
// discarded.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, q := range f.queues {
		close(q.ch)
	}
	f.mu.Unlock()

	f.wg.Wait()
}

// LogSink writes events to the structured log
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink that logs each event
func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger.WithComponent("status")}
}

// Name implements Sink
func (s *LogSink) Name() string { return "log" }

// Handle implements Sink
func (s *LogSink) Handle(_ context.Context, e Event) error {
	switch e.Kind {
	case KindProgress:
		s.logger.LogSearchProgress(e.Attempts, e.Nonce, e.Hashrate)
	case KindFailed:
		s.logger.Error("mining failed", "error", e.Error, "phase", e.Phase)
	case KindStatus:
		s.logger.Info(e.Message, "phase", e.Phase)
	default:
		s.logger.Debug("mining event",
			"kind", string(e.Kind),
			"phase", e.Phase,
			"searching", e.Searching,
			"signature", e.Signature,
			"bus", e.Bus,
		)
	}
	return nil
}
