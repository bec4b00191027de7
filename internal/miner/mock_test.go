package miner

import (
	"context"
	"sync"

	"github.com/bardlex/oreminer/internal/events"
	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/internal/worker"
)

// mockChannel records messages and lets tests inject responses
type mockChannel struct {
	mu        sync.Mutex
	sent      []worker.Request
	sendErr   error
	responses chan ledger.MineResponse
}

func newMockChannel() *mockChannel {
	return &mockChannel{responses: make(chan ledger.MineResponse)}
}

func (m *mockChannel) Send(_ context.Context, req worker.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, req)
	return nil
}

func (m *mockChannel) Responses() <-chan ledger.MineResponse {
	return m.responses
}

func (m *mockChannel) Sent() []worker.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]worker.Request(nil), m.sent...)
}

// recorder collects observer events
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Notify(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == events.KindPhase {
			out = append(out, e.Phase)
		}
	}
	return out
}

func (r *recorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
