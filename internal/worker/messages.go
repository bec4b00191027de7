// Package worker runs hash searches out of line from the session controller.
//
// The controller talks to a worker only through messages: Mine starts a
// search, Pause abandons it, and a new Mine supersedes whatever is in flight.
// At most one response is delivered per accepted Mine, and only for the most
// recent one.
package worker

import (
	"context"
	"fmt"

	"github.com/bardlex/oreminer/internal/ledger"
)

// Kind is the type of an inbound message
type Kind uint8

const (
	// KindPause abandons the in-flight search
	KindPause Kind = iota + 1
	// KindMine starts a new search
	KindMine
)

// String returns the message kind name
func (k Kind) String() string {
	switch k {
	case KindPause:
		return "pause"
	case KindMine:
		return "mine"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Request is an inbound worker message
type Request struct {
	Kind Kind
	Mine ledger.MineRequest
}

// Pause builds a pause message
func Pause() Request {
	return Request{Kind: KindPause}
}

// Mine builds a mine message
func Mine(req ledger.MineRequest) Request {
	return Request{Kind: KindMine, Mine: req}
}

// Channel is the controller's side of the worker boundary
type Channel interface {
	// Send posts a message. It blocks until the worker accepts it.
	Send(ctx context.Context, req Request) error

	// Responses delivers search results.
	Responses() <-chan ledger.MineResponse
}

// Searcher is the work a worker performs for a Mine message
type Searcher interface {
	Search(ctx context.Context, req ledger.MineRequest) (*ledger.MineResponse, error)
}
