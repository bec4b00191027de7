// Package ledgertest provides an in-memory ledger.Gateway for tests.
package ledgertest

import (
	"context"
	"errors"
	"sync"

	"github.com/bardlex/oreminer/internal/ledger"
)

// Call records a gateway invocation
type Call struct {
	Method       string
	Instructions []ledger.Instruction
}

// MockGateway is a scriptable ledger.Gateway. Clocks are consumed in order by
// GetClock; the last entry repeats. SendErrs is consumed in order by
// SendAndConfirm; once exhausted every send succeeds.
type MockGateway struct {
	mu sync.Mutex

	Treasury ledger.Treasury
	Proof    ledger.Proof
	Clocks   []int64
	Balance  uint64

	TreasuryErr error
	ProofErr    error
	ClockErr    error
	TokenErr    error
	RegisterErr error
	BalanceErr  error
	SendErrs    []error
	ResetErr    error

	NextSignature byte
	clockIndex    int
	calls         []Call
}

// NewMockGateway returns a gateway whose epoch never expires at clock 0
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Treasury: ledger.Treasury{Difficulty: ledger.MaxHash, EpochStartAt: 0},
		Clocks:   []int64{0},
		Balance:  ledger.OneUnit,
	}
}

// ErrRejected is the default failure used by tests
var ErrRejected = errors.New("transaction rejected")

func (m *MockGateway) record(method string, ixs ...ledger.Instruction) {
	m.calls = append(m.calls, Call{Method: method, Instructions: ixs})
}

// GetTreasury implements ledger.Gateway
func (m *MockGateway) GetTreasury(_ context.Context) (*ledger.Treasury, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetTreasury")
	if m.TreasuryErr != nil {
		return nil, m.TreasuryErr
	}
	t := m.Treasury
	return &t, nil
}

// GetProof implements ledger.Gateway
func (m *MockGateway) GetProof(_ context.Context, authority ledger.PublicKey) (*ledger.Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetProof")
	if m.ProofErr != nil {
		return nil, m.ProofErr
	}
	p := m.Proof
	p.Authority = authority
	return &p, nil
}

// GetClock implements ledger.Gateway
func (m *MockGateway) GetClock(_ context.Context) (*ledger.Clock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetClock")
	if m.ClockErr != nil {
		return nil, m.ClockErr
	}
	ts := m.Clocks[len(m.Clocks)-1]
	if m.clockIndex < len(m.Clocks) {
		ts = m.Clocks[m.clockIndex]
		m.clockIndex++
	}
	return &ledger.Clock{UnixTimestamp: ts}, nil
}

// CreateTokenAccount implements ledger.Gateway
func (m *MockGateway) CreateTokenAccount(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateTokenAccount")
	return m.TokenErr
}

// Register implements ledger.Gateway
func (m *MockGateway) Register(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Register")
	return m.RegisterErr
}

// GetBalance implements ledger.BalanceReader
func (m *MockGateway) GetBalance(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetBalance")
	return m.Balance, m.BalanceErr
}

// SendAndConfirm implements ledger.Gateway. Reset instructions fail with
// ResetErr; mine instructions consume SendErrs.
func (m *MockGateway) SendAndConfirm(ctx context.Context, ixs ...ledger.Instruction) (ledger.TransactionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SendAndConfirm", ixs...)

	if err := ctx.Err(); err != nil {
		return ledger.TransactionID{}, err
	}

	if len(ixs) > 0 && ixs[0].Kind == ledger.InstructionReset {
		if m.ResetErr != nil {
			return ledger.TransactionID{}, m.ResetErr
		}
		// the ledger starts a new epoch at the current clock
		m.Treasury.EpochStartAt = m.currentClock()
	} else if len(m.SendErrs) > 0 {
		err := m.SendErrs[0]
		m.SendErrs = m.SendErrs[1:]
		if err != nil {
			return ledger.TransactionID{}, err
		}
	}

	m.NextSignature++
	var id ledger.TransactionID
	id[0] = m.NextSignature
	return id, nil
}

func (m *MockGateway) currentClock() int64 {
	i := m.clockIndex - 1
	if i < 0 {
		i = 0
	}
	if i >= len(m.Clocks) {
		i = len(m.Clocks) - 1
	}
	return m.Clocks[i]
}

// Calls returns a copy of the recorded invocations
func (m *MockGateway) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Methods returns the recorded method names in order
func (m *MockGateway) Methods() []string {
	var out []string
	for _, c := range m.Calls() {
		out = append(out, c.Method)
	}
	return out
}

// Sent returns the instructions passed to SendAndConfirm, in order
func (m *MockGateway) Sent() []ledger.Instruction {
	var out []ledger.Instruction
	for _, c := range m.Calls() {
		if c.Method == "SendAndConfirm" {
			out = append(out, c.Instructions...)
		}
	}
	return out
}

var (
	_ ledger.Gateway       = (*MockGateway)(nil)
	_ ledger.BalanceReader = (*MockGateway)(nil)
)
