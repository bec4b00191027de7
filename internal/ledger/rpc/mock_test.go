package rpc

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// mockClient serves accounts from memory and records sent transactions
type mockClient struct {
	mu sync.Mutex

	accounts   map[solana.PublicKey][]byte
	accountErr error
	balance    uint64
	sendErr    error
	statuses   []*solanarpc.SignatureStatusesResult
	statusIdx  int
	sent       []*solana.Transaction
	reads      int
}

func newMockClient() *mockClient {
	return &mockClient{
		accounts: make(map[solana.PublicKey][]byte),
		statuses: []*solanarpc.SignatureStatusesResult{
			{ConfirmationStatus: solanarpc.ConfirmationStatusConfirmed},
		},
	}
}

func (m *mockClient) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	data, ok := m.accounts[account]
	if !ok {
		return nil, solanarpc.ErrNotFound
	}
	return &solanarpc.GetAccountInfoResult{
		Value: &solanarpc.Account{Data: solanarpc.DataBytesOrJSONFromBytes(data)},
	}, nil
}

func (m *mockClient) GetBalance(_ context.Context, _ solana.PublicKey, _ solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
	return &solanarpc.GetBalanceResult{Value: m.balance}, nil
}

func (m *mockClient) GetLatestBlockhash(_ context.Context, _ solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	return &solanarpc.GetLatestBlockhashResult{
		Value: &solanarpc.LatestBlockhashResult{Blockhash: solana.Hash{7}},
	}, nil
}

func (m *mockClient) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ solanarpc.TransactionOpts) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.sent = append(m.sent, tx)
	return tx.Signatures[0], nil
}

func (m *mockClient) GetSignatureStatuses(_ context.Context, _ bool, _ ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := m.statuses[len(m.statuses)-1]
	if m.statusIdx < len(m.statuses) {
		status = m.statuses[m.statusIdx]
		m.statusIdx++
	}
	return &solanarpc.GetSignatureStatusesResult{
		Value: []*solanarpc.SignatureStatusesResult{status},
	}, nil
}

func (m *mockClient) sentTransactions() []*solana.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*solana.Transaction(nil), m.sent...)
}
