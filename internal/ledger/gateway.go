package ledger

import (
	"context"
	"fmt"
)

// InstructionKind identifies a mining program instruction
type InstructionKind uint8

const (
	// InstructionReset starts a new epoch
	InstructionReset InstructionKind = iota
	// InstructionMine submits a solution on a bus
	InstructionMine
)

// String returns the instruction name
func (k InstructionKind) String() string {
	switch k {
	case InstructionReset:
		return "reset"
	case InstructionMine:
		return "mine"
	default:
		return fmt.Sprintf("instruction(%d)", uint8(k))
	}
}

// Instruction is a transport-neutral mining program instruction. Adapters
// translate it into their own wire format.
type Instruction struct {
	Kind   InstructionKind
	Signer PublicKey
	Bus    int
	Hash   Hash
	Nonce  uint64
}

// ResetInstruction builds a reset-epoch instruction
func ResetInstruction(signer PublicKey) Instruction {
	return Instruction{Kind: InstructionReset, Signer: signer}
}

// MineInstruction builds a mine instruction for the given bus
func MineInstruction(signer PublicKey, busID int, hash Hash, nonce uint64) Instruction {
	return Instruction{
		Kind:   InstructionMine,
		Signer: signer,
		Bus:    busID,
		Hash:   hash,
		Nonce:  nonce,
	}
}

// Gateway is the ledger collaborator. Every method may block on the network
// and may fail; implementations own transport-level timeouts and retries.
type Gateway interface {
	// GetTreasury reads the global mining parameters.
	GetTreasury(ctx context.Context) (*Treasury, error)

	// GetProof reads the challenge record of authority.
	GetProof(ctx context.Context, authority PublicKey) (*Proof, error)

	// GetClock reads the ledger clock.
	GetClock(ctx context.Context) (*Clock, error)

	// CreateTokenAccount ensures the miner's reward token account exists.
	CreateTokenAccount(ctx context.Context) error

	// Register ensures the miner's proof account exists.
	Register(ctx context.Context) error

	// SendAndConfirm signs, sends and waits for confirmation of a transaction.
	SendAndConfirm(ctx context.Context, instructions ...Instruction) (TransactionID, error)
}

// BalanceReader reads the signer's native balance
type BalanceReader interface {
	GetBalance(ctx context.Context) (uint64, error)
}

// Signer is the identity of the mining account
type Signer interface {
	PublicKey() PublicKey
}

// StaticSigner is a Signer for a fixed public key
type StaticSigner PublicKey

// PublicKey returns the key
func (s StaticSigner) PublicKey() PublicKey {
	return PublicKey(s)
}
