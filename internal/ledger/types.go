// Package ledger defines the on-ledger records the miner reads, the work units
// exchanged with the hash search, and the gateway contract every ledger adapter
// implements.
package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// HashSize is the length of challenge, difficulty and solution hashes
const HashSize = 32

// Hash is a 32-byte ledger hash. Ordering is lexicographic over the bytes,
// which is how the ledger compares a solution against the difficulty target.
type Hash [HashSize]byte

// String returns the hash as lowercase hex
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// LessOrEqual reports whether h <= other
func (h Hash) LessOrEqual(other Hash) bool {
	return bytes.Compare(h[:], other[:]) <= 0
}

// HashFromHex parses a 64 character hex string
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length: %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MaxHash is the easiest possible difficulty target
var MaxHash = func() Hash {
	var h Hash
	for i := range h {
		h[i] = 0xff
	}
	return h
}()

// PublicKeySize is the length of an account public key
const PublicKeySize = 32

// PublicKey identifies a ledger account
type PublicKey [PublicKeySize]byte

// String returns the base58 form used by wallets and explorers
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// PublicKeyFromBase58 parses a base58 account address
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("invalid public key: %w", err)
	}
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("invalid public key length: %d", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// TransactionID is a confirmed transaction signature
type TransactionID [64]byte

// String returns the base58 signature
func (id TransactionID) String() string {
	return base58.Encode(id[:])
}

// Proof is the per-miner challenge record
type Proof struct {
	Authority        PublicKey
	ClaimableRewards uint64
	Hash             Hash
	TotalHashes      uint64
	TotalRewards     uint64
}

// Treasury holds the global mining parameters
type Treasury struct {
	Admin               PublicKey
	Difficulty          Hash
	EpochStartAt        int64
	RewardRate          uint64
	TotalClaimedRewards uint64
}

// Clock is the ledger's view of the current time
type Clock struct {
	Slot          uint64
	UnixTimestamp int64
}

// MineRequest is one unit of search work
type MineRequest struct {
	Challenge  Hash
	Difficulty Hash
	PublicKey  PublicKey
}

// MineResponse is a search result
type MineResponse struct {
	Hash  Hash
	Nonce uint64
}
