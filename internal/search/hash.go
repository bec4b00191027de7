// Package search implements the proof-of-work nonce search.
//
// A solution for (challenge, public key) is the smallest nonce whose
// Keccak-256 of challenge || public key || big-endian nonce is at or below the
// difficulty target.
package search

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/sha3"

	"github.com/bardlex/oreminer/internal/ledger"
)

// Hash returns the ledger hash of a candidate nonce
func Hash(challenge ledger.Hash, publicKey ledger.PublicKey, nonce uint64) ledger.Hash {
	return newHasher(challenge, publicKey).sum(nonce)
}

// Satisfies reports whether h meets the difficulty target
func Satisfies(h, difficulty ledger.Hash) bool {
	return h.LessOrEqual(difficulty)
}

// Verify recomputes the hash of resp for req and checks it against the target
func Verify(req ledger.MineRequest, resp ledger.MineResponse) bool {
	h := Hash(req.Challenge, req.PublicKey, resp.Nonce)
	return h == resp.Hash && Satisfies(h, req.Difficulty)
}

// hasher reuses one Keccak state and input buffer across nonces
type hasher struct {
	state hash.Hash
	input [ledger.HashSize + ledger.PublicKeySize + 8]byte
	out   ledger.Hash
}

func newHasher(challenge ledger.Hash, publicKey ledger.PublicKey) *hasher {
	h := &hasher{state: sha3.NewLegacyKeccak256()}
	copy(h.input[:ledger.HashSize], challenge[:])
	copy(h.input[ledger.HashSize:], publicKey[:])
	return h
}

func (h *hasher) sum(nonce uint64) ledger.Hash {
	binary.BigEndian.PutUint64(h.input[ledger.HashSize+ledger.PublicKeySize:], nonce)
	h.state.Reset()
	h.state.Write(h.input[:])
	h.state.Sum(h.out[:0])
	return h.out
}
