package rpc

import (
	"bytes"
	"encoding/binary"

	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/pkg/errors"
)

// discriminatorSize is the account-type prefix on program-owned accounts
const discriminatorSize = 8

// treasuryData is the on-chain treasury layout after the discriminator
type treasuryData struct {
	Bump                uint64
	Admin               [32]byte
	Difficulty          [32]byte
	LastResetAt         int64
	RewardRate          uint64
	TotalClaimedRewards uint64
}

// proofData is the on-chain proof layout after the discriminator
type proofData struct {
	Authority        [32]byte
	ClaimableRewards uint64
	Hash             [32]byte
	TotalHashes      uint64
	TotalRewards     uint64
}

// busData is the on-chain bus layout after the discriminator
type busData struct {
	ID      uint64
	Rewards uint64
}

// clockData is the clock sysvar layout
type clockData struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

// Bus is a decoded bus account
type Bus struct {
	ID      uint64
	Rewards uint64
}

func decode(op string, data []byte, skip int, out any) error {
	need := skip + binary.Size(out)
	if len(data) < need {
		return errors.New(errors.ErrorTypeValidation, op, "account data too short").
			WithContext("size", len(data)).
			WithContext("want", need)
	}
	if err := binary.Read(bytes.NewReader(data[skip:]), binary.LittleEndian, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, op, "failed to decode account data")
	}
	return nil
}

// DecodeTreasury parses raw treasury account data
func DecodeTreasury(data []byte) (*ledger.Treasury, error) {
	var d treasuryData
	if err := decode("decode_treasury", data, discriminatorSize, &d); err != nil {
		return nil, err
	}
	return &ledger.Treasury{
		Admin:               d.Admin,
		Difficulty:          d.Difficulty,
		EpochStartAt:        d.LastResetAt,
		RewardRate:          d.RewardRate,
		TotalClaimedRewards: d.TotalClaimedRewards,
	}, nil
}

// DecodeProof parses raw proof account data
func DecodeProof(data []byte) (*ledger.Proof, error) {
	var d proofData
	if err := decode("decode_proof", data, discriminatorSize, &d); err != nil {
		return nil, err
	}
	return &ledger.Proof{
		Authority:        d.Authority,
		ClaimableRewards: d.ClaimableRewards,
		Hash:             d.Hash,
		TotalHashes:      d.TotalHashes,
		TotalRewards:     d.TotalRewards,
	}, nil
}

// DecodeBus parses raw bus account data
func DecodeBus(data []byte) (*Bus, error) {
	var d busData
	if err := decode("decode_bus", data, discriminatorSize, &d); err != nil {
		return nil, err
	}
	return &Bus{ID: d.ID, Rewards: d.Rewards}, nil
}

// DecodeClock parses the clock sysvar
func DecodeClock(data []byte) (*ledger.Clock, error) {
	var d clockData
	if err := decode("decode_clock", data, 0, &d); err != nil {
		return nil, err
	}
	return &ledger.Clock{Slot: d.Slot, UnixTimestamp: d.UnixTimestamp}, nil
}
