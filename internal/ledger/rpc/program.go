package rpc

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"

	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/pkg/errors"
)

// Default mainnet addresses of the mining program and its token
const (
	DefaultProgramID = "mineRHF5r6S7HyD9SppBfVMXMavDkJsxwGesEvxZr2A"
	DefaultMint      = "oreoN2tQbHXVaZsr3pf66A48miqcBXCDJozganhEJgz"
)

// instruction discriminators
const (
	ixReset    byte = 0
	ixRegister byte = 1
	ixMine     byte = 2
)

var (
	seedBus      = []byte("bus")
	seedProof    = []byte("proof")
	seedTreasury = []byte("treasury")
)

// Program holds the derived addresses of the mining program
type Program struct {
	ID             solana.PublicKey
	Mint           solana.PublicKey
	Treasury       solana.PublicKey
	TreasuryTokens solana.PublicKey
	Buses          [ledger.BusCount]solana.PublicKey
}

// NewProgram derives the treasury, treasury token account and bus addresses
func NewProgram(programID, mint solana.PublicKey) (*Program, error) {
	p := &Program{ID: programID, Mint: mint}

	var err error
	p.Treasury, _, err = solana.FindProgramAddress([][]byte{seedTreasury}, programID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "derive_treasury",
			"failed to derive treasury address")
	}

	p.TreasuryTokens, _, err = solana.FindAssociatedTokenAddress(p.Treasury, mint)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "derive_treasury_tokens",
			"failed to derive treasury token address")
	}

	for i := range p.Buses {
		p.Buses[i], _, err = solana.FindProgramAddress([][]byte{seedBus, {byte(i)}}, programID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "derive_bus",
				"failed to derive bus address").WithContext("bus", i)
		}
	}
	return p, nil
}

// ProofAddress returns the proof PDA of authority and its bump seed
func (p *Program) ProofAddress(authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{seedProof, authority[:]}, p.ID)
	if err != nil {
		return solana.PublicKey{}, 0, errors.Wrap(err, errors.ErrorTypeValidation, "derive_proof",
			"failed to derive proof address")
	}
	return addr, bump, nil
}

// TokenAccount returns the miner's associated token account for the mint
func (p *Program) TokenAccount(owner solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, p.Mint)
	if err != nil {
		return solana.PublicKey{}, errors.Wrap(err, errors.ErrorTypeValidation, "derive_token_account",
			"failed to derive token account")
	}
	return addr, nil
}

// Build translates a ledger instruction into a program instruction
func (p *Program) Build(ix ledger.Instruction) (solana.Instruction, error) {
	signer := solana.PublicKey(ix.Signer)

	switch ix.Kind {
	case ledger.InstructionReset:
		return p.reset(signer), nil
	case ledger.InstructionMine:
		if ix.Bus < 0 || ix.Bus >= ledger.BusCount {
			return nil, errors.New(errors.ErrorTypeValidation, "build_mine", "bus out of range").
				WithContext("bus", ix.Bus)
		}
		proof, _, err := p.ProofAddress(signer)
		if err != nil {
			return nil, err
		}
		return solana.NewInstruction(p.ID, solana.AccountMetaSlice{
			solana.NewAccountMeta(signer, false, true),
			solana.NewAccountMeta(p.Buses[ix.Bus], true, false),
			solana.NewAccountMeta(proof, true, false),
			solana.NewAccountMeta(p.Treasury, false, false),
			solana.NewAccountMeta(solana.SysVarSlotHashesPubkey, false, false),
		}, MineData(ix.Hash, ix.Nonce)), nil
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "build_instruction", "unknown instruction").
			WithContext("kind", ix.Kind.String())
	}
}

func (p *Program) reset(signer solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)}
	for _, bus := range p.Buses {
		accounts = append(accounts, solana.NewAccountMeta(bus, true, false))
	}
	accounts = append(accounts,
		solana.NewAccountMeta(p.Mint, true, false),
		solana.NewAccountMeta(p.Treasury, true, false),
		solana.NewAccountMeta(p.TreasuryTokens, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	)
	return solana.NewInstruction(p.ID, accounts, []byte{ixReset})
}

// Register builds the instruction that creates the proof account of signer
func (p *Program) Register(signer solana.PublicKey) (solana.Instruction, error) {
	proof, bump, err := p.ProofAddress(signer)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(p.ID, solana.AccountMetaSlice{
		solana.NewAccountMeta(signer, true, true),
		solana.NewAccountMeta(proof, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, []byte{ixRegister, bump}), nil
}

// CreateTokenAccount builds the instruction that creates owner's token account
func (p *Program) CreateTokenAccount(owner solana.PublicKey) solana.Instruction {
	return associatedtokenaccount.NewCreateInstruction(owner, owner, p.Mint).Build()
}

// MineData encodes the mine instruction payload: discriminator, hash, nonce (LE)
func MineData(hash ledger.Hash, nonce uint64) []byte {
	data := make([]byte, 1+ledger.HashSize+8)
	data[0] = ixMine
	copy(data[1:], hash[:])
	binary.LittleEndian.PutUint64(data[1+ledger.HashSize:], nonce)
	return data
}
