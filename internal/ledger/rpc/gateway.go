// Package rpc implements ledger.Gateway against a Solana JSON-RPC endpoint.
package rpc

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/pkg/circuit"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
	"github.com/bardlex/oreminer/pkg/retry"
)

// ErrAccountNotFound is returned when an account does not exist on the ledger
var ErrAccountNotFound = errors.New(errors.ErrorTypeGateway, "get_account", "account not found")

// Client is the subset of the Solana RPC client used by the gateway
type Client interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

// Config holds gateway settings
type Config struct {
	Commitment     solanarpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Retry          *retry.Config
	Breaker        *circuit.Config
}

// DefaultConfig returns settings suited to a public RPC endpoint
func DefaultConfig() *Config {
	return &Config{
		Commitment:     solanarpc.CommitmentConfirmed,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   500 * time.Millisecond,
		Retry:          retry.NetworkConfig(),
		Breaker:        circuit.DefaultConfig(),
	}
}

// Gateway reads and writes mining program state over RPC
type Gateway struct {
	client  Client
	program *Program
	key     solana.PrivateKey
	config  *Config
	breaker *circuit.Breaker
	logger  *log.Logger
}

// NewGateway creates a gateway that signs with key
func NewGateway(client Client, program *Program, key solana.PrivateKey, cfg *Config, logger *log.Logger) *Gateway {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.NetworkConfig()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuit.DefaultConfig()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}

	return &Gateway{
		client:  client,
		program: program,
		key:     key,
		config:  cfg,
		breaker: circuit.New(cfg.Breaker),
		logger:  logger.WithComponent("gateway").WithMiner(key.PublicKey().String()),
	}
}

// Dial connects to endpoint and loads the signing keypair from keypairPath
func Dial(endpoint, keypairPath string, programID, mint string, cfg *Config, logger *log.Logger) (*Gateway, error) {
	key, err := LoadKeypair(keypairPath)
	if err != nil {
		return nil, err
	}

	pid, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "parse_program_id", "invalid program id")
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "parse_mint", "invalid mint address")
	}

	program, err := NewProgram(pid, mintKey)
	if err != nil {
		return nil, err
	}

	logger.Info("connecting to ledger RPC", "endpoint", endpoint, "program", pid.String())
	return NewGateway(solanarpc.New(endpoint), program, key, cfg, logger), nil
}

// LoadKeypair reads a solana-keygen JSON keypair file
func LoadKeypair(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "load_keypair",
			"failed to load keypair").WithContext("path", path)
	}
	return key, nil
}

// PublicKey implements ledger.Signer
func (g *Gateway) PublicKey() ledger.PublicKey {
	return ledger.PublicKey(g.key.PublicKey())
}

// BreakerStats exposes the RPC circuit breaker state
func (g *Gateway) BreakerStats() circuit.Stats {
	return g.breaker.Stats()
}

// GetTreasury implements ledger.Gateway
func (g *Gateway) GetTreasury(ctx context.Context) (*ledger.Treasury, error) {
	data, err := g.readAccount(ctx, g.program.Treasury)
	if err != nil {
		return nil, err
	}
	return DecodeTreasury(data)
}

// GetProof implements ledger.Gateway
func (g *Gateway) GetProof(ctx context.Context, authority ledger.PublicKey) (*ledger.Proof, error) {
	addr, _, err := g.program.ProofAddress(solana.PublicKey(authority))
	if err != nil {
		return nil, err
	}
	data, err := g.readAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DecodeProof(data)
}

// GetClock implements ledger.Gateway
func (g *Gateway) GetClock(ctx context.Context) (*ledger.Clock, error) {
	data, err := g.readAccount(ctx, solana.SysVarClockPubkey)
	if err != nil {
		return nil, err
	}
	return DecodeClock(data)
}

// GetBus reads one bus account
func (g *Gateway) GetBus(ctx context.Context, busID int) (*Bus, error) {
	if busID < 0 || busID >= ledger.BusCount {
		return nil, errors.New(errors.ErrorTypeValidation, "get_bus", "bus out of range").
			WithContext("bus", busID)
	}
	data, err := g.readAccount(ctx, g.program.Buses[busID])
	if err != nil {
		return nil, err
	}
	return DecodeBus(data)
}

// GetBalance implements ledger.BalanceReader
func (g *Gateway) GetBalance(ctx context.Context) (uint64, error) {
	return circuit.ExecuteWithResult(ctx, g.breaker, func() (uint64, error) {
		return retry.DoWithResult(ctx, g.config.Retry, func() (uint64, error) {
			res, err := g.client.GetBalance(ctx, g.key.PublicKey(), g.config.Commitment)
			if err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeNetwork, "get_balance", "failed to read balance")
			}
			return res.Value, nil
		})
	})
}

// CreateTokenAccount implements ledger.Gateway. It is a no-op when the
// account already exists.
func (g *Gateway) CreateTokenAccount(ctx context.Context) error {
	owner := g.key.PublicKey()
	addr, err := g.program.TokenAccount(owner)
	if err != nil {
		return err
	}

	exists, err := g.accountExists(ctx, addr)
	if err != nil || exists {
		return err
	}

	g.logger.Info("creating token account", "address", addr.String())
	_, err = g.send(ctx, g.program.CreateTokenAccount(owner))
	return err
}

// Register implements ledger.Gateway. It is a no-op when the proof account
// already exists.
func (g *Gateway) Register(ctx context.Context) error {
	owner := g.key.PublicKey()
	addr, _, err := g.program.ProofAddress(owner)
	if err != nil {
		return err
	}

	exists, err := g.accountExists(ctx, addr)
	if err != nil || exists {
		return err
	}

	ix, err := g.program.Register(owner)
	if err != nil {
		return err
	}

	g.logger.Info("registering proof account", "address", addr.String())
	_, err = g.send(ctx, ix)
	return err
}

// SendAndConfirm implements ledger.Gateway
func (g *Gateway) SendAndConfirm(ctx context.Context, instructions ...ledger.Instruction) (ledger.TransactionID, error) {
	ixs := make([]solana.Instruction, 0, len(instructions))
	for _, ix := range instructions {
		built, err := g.program.Build(ix)
		if err != nil {
			return ledger.TransactionID{}, err
		}
		ixs = append(ixs, built)
	}

	sig, err := g.send(ctx, ixs...)
	if err != nil {
		return ledger.TransactionID{}, err
	}
	return ledger.TransactionID(sig), nil
}

// send signs, submits and waits for confirmation of a transaction
func (g *Gateway) send(ctx context.Context, ixs ...solana.Instruction) (solana.Signature, error) {
	start := time.Now()

	blockhash, err := circuit.ExecuteWithResult(ctx, g.breaker, func() (solana.Hash, error) {
		return retry.DoWithResult(ctx, g.config.Retry, func() (solana.Hash, error) {
			res, err := g.client.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
			if err != nil {
				return solana.Hash{}, errors.Wrap(err, errors.ErrorTypeNetwork, "get_blockhash",
					"failed to read latest blockhash")
			}
			if res == nil || res.Value == nil {
				return solana.Hash{}, errors.New(errors.ErrorTypeNetwork, "get_blockhash",
					"empty blockhash response")
			}
			return res.Value.Blockhash, nil
		})
	})
	if err != nil {
		return solana.Signature{}, err
	}

	payer := g.key.PublicKey()
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, errors.Wrap(err, errors.ErrorTypeValidation, "build_transaction",
			"failed to build transaction")
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &g.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, errors.Wrap(err, errors.ErrorTypeValidation, "sign_transaction",
			"failed to sign transaction")
	}

	sig, err := g.client.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: g.config.Commitment,
	})
	if err != nil {
		return solana.Signature{}, errors.Wrap(err, errors.ErrorTypeGateway, "send_transaction",
			"transaction rejected")
	}

	if err := g.confirm(ctx, sig); err != nil {
		return solana.Signature{}, err
	}

	g.logger.LogDuration("send_and_confirm", time.Since(start).Nanoseconds())
	return sig, nil
}

// confirm polls the signature status until it reaches the configured
// commitment, fails on chain, or ConfirmTimeout elapses
func (g *Gateway) confirm(ctx context.Context, sig solana.Signature) error {
	if g.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.ConfirmTimeout)
		defer cancel()
	}

	for {
		res, err := g.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			g.logger.WithError(err).Debug("signature status poll failed", "signature", sig.String())
		} else if len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return errors.New(errors.ErrorTypeGateway, "confirm_transaction", "transaction failed").
					WithContext("signature", sig.String()).
					WithContext("error", status.Err)
			}
			if g.reached(status.ConfirmationStatus) {
				return nil
			}
		}

		if err := retry.Wait(ctx, g.config.PollInterval); err != nil {
			if stderrors.Is(err, context.DeadlineExceeded) {
				return errors.Wrap(err, errors.ErrorTypeTimeout, "confirm_transaction",
					"transaction not confirmed in time").
					WithContext("signature", sig.String())
			}
			return err
		}
	}
}

func (g *Gateway) reached(status solanarpc.ConfirmationStatusType) bool {
	switch status {
	case solanarpc.ConfirmationStatusFinalized:
		return true
	case solanarpc.ConfirmationStatusConfirmed:
		return g.config.Commitment != solanarpc.CommitmentFinalized
	case solanarpc.ConfirmationStatusProcessed:
		return g.config.Commitment == solanarpc.CommitmentProcessed
	default:
		return false
	}
}

func (g *Gateway) accountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	_, err := g.readAccount(ctx, addr)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	return false, err
}

// readAccount fetches raw account data through the breaker and retry policy.
// A missing account is not a transport failure and does not count against
// the breaker.
func (g *Gateway) readAccount(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	account, err := circuit.ExecuteWithResult(ctx, g.breaker, func() (*solanarpc.Account, error) {
		return retry.DoWithResult(ctx, g.config.Retry, func() (*solanarpc.Account, error) {
			res, err := g.client.GetAccountInfoWithOpts(ctx, addr, &solanarpc.GetAccountInfoOpts{
				Commitment: g.config.Commitment,
			})
			if stderrors.Is(err, solanarpc.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "get_account",
					"failed to read account").WithContext("address", addr.String())
			}
			return res.Value, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if account == nil || account.Data == nil {
		return nil, ErrAccountNotFound
	}
	return account.Data.GetBinary(), nil
}

var (
	_ ledger.Gateway       = (*Gateway)(nil)
	_ ledger.BalanceReader = (*Gateway)(nil)
	_ ledger.Signer        = (*Gateway)(nil)
	_ Client               = (*solanarpc.Client)(nil)
)
