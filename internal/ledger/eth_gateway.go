package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/moltbunker/lockstake/internal/logging"
	"golang.org/x/time/rate"
)

// DefaultClaimableMethod is the staking view used for both the claim and
// withdraw predicates unless configured otherwise.
const DefaultClaimableMethod = "getStakeClaimable"

// EthGatewayConfig configures an EthGateway.
type EthGatewayConfig struct {
	Client         *BaseClientConfig
	TokenAddress   common.Address
	StakingAddress common.Address

	// CallTimeout bounds every read (default 15s).
	CallTimeout time.Duration
	// ConfirmTimeout bounds the wait for a write's receipt. When it
	// elapses the write is reported as TxPending (default 2m).
	ConfirmTimeout time.Duration

	// RequestsPerSecond and Burst shape outgoing RPC traffic. Zero
	// RequestsPerSecond disables limiting.
	RequestsPerSecond float64
	Burst             int

	ClaimableMethod    string
	WithdrawableMethod string

	// WatchAccount is reported by Account when no signing key is given,
	// so a read-only gateway can back a session.
	WatchAccount common.Address
}

// DefaultEthGatewayConfig returns defaults with zero contract addresses.
func DefaultEthGatewayConfig() *EthGatewayConfig {
	return &EthGatewayConfig{
		Client:             DefaultBaseClientConfig(),
		CallTimeout:        15 * time.Second,
		ConfirmTimeout:     2 * time.Minute,
		RequestsPerSecond:  10,
		Burst:              20,
		ClaimableMethod:    DefaultClaimableMethod,
		WithdrawableMethod: DefaultClaimableMethod,
	}
}

// txSender is the signing side of BaseClient used by EthGateway.
type txSender interface {
	Address() common.Address
	CanSign() bool
	GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error)
	WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	SyncNonce(ctx context.Context) error
	Close()
}

// EthGateway implements Gateway against an EVM JSON-RPC node.
type EthGateway struct {
	config  *EthGatewayConfig
	base    txSender
	token   *TokenContract
	staking *StakingContract
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewEthGateway dials the node and binds both contracts. privateKey may be
// nil, in which case every write is rejected.
func NewEthGateway(ctx context.Context, config *EthGatewayConfig, privateKey *ecdsa.PrivateKey) (*EthGateway, error) {
	if config == nil {
		config = DefaultEthGatewayConfig()
	}
	if config.Client == nil {
		config.Client = DefaultBaseClientConfig()
	}
	if config.ClaimableMethod == "" {
		config.ClaimableMethod = DefaultClaimableMethod
	}
	if config.WithdrawableMethod == "" {
		config.WithdrawableMethod = DefaultClaimableMethod
	}

	base := NewBaseClient(config.Client, privateKey)
	if err := base.Connect(ctx); err != nil {
		return nil, err
	}

	token, err := NewTokenContract(base.Client(), config.TokenAddress)
	if err != nil {
		base.Close()
		return nil, err
	}
	staking, err := NewStakingContract(base.Client(), config.StakingAddress)
	if err != nil {
		base.Close()
		return nil, err
	}
	for _, m := range []string{config.ClaimableMethod, config.WithdrawableMethod} {
		if !staking.HasMethod(m) {
			base.Close()
			return nil, fmt.Errorf("staking ABI has no method %q", m)
		}
	}

	return newEthGateway(config, base, token, staking), nil
}

func newEthGateway(config *EthGatewayConfig, base txSender, token *TokenContract, staking *StakingContract) *EthGateway {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &EthGateway{
		config:  config,
		base:    base,
		token:   token,
		staking: staking,
		limiter: limiter,
		logger:  logging.With(logging.Component("eth-gateway")),
	}
}

// Close releases the RPC connection.
func (g *EthGateway) Close() {
	g.base.Close()
}

// Account returns the signing address, or WatchAccount for a read-only
// gateway.
func (g *EthGateway) Account() common.Address {
	if !g.base.CanSign() {
		return g.config.WatchAccount
	}
	return g.base.Address()
}

// StakingAddress returns the staking contract address.
func (g *EthGateway) StakingAddress() common.Address {
	return g.staking.Address()
}

// read runs fn under the rate limiter and the call timeout.
func read[T any](g *EthGateway, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, Unavailable(op, err)
	}

	timeout := g.config.CallTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil {
		return zero, Classify(op, err)
	}
	return v, nil
}

// Balance returns account's token balance.
func (g *EthGateway) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return read(g, ctx, "balance", func(ctx context.Context) (*big.Int, error) {
		return g.token.BalanceOf(ctx, account)
	})
}

// Allowance returns owner's allowance for spender.
func (g *EthGateway) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return read(g, ctx, "allowance", func(ctx context.Context) (*big.Int, error) {
		return g.token.Allowance(ctx, owner, spender)
	})
}

// Positions returns account's live positions. Withdrawn entries stay in
// the contract's array with a zero amount; they are skipped here but keep
// their slot so indices stay stable.
func (g *EthGateway) Positions(ctx context.Context, account common.Address) ([]Position, error) {
	all, err := read(g, ctx, "positions", func(ctx context.Context) ([]Position, error) {
		return g.staking.StakeInfos(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	live := make([]Position, 0, len(all))
	for _, p := range all {
		if p.Amount.Sign() == 0 {
			continue
		}
		live = append(live, p)
	}
	return live, nil
}

// PendingReward returns the accrued reward on account's position index.
func (g *EthGateway) PendingReward(ctx context.Context, account common.Address, index uint64) (*big.Int, error) {
	return read(g, ctx, "pending reward", func(ctx context.Context) (*big.Int, error) {
		return g.staking.PendingReward(ctx, account, index)
	})
}

// IsClaimable evaluates the configured claim predicate.
func (g *EthGateway) IsClaimable(ctx context.Context, account common.Address, index uint64) (bool, error) {
	return read(g, ctx, "is claimable", func(ctx context.Context) (bool, error) {
		return g.staking.BoolView(ctx, g.config.ClaimableMethod, account, index)
	})
}

// IsWithdrawable evaluates the configured withdraw predicate.
func (g *EthGateway) IsWithdrawable(ctx context.Context, account common.Address, index uint64) (bool, error) {
	return read(g, ctx, "is withdrawable", func(ctx context.Context) (bool, error) {
		return g.staking.BoolView(ctx, g.config.WithdrawableMethod, account, index)
	})
}

// Approve sets the token allowance of spender.
func (g *EthGateway) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*TxResult, error) {
	res, _, err := g.submit(ctx, "approve", spender.Hex(), func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.token.Approve(opts, spender, amount)
	})
	return res, err
}

// Deposit opens a new position. On confirmation the result carries the
// created position, taken from the Deposited event or, if the receipt
// lacks one, from the account's newest entry when its amount and lock
// period match the deposit. Otherwise Position is left nil.
func (g *EthGateway) Deposit(ctx context.Context, amount *big.Int, lockPeriod uint64) (*TxResult, error) {
	res, receipt, err := g.submit(ctx, "deposit", g.staking.Address().Hex(), func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.staking.Deposit(opts, amount, lockPeriod)
	})
	if err != nil || !res.Confirmed() {
		return res, err
	}

	if pos, ok := g.staking.DepositedFromReceipt(receipt, g.Account()); ok {
		res.Position = &pos
		return res, nil
	}

	positions, err := g.Positions(ctx, g.Account())
	if err != nil {
		g.logger.Warn("deposit confirmed but position lookup failed",
			logging.TxHash(res.Hash.Hex()), logging.Err(err))
		return res, nil
	}
	if pos, ok := newestMatching(positions, amount, lockPeriod); ok {
		res.Position = &pos
	}
	return res, nil
}

// newestMatching returns the highest-index position when it has the given
// amount and lock period.
func newestMatching(positions []Position, amount *big.Int, lockPeriod uint64) (Position, bool) {
	var newest *Position
	for i := range positions {
		if newest == nil || positions[i].Index > newest.Index {
			newest = &positions[i]
		}
	}
	if newest == nil || newest.Amount == nil || newest.Amount.Cmp(amount) != 0 || newest.LockPeriod != lockPeriod {
		return Position{}, false
	}
	return *newest, true
}

// Claim collects the reward on position index.
func (g *EthGateway) Claim(ctx context.Context, index uint64) (*TxResult, error) {
	res, _, err := g.submit(ctx, "claim", fmt.Sprintf("position:%d", index), func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.staking.Claim(opts, index)
	})
	return res, err
}

// Withdraw closes position index.
func (g *EthGateway) Withdraw(ctx context.Context, index uint64) (*TxResult, error) {
	res, _, err := g.submit(ctx, "withdraw", fmt.Sprintf("position:%d", index), func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.staking.Withdraw(opts, index)
	})
	return res, err
}

// submit signs and sends a transaction, then waits up to ConfirmTimeout for
// its receipt. An error means nothing was broadcast.
func (g *EthGateway) submit(ctx context.Context, op, target string, send func(*bind.TransactOpts) (*types.Transaction, error)) (*TxResult, *types.Receipt, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, nil, Unavailable(op, err)
	}

	opts, err := g.base.GetTransactOpts(ctx)
	if err != nil {
		return nil, nil, Classify(op, err)
	}

	tx, err := send(opts)
	if err != nil {
		if syncErr := g.base.SyncNonce(ctx); syncErr != nil {
			g.logger.Warn("failed to resync nonce", logging.Err(syncErr))
		}
		g.audit(op, target, "", "rejected", err.Error())
		return nil, nil, Classify(op, err)
	}

	res := &TxResult{Hash: tx.Hash(), Status: TxPending}

	timeout := g.config.ConfirmTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := g.base.WaitForTransaction(waitCtx, tx)
	switch {
	case receipt != nil && receipt.Status == types.ReceiptStatusFailed:
		res.Status = TxFailed
	case err == nil && receipt != nil:
		res.Status = TxConfirmed
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		g.logger.Warn("transaction not confirmed in time",
			"op", op, logging.TxHash(res.Hash.Hex()), "timeout", timeout)
	default:
		g.logger.Warn("failed waiting for transaction",
			"op", op, logging.TxHash(res.Hash.Hex()), logging.Err(err))
	}

	g.audit(op, target, res.Hash.Hex(), res.Status.String(), "")
	return res, receipt, nil
}

func (g *EthGateway) audit(op, target, hash, result, details string) {
	logging.Audit(logging.AuditEvent{
		Operation: op,
		Account:   g.Account().Hex(),
		Target:    target,
		TxHash:    hash,
		Result:    result,
		Details:   details,
	})
}

var _ Gateway = (*EthGateway)(nil)
