package staking

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/logging"
)

const day = 24 * time.Hour

// Lock period bounds accepted by default, inclusive.
const (
	DefaultMinLock = 30 * day
	DefaultMaxLock = 365 * day
)

// LockPresets are the offered lock periods: one, three, six and twelve
// months.
var LockPresets = []time.Duration{30 * day, 90 * day, 180 * day, 365 * day}

// LockPreset maps a month count from LockPresets onto its duration.
func LockPreset(months int) (time.Duration, bool) {
	switch months {
	case 1:
		return LockPresets[0], true
	case 3:
		return LockPresets[1], true
	case 6:
		return LockPresets[2], true
	case 12:
		return LockPresets[3], true
	default:
		return 0, false
	}
}

// AmountForPercent returns pct percent of balance, rounded down. pct must
// be in 1..100.
func AmountForPercent(balance *big.Int, pct int) (*big.Int, error) {
	if pct < 1 || pct > 100 {
		return nil, fmt.Errorf("%w: percent %d outside 1..100", ErrInvalidInput, pct)
	}
	if balance == nil || balance.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative balance", ErrInvalidInput)
	}
	out := new(big.Int).Mul(balance, big.NewInt(int64(pct)))
	return out.Quo(out, big.NewInt(100)), nil
}

// StakeConfig bounds the accepted lock period.
type StakeConfig struct {
	MinLock time.Duration
	MaxLock time.Duration
}

// DefaultStakeConfig accepts 30 to 365 days.
func DefaultStakeConfig() StakeConfig {
	return StakeConfig{MinLock: DefaultMinLock, MaxLock: DefaultMaxLock}
}

// StakeReceipt reports a completed stake. Approval is nil when the
// existing allowance already covered the amount.
type StakeReceipt struct {
	Approval *ledger.TxResult
	Deposit  *ledger.TxResult
	Position StakePosition
}

// StakeController runs the allowance check, approve and deposit sequence.
// One stake per account may be in flight.
type StakeController struct {
	controllerBase
	config   StakeConfig
	inflight *inflight
}

// NewStakeController creates a controller that writes through gw.
func NewStakeController(gw ledger.Gateway, store *Store, config StakeConfig, opts ...ControllerOption) *StakeController {
	def := DefaultStakeConfig()
	if config.MinLock <= 0 {
		config.MinLock = def.MinLock
	}
	if config.MaxLock <= 0 {
		config.MaxLock = def.MaxLock
	}

	return &StakeController{
		controllerBase: newControllerBase(gw, store, logging.With(logging.Component("stake-controller")), opts),
		config:         config,
		inflight:       newInflight(),
	}
}

// Validate checks amount and lockPeriod (seconds) without contacting the
// ledger.
func (c *StakeController) Validate(amount *big.Int, lockPeriod uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	minSecs := uint64(c.config.MinLock / time.Second)
	maxSecs := uint64(c.config.MaxLock / time.Second)
	if lockPeriod < minSecs || lockPeriod > maxSecs {
		return fmt.Errorf("%w: lock period %ds outside [%d, %d]", ErrInvalidInput, lockPeriod, minSecs, maxSecs)
	}
	return nil
}

// Stake locks amount for lockPeriod seconds from account. It approves the
// staking contract first when the current allowance is short. The store
// changes only for confirmed writes.
func (c *StakeController) Stake(ctx context.Context, account common.Address, amount *big.Int, lockPeriod uint64) (*StakeReceipt, error) {
	const op = "stake"

	if err := c.Validate(amount, lockPeriod); err != nil {
		return nil, c.reject(op, accountError(op, account, nil, err))
	}
	if !c.live(account) {
		return nil, c.reject(op, accountError(op, account, ErrAccountChanged, nil))
	}

	release, ok := c.inflight.acquire(account.Hex())
	if !ok {
		return nil, c.reject(op, accountError(op, account, ErrOperationInProgress, nil))
	}
	defer release()

	spender := c.gw.StakingAddress()
	allowance, err := c.gw.Allowance(ctx, account, spender)
	if err != nil {
		return nil, c.reject(op, accountError(op, account, nil, fmt.Errorf("failed to read allowance: %w", err)))
	}
	if !c.live(account) {
		return nil, c.reject(op, accountError(op, account, ErrAccountChanged, nil))
	}

	receipt := &StakeReceipt{}

	if allowance.Cmp(amount) < 0 {
		c.logger.Info("allowance short, approving",
			logging.Account(account.Hex()),
			"allowance", allowance.String(),
			"amount", amount.String())

		c.metrics.RecordTxSubmitted("approve")
		res, err := c.gw.Approve(ctx, spender, amount)
		if err != nil {
			return nil, c.reject(op, accountError(op, account, ErrApprovalFailed, err))
		}
		c.outcome("approve", res)
		receipt.Approval = res
		if !res.Confirmed() {
			return receipt, c.reject(op, accountError(op, account, ErrApprovalFailed, txNotConfirmed(res)))
		}
		if !c.live(account) {
			return receipt, c.reject(op, accountError(op, account, ErrAccountChanged, nil))
		}
		c.store.ApplyWriteResult(account, WriteResult{Kind: WriteApprove, Amount: amount})
	}

	c.metrics.RecordTxSubmitted("deposit")
	res, err := c.gw.Deposit(ctx, amount, lockPeriod)
	if err != nil {
		return receipt, c.reject(op, accountError(op, account, ErrDepositFailed, err))
	}
	c.outcome("deposit", res)
	receipt.Deposit = res
	if !res.Confirmed() {
		return receipt, c.reject(op, accountError(op, account, ErrDepositFailed, txNotConfirmed(res)))
	}
	if !c.live(account) {
		return receipt, c.reject(op, accountError(op, account, ErrAccountChanged, nil))
	}

	if res.Position != nil {
		c.store.ApplyWriteResult(account, WriteResult{Kind: WriteDeposit, Position: res.Position})
		receipt.Position = newStakePosition(*res.Position, c.store.now())
		if err := c.store.RefreshBalances(ctx, c.gw, account); err != nil {
			c.logger.Warn("failed to refresh balances after deposit",
				logging.Account(account.Hex()), logging.Err(err))
		}
	} else {
		// The gateway could not name the new entry; reload to pick it up.
		if err := c.store.Load(ctx, c.gw, account); err != nil {
			c.logger.Warn("failed to reload after deposit",
				logging.Account(account.Hex()), logging.Err(err))
		}
	}

	c.logger.Info("stake confirmed",
		logging.Account(account.Hex()),
		logging.TxHash(res.Hash.Hex()),
		"amount", amount.String(),
		"lock_period", lockPeriod)
	return receipt, nil
}
