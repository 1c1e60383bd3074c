// Package ledger is the boundary between the staking client and the
// on-chain token and staking contracts. Amounts cross it as 18-decimal
// fixed-point integers; timestamps and lock periods as unix seconds.
package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a stake entry as reported by the staking contract. It carries
// no reward data; rewards are read per index with PendingReward.
type Position struct {
	Index       uint64
	Amount      *big.Int
	DepositTime uint64
	LockPeriod  uint64
}

// MaturityTime is DepositTime + LockPeriod.
func (p Position) MaturityTime() uint64 {
	return p.DepositTime + p.LockPeriod
}

// Clone returns a copy that shares no *big.Int with p.
func (p Position) Clone() Position {
	out := p
	if p.Amount != nil {
		out.Amount = new(big.Int).Set(p.Amount)
	}
	return out
}

// TxStatus is the outcome of a submitted write.
type TxStatus int

const (
	// TxPending means the transaction was broadcast but not confirmed within
	// the gateway's confirmation bound.
	TxPending TxStatus = iota
	// TxConfirmed means the transaction was mined successfully and reached
	// the configured confirmation depth.
	TxConfirmed
	// TxFailed means the transaction was mined with a failed receipt.
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TxResult describes a submitted write.
type TxResult struct {
	Hash   common.Hash
	Status TxStatus
	// Position is set on confirmed deposits: the entry the deposit created.
	Position *Position
}

// Confirmed reports whether r is non-nil and confirmed.
func (r *TxResult) Confirmed() bool {
	return r != nil && r.Status == TxConfirmed
}

// Reader is the read side of the ledger. Reads take the account explicitly
// and do not depend on who signs writes.
type Reader interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	// Positions returns live positions in ledger index order.
	Positions(ctx context.Context, account common.Address) ([]Position, error)
	PendingReward(ctx context.Context, account common.Address, index uint64) (*big.Int, error)
	IsClaimable(ctx context.Context, account common.Address, index uint64) (bool, error)
	IsWithdrawable(ctx context.Context, account common.Address, index uint64) (bool, error)
	// StakingAddress is the spender that deposits draw allowance for.
	StakingAddress() common.Address
}

// Writer submits transactions signed by a single account.
type Writer interface {
	// Account is the address that signs every write.
	Account() common.Address
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*TxResult, error)
	Deposit(ctx context.Context, amount *big.Int, lockPeriod uint64) (*TxResult, error)
	Claim(ctx context.Context, index uint64) (*TxResult, error)
	Withdraw(ctx context.Context, index uint64) (*TxResult, error)
}

// Gateway is full read/write access to the ledger for one signer.
type Gateway interface {
	Reader
	Writer
}
