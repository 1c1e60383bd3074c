// Package staking keeps a local view of an account's time-locked stake
// positions, refreshes their rewards, and sequences the writes that change
// them.
package staking

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/ledger"
)

// Status is the derived state of a position. It is advisory; writes are
// gated on the ledger's own predicates only.
type Status int

const (
	Locked Status = iota
	Claimable
	Withdrawn
)

func (s Status) String() string {
	switch s {
	case Locked:
		return "locked"
	case Claimable:
		return "claimable"
	case Withdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// StakePosition is a ledger position plus the client-side reward and
// status data.
type StakePosition struct {
	ledger.Position
	// PendingReward is the last polled reward. It goes stale between polls.
	PendingReward *big.Int
	Status        Status
}

// Mature reports whether the lock period has elapsed at now.
func (p StakePosition) Mature(now time.Time) bool {
	return uint64(now.Unix()) >= p.MaturityTime()
}

func (p StakePosition) clone() StakePosition {
	out := p
	out.Position = p.Position.Clone()
	if p.PendingReward != nil {
		out.PendingReward = new(big.Int).Set(p.PendingReward)
	}
	return out
}

func newStakePosition(p ledger.Position, now time.Time) StakePosition {
	sp := StakePosition{Position: p.Clone(), PendingReward: new(big.Int)}
	sp.Status = deriveStatus(sp, now)
	return sp
}

func deriveStatus(p StakePosition, now time.Time) Status {
	if p.Mature(now) {
		return Claimable
	}
	return Locked
}

// AccountView is the cached state of one account. Values handed out by the
// Store are deep copies.
type AccountView struct {
	Address      common.Address
	TokenBalance *big.Int
	Allowance    *big.Int
	// Positions are the live positions in ledger index order.
	Positions []StakePosition
	// Withdrawn holds positions withdrawn through this client since the
	// view was loaded.
	Withdrawn []StakePosition
	UpdatedAt time.Time
}

// Position returns the live position with the given index.
func (v AccountView) Position(index uint64) (StakePosition, bool) {
	for _, p := range v.Positions {
		if p.Index == index {
			return p, true
		}
	}
	return StakePosition{}, false
}

// TotalStaked sums the amounts of all live positions.
func (v AccountView) TotalStaked() *big.Int {
	total := new(big.Int)
	for _, p := range v.Positions {
		total.Add(total, p.Amount)
	}
	return total
}

// TotalPendingReward sums the last polled rewards of all live positions.
func (v AccountView) TotalPendingReward() *big.Int {
	total := new(big.Int)
	for _, p := range v.Positions {
		if p.PendingReward != nil {
			total.Add(total, p.PendingReward)
		}
	}
	return total
}

func (v AccountView) clone() AccountView {
	out := v
	out.TokenBalance = cloneInt(v.TokenBalance)
	out.Allowance = cloneInt(v.Allowance)
	out.Positions = make([]StakePosition, len(v.Positions))
	for i, p := range v.Positions {
		out.Positions[i] = p.clone()
	}
	if v.Withdrawn != nil {
		out.Withdrawn = make([]StakePosition, len(v.Withdrawn))
		for i, p := range v.Withdrawn {
			out.Withdrawn[i] = p.clone()
		}
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
