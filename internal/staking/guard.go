package staking

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/logging"
)

// ActionGuard submits claims and withdrawals only after the ledger confirms
// the position is eligible. Claim and withdraw share one in-flight slot per
// (account, index).
type ActionGuard struct {
	controllerBase
	inflight *inflight
}

// NewActionGuard creates a guard that writes through gw.
func NewActionGuard(gw ledger.Gateway, store *Store, opts ...ControllerOption) *ActionGuard {
	return &ActionGuard{
		controllerBase: newControllerBase(gw, store, logging.With(logging.Component("action-guard")), opts),
		inflight:       newInflight(),
	}
}

type guardedAction struct {
	op     string
	check  func(ctx context.Context, account common.Address, index uint64) (bool, error)
	submit func(ctx context.Context, index uint64) (*ledger.TxResult, error)
	kind   WriteKind
}

// Claim collects the reward of position index once IsClaimable holds.
func (g *ActionGuard) Claim(ctx context.Context, account common.Address, index uint64) (*ledger.TxResult, error) {
	return g.run(ctx, account, index, guardedAction{
		op:     "claim",
		check:  g.gw.IsClaimable,
		submit: g.gw.Claim,
		kind:   WriteClaim,
	})
}

// Withdraw closes position index once IsWithdrawable holds.
func (g *ActionGuard) Withdraw(ctx context.Context, account common.Address, index uint64) (*ledger.TxResult, error) {
	return g.run(ctx, account, index, guardedAction{
		op:     "withdraw",
		check:  g.gw.IsWithdrawable,
		submit: g.gw.Withdraw,
		kind:   WriteWithdraw,
	})
}

func (g *ActionGuard) run(ctx context.Context, account common.Address, index uint64, a guardedAction) (*ledger.TxResult, error) {
	if !g.live(account) {
		return nil, g.reject(a.op, indexError(a.op, account, index, ErrAccountChanged, nil))
	}

	release, ok := g.inflight.acquire(fmt.Sprintf("%s/%d", account.Hex(), index))
	if !ok {
		return nil, g.reject(a.op, indexError(a.op, account, index, ErrOperationInProgress, nil))
	}
	defer release()

	eligible, err := a.check(ctx, account, index)
	if err != nil {
		return nil, g.reject(a.op, indexError(a.op, account, index, nil, fmt.Errorf("failed to check eligibility: %w", err)))
	}
	if !g.live(account) {
		return nil, g.reject(a.op, indexError(a.op, account, index, ErrAccountChanged, nil))
	}
	if !eligible {
		return nil, g.reject(a.op, indexError(a.op, account, index, ErrNotClaimable, nil))
	}

	g.metrics.RecordTxSubmitted(a.op)
	res, err := a.submit(ctx, index)
	if err != nil {
		return nil, g.reject(a.op, indexError(a.op, account, index, nil, err))
	}
	g.outcome(a.op, res)
	if !res.Confirmed() {
		return res, g.reject(a.op, indexError(a.op, account, index, nil, txNotConfirmed(res)))
	}
	if !g.live(account) {
		return res, g.reject(a.op, indexError(a.op, account, index, ErrAccountChanged, nil))
	}

	g.store.ApplyWriteResult(account, WriteResult{Kind: a.kind, Index: index})
	if err := g.store.RefreshBalances(ctx, g.gw, account); err != nil {
		g.logger.Warn("failed to refresh balances",
			"op", a.op, logging.Account(account.Hex()), logging.Err(err))
	}

	g.logger.Info(a.op+" confirmed",
		logging.Account(account.Hex()),
		logging.Index(index),
		logging.TxHash(res.Hash.Hex()))
	return res, nil
}
