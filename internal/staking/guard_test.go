package staking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/moltbunker/lockstake/internal/ledger"
)

func newGuardFixture(t *testing.T) (*ledger.MockLedger, *Store, *ActionGuard) {
	t.Helper()
	m := newTestLedger()
	m.AddPosition(alice, tokens(100), uint64(testNow.Unix()), days(90))
	m.SetReward(alice, 0, tokens(12))
	s := loadedStore(t, m, alice)
	s.ApplyRewardUpdate(alice, 0, tokens(12))
	return m, s, NewActionGuard(m.Gateway(alice), s)
}

func TestActionGuard_ClaimNotClaimableNeverSubmits(t *testing.T) {
	m, s, g := newGuardFixture(t)

	_, err := g.Claim(context.Background(), alice, 0)
	if !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("err = %v, want ErrNotClaimable", err)
	}
	if n := m.Calls(ledger.MethodClaim); n != 0 {
		t.Errorf("claim submitted %d times", n)
	}
	if n := m.Calls(ledger.MethodIsClaimable); n != 1 {
		t.Errorf("IsClaimable calls = %d, want 1", n)
	}
	view, _ := s.Snapshot()
	if view.Positions[0].PendingReward.Int64() != 12 {
		t.Error("store changed after refused claim")
	}
}

func TestActionGuard_IgnoresLocalMaturity(t *testing.T) {
	m := newTestLedger()
	// long matured locally, but the ledger says no
	m.AddPosition(alice, tokens(100), 0, days(30))
	m.SetClaimable(alice, 0, false)
	s := loadedStore(t, m, alice)
	g := NewActionGuard(m.Gateway(alice), s)

	if view, _ := s.Snapshot(); view.Positions[0].Status != Claimable {
		t.Fatalf("precondition: local status = %s", view.Positions[0].Status)
	}
	if _, err := g.Claim(context.Background(), alice, 0); !errors.Is(err, ErrNotClaimable) {
		t.Errorf("err = %v, want ErrNotClaimable", err)
	}

	// and the other way round: locked locally, ledger allows it
	m = newTestLedger()
	m.AddPosition(alice, tokens(100), uint64(testNow.Unix()), days(365))
	m.SetClaimable(alice, 0, true)
	s = loadedStore(t, m, alice)
	g = NewActionGuard(m.Gateway(alice), s)
	if _, err := g.Claim(context.Background(), alice, 0); err != nil {
		t.Errorf("claim allowed by ledger failed: %v", err)
	}
}

func TestActionGuard_ClaimResetsReward(t *testing.T) {
	m, s, g := newGuardFixture(t)
	m.SetClaimable(alice, 0, true)

	res, err := g.Claim(context.Background(), alice, 0)
	if err != nil || !res.Confirmed() {
		t.Fatalf("Claim: %v, %v", res, err)
	}
	view, _ := s.Snapshot()
	p, ok := view.Position(0)
	if !ok {
		t.Fatal("claim removed the position")
	}
	if p.PendingReward.Sign() != 0 || p.Amount.Int64() != 100 {
		t.Errorf("after claim = %+v", p)
	}
	if view.TokenBalance.Int64() != 12 {
		t.Errorf("balance after claim = %s, want 12", view.TokenBalance)
	}
}

func TestActionGuard_WithdrawRemovesPosition(t *testing.T) {
	m, s, g := newGuardFixture(t)
	m.SetWithdrawable(alice, 0, true)

	if _, err := g.Withdraw(context.Background(), alice, 0); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if idx := s.Indices(alice); len(idx) != 0 {
		t.Errorf("indices after withdraw = %v", idx)
	}
	if s.ApplyRewardUpdate(alice, 0, tokens(3)) {
		t.Error("late reward update for withdrawn index applied")
	}
	view, _ := s.Snapshot()
	if len(view.Withdrawn) != 1 || view.Withdrawn[0].Status != Withdrawn {
		t.Errorf("withdrawn = %+v", view.Withdrawn)
	}
}

func TestActionGuard_ClaimAndWithdrawUseOwnPredicates(t *testing.T) {
	m, _, g := newGuardFixture(t)
	m.SetClaimable(alice, 0, true)
	m.SetWithdrawable(alice, 0, false)

	if _, err := g.Withdraw(context.Background(), alice, 0); !errors.Is(err, ErrNotClaimable) {
		t.Errorf("withdraw err = %v, want ErrNotClaimable", err)
	}
	if m.Calls(ledger.MethodIsWithdrawable) != 1 || m.Calls(ledger.MethodIsClaimable) != 0 {
		t.Errorf("withdraw consulted the wrong predicate")
	}
}

func TestActionGuard_TxFailures(t *testing.T) {
	tests := []struct {
		name   string
		status ledger.TxStatus
	}{
		{"failed", ledger.TxFailed},
		{"pending", ledger.TxPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s, g := newGuardFixture(t)
			m.SetWithdrawable(alice, 0, true)
			m.SetTxStatus(ledger.MethodWithdraw, tt.status)

			res, err := g.Withdraw(context.Background(), alice, 0)
			if !errors.Is(err, ErrTxFailed) {
				t.Fatalf("err = %v, want ErrTxFailed", err)
			}
			if res == nil || res.Status != tt.status {
				t.Errorf("result = %+v", res)
			}
			if len(s.Indices(alice)) != 1 {
				t.Error("position removed by an unconfirmed withdraw")
			}
		})
	}
}

func TestActionGuard_CheckErrorKeepsLedgerKind(t *testing.T) {
	m, _, g := newGuardFixture(t)
	m.SetHook(func(_ context.Context, call ledger.Call) error {
		if call.Method == ledger.MethodIsClaimable {
			return ledger.Unavailable("is claimable", errors.New("timeout"))
		}
		return nil
	})

	_, err := g.Claim(context.Background(), alice, 0)
	if !errors.Is(err, ledger.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Op != "claim" || !actionErr.HasIndex || actionErr.Index != 0 {
		t.Errorf("ActionError = %+v", actionErr)
	}
	if n := m.Calls(ledger.MethodClaim); n != 0 {
		t.Errorf("claim submitted after a failed check")
	}
}

func TestActionGuard_SerializedPerIndex(t *testing.T) {
	m, _, g := newGuardFixture(t)
	m.SetClaimable(alice, 0, true)
	m.SetWithdrawable(alice, 0, true)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m.SetHook(func(ctx context.Context, call ledger.Call) error {
		if call.Method != ledger.MethodClaim {
			return nil
		}
		once.Do(func() { close(entered) })
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ledger.Unavailable("claim", ctx.Err())
		}
	})

	var wg sync.WaitGroup
	var claimErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, claimErr = g.Claim(context.Background(), alice, 0)
	}()
	<-entered

	if _, err := g.Claim(context.Background(), alice, 0); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("second claim err = %v, want ErrOperationInProgress", err)
	}
	if _, err := g.Withdraw(context.Background(), alice, 0); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("withdraw during claim err = %v, want ErrOperationInProgress", err)
	}

	close(release)
	wg.Wait()
	if claimErr != nil {
		t.Fatalf("first claim: %v", claimErr)
	}
	if n := m.Calls(ledger.MethodClaim); n != 1 {
		t.Errorf("claim calls = %d, want 1", n)
	}
}
