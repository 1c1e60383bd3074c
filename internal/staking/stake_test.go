package staking

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/moltbunker/lockstake/internal/ledger"
)

func newStakeFixture(t *testing.T) (*ledger.MockLedger, *Store, *StakeController) {
	t.Helper()
	m := newTestLedger()
	m.SetBalance(alice, tokens(1000))
	s := loadedStore(t, m, alice)
	return m, s, NewStakeController(m.Gateway(alice), s, DefaultStakeConfig())
}

func TestStakeController_LockPeriodBounds(t *testing.T) {
	tests := []struct {
		name    string
		amount  *big.Int
		lock    uint64
		wantErr bool
	}{
		{"29 days", tokens(1), days(29), true},
		{"30 days", tokens(1), days(30), false},
		{"365 days", tokens(1), days(365), false},
		{"366 days", tokens(1), days(366), true},
		{"one second short", tokens(1), days(30) - 1, true},
		{"zero amount", tokens(0), days(90), true},
		{"negative amount", tokens(-5), days(90), true},
		{"nil amount", nil, days(90), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s, c := newStakeFixture(t)
			m.SetAllowance(alice, tokens(1000))

			_, err := c.Stake(context.Background(), alice, tt.amount, tt.lock)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				for _, method := range []string{ledger.MethodAllowance, ledger.MethodApprove, ledger.MethodDeposit} {
					if n := m.Calls(method); n != 0 {
						t.Errorf("%s called %d times for invalid input", method, n)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("Stake: %v", err)
			}
			if len(s.Indices(alice)) != 1 {
				t.Error("valid stake did not add a position")
			}
		})
	}
}

func TestStakeController_ApproveThenDeposit(t *testing.T) {
	m, s, c := newStakeFixture(t)

	receipt, err := c.Stake(context.Background(), alice, tokens(400), days(90))
	if err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if m.Calls(ledger.MethodApprove) != 1 || m.Calls(ledger.MethodDeposit) != 1 {
		t.Errorf("approve/deposit calls = %d/%d, want 1/1",
			m.Calls(ledger.MethodApprove), m.Calls(ledger.MethodDeposit))
	}
	if receipt.Approval == nil || !receipt.Approval.Confirmed() || !receipt.Deposit.Confirmed() {
		t.Errorf("receipt = %+v", receipt)
	}
	if receipt.Position.Amount.Int64() != 400 || receipt.Position.LockPeriod != 7776000 {
		t.Errorf("position = %+v", receipt.Position)
	}

	view, _ := s.Snapshot()
	if len(view.Positions) != 1 {
		t.Fatalf("positions = %+v", view.Positions)
	}
	p := view.Positions[0]
	if p.Amount.Int64() != 400 || p.LockPeriod != 7776000 || p.DepositTime != uint64(testNow.Unix()) {
		t.Errorf("stored position = %+v", p)
	}
	if view.TokenBalance.Int64() != 600 {
		t.Errorf("balance = %s, want 600", view.TokenBalance)
	}
}

func TestStakeController_SkipsApproveWhenAllowanceSuffices(t *testing.T) {
	m, _, c := newStakeFixture(t)
	m.SetAllowance(alice, tokens(400))

	receipt, err := c.Stake(context.Background(), alice, tokens(400), days(30))
	if err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if n := m.Calls(ledger.MethodApprove); n != 0 {
		t.Errorf("approve called %d times", n)
	}
	if receipt.Approval != nil {
		t.Error("receipt reports an approval")
	}
}

func TestStakeController_ApprovalFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(m *ledger.MockLedger)
		target error
	}{
		{
			name:   "failed receipt",
			setup:  func(m *ledger.MockLedger) { m.SetTxStatus(ledger.MethodApprove, ledger.TxFailed) },
			target: ErrTxFailed,
		},
		{
			name:   "pending",
			setup:  func(m *ledger.MockLedger) { m.SetTxStatus(ledger.MethodApprove, ledger.TxPending) },
			target: ErrTxFailed,
		},
		{
			name: "rejected",
			setup: func(m *ledger.MockLedger) {
				m.SetHook(func(_ context.Context, call ledger.Call) error {
					if call.Method == ledger.MethodApprove {
						return ledger.Rejected("approve", errors.New("user denied"))
					}
					return nil
				})
			},
			target: ledger.ErrRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s, c := newStakeFixture(t)
			tt.setup(m)

			_, err := c.Stake(context.Background(), alice, tokens(400), days(90))
			if !errors.Is(err, ErrApprovalFailed) || !errors.Is(err, tt.target) {
				t.Fatalf("err = %v, want ErrApprovalFailed and %v", err, tt.target)
			}
			if n := m.Calls(ledger.MethodDeposit); n != 0 {
				t.Errorf("deposit attempted %d times after failed approval", n)
			}
			if len(s.Indices(alice)) != 0 {
				t.Error("store changed after failed approval")
			}
		})
	}
}

func TestStakeController_DepositFailureLeavesStore(t *testing.T) {
	for _, status := range []ledger.TxStatus{ledger.TxFailed, ledger.TxPending} {
		t.Run(status.String(), func(t *testing.T) {
			m, s, c := newStakeFixture(t)
			m.SetAllowance(alice, tokens(1000))
			m.SetTxStatus(ledger.MethodDeposit, status)
			before, _ := s.Snapshot()

			receipt, err := c.Stake(context.Background(), alice, tokens(400), days(90))
			if !errors.Is(err, ErrDepositFailed) {
				t.Fatalf("err = %v, want ErrDepositFailed", err)
			}
			if receipt == nil || receipt.Deposit == nil || receipt.Deposit.Status != status {
				t.Errorf("receipt = %+v", receipt)
			}
			after, _ := s.Snapshot()
			if len(after.Positions) != 0 || after.TokenBalance.Cmp(before.TokenBalance) != 0 {
				t.Errorf("store changed: %+v", after)
			}
		})
	}
}

func TestStakeController_ConcurrentStakeRejected(t *testing.T) {
	m, _, c := newStakeFixture(t)
	m.SetAllowance(alice, tokens(1000))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m.SetHook(func(ctx context.Context, call ledger.Call) error {
		if call.Method != ledger.MethodDeposit {
			return nil
		}
		once.Do(func() { close(entered) })
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ledger.Unavailable("deposit", ctx.Err())
		}
	})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = c.Stake(context.Background(), alice, tokens(100), days(30))
	}()

	<-entered
	_, err := c.Stake(context.Background(), alice, tokens(100), days(30))
	if !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("second stake err = %v, want ErrOperationInProgress", err)
	}

	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first stake: %v", firstErr)
	}
	if n := m.Calls(ledger.MethodDeposit); n != 1 {
		t.Errorf("deposit calls = %d, want 1", n)
	}

	// the slot is free again
	if _, err := c.Stake(context.Background(), alice, tokens(100), days(30)); err != nil {
		t.Errorf("third stake: %v", err)
	}
}

func TestStakeController_AccountChangedMidFlight(t *testing.T) {
	m, s, c := newStakeFixture(t)
	m.SetHook(func(_ context.Context, call ledger.Call) error {
		if call.Method == ledger.MethodApprove {
			// the wallet switches while the approval is out
			s.Reset()
		}
		return nil
	})

	_, err := c.Stake(context.Background(), alice, tokens(100), days(30))
	if !errors.Is(err, ErrAccountChanged) {
		t.Fatalf("err = %v, want ErrAccountChanged", err)
	}
	if n := m.Calls(ledger.MethodDeposit); n != 0 {
		t.Errorf("deposit submitted for a stale account")
	}
}

func TestStakeController_WrongSigner(t *testing.T) {
	m := newTestLedger()
	s := loadedStore(t, m, alice)
	c := NewStakeController(m.Gateway(bob), s, DefaultStakeConfig())

	if _, err := c.Stake(context.Background(), alice, tokens(1), days(30)); !errors.Is(err, ErrAccountChanged) {
		t.Errorf("err = %v, want ErrAccountChanged", err)
	}
}

func TestAmountForPercent(t *testing.T) {
	balance := tokens(1000)
	tests := []struct {
		pct     int
		want    int64
		wantErr bool
	}{
		{25, 250, false},
		{50, 500, false},
		{75, 750, false},
		{100, 1000, false},
		{0, 0, true},
		{101, 0, true},
	}
	for _, tt := range tests {
		got, err := AmountForPercent(balance, tt.pct)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("AmountForPercent(%d) err = %v", tt.pct, err)
			}
			continue
		}
		if err != nil || got.Int64() != tt.want {
			t.Errorf("AmountForPercent(%d) = %v, %v; want %d", tt.pct, got, err, tt.want)
		}
	}

	odd, _ := AmountForPercent(tokens(3), 50)
	if odd.Int64() != 1 {
		t.Errorf("rounding: got %s, want 1", odd)
	}
}

func TestLockPreset(t *testing.T) {
	for months, wantDays := range map[int]uint64{1: 30, 3: 90, 6: 180, 12: 365} {
		d, ok := LockPreset(months)
		if !ok || uint64(d/time.Second) != days(wantDays) {
			t.Errorf("LockPreset(%d) = %v, %v", months, d, ok)
		}
	}
	if _, ok := LockPreset(2); ok {
		t.Error("LockPreset(2) should not exist")
	}
}
