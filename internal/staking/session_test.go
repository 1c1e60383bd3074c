package staking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moltbunker/lockstake/internal/ledger"
)

func newTestManager(config SessionConfig) *Manager {
	return NewManager(newTestStore(), config, nil)
}

func fastSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.Poller = fastPollerConfig()
	return cfg
}

func TestManager_ConnectLoadsAndPolls(t *testing.T) {
	m := newTestLedger()
	m.SetBalance(alice, tokens(10))
	m.AddPosition(alice, tokens(100), 0, days(30))
	m.SetReward(alice, 0, tokens(4))

	mgr := newTestManager(fastSessionConfig())
	defer mgr.Disconnect()

	s, err := mgr.Connect(context.Background(), alice, m.Gateway(alice))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.Polling() {
		t.Error("poller not running after connect")
	}
	eventually(t, time.Second, func() bool {
		view, ok := s.View()
		return ok && view.TotalPendingReward().Int64() == 4
	}, "reward polled")

	current, err := mgr.Current()
	if err != nil || current != s {
		t.Errorf("Current = %v, %v", current, err)
	}
}

func TestManager_ConnectRejectsMismatchedGateway(t *testing.T) {
	m := newTestLedger()
	mgr := newTestManager(DefaultSessionConfig())

	if _, err := mgr.Connect(context.Background(), alice, m.Gateway(bob)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := mgr.Current(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Current err = %v, want ErrNoSession", err)
	}
}

func TestManager_SwitchMidPollStopsOldUpdates(t *testing.T) {
	m := newTestLedger()
	m.AddPosition(alice, tokens(100), 0, days(30))
	m.SetReward(alice, 0, tokens(9))
	m.AddPosition(bob, tokens(50), 0, days(30))

	entered := make(chan struct{})
	var once sync.Once
	m.SetHook(func(ctx context.Context, call ledger.Call) error {
		if call.Method == ledger.MethodPendingReward && call.Account == alice {
			once.Do(func() { close(entered) })
			// the answer lands only after the switch canceled the call
			<-ctx.Done()
		}
		return nil
	})

	mgr := newTestManager(fastSessionConfig())
	defer mgr.Disconnect()

	var aliceUpdates atomic.Int32
	var switched atomic.Bool
	cancel := mgr.Store().Subscribe(func(v AccountView) {
		if switched.Load() && v.Address == alice {
			aliceUpdates.Add(1)
		}
	})
	defer cancel()

	old, err := mgr.Connect(context.Background(), alice, m.Gateway(alice))
	if err != nil {
		t.Fatalf("Connect(alice): %v", err)
	}
	<-entered

	next, err := mgr.Connect(context.Background(), bob, m.Gateway(bob))
	if err != nil {
		t.Fatalf("Connect(bob): %v", err)
	}
	switched.Store(true)

	time.Sleep(60 * time.Millisecond)
	if n := aliceUpdates.Load(); n != 0 {
		t.Errorf("%d updates for the old account after switch", n)
	}
	if old.Alive() || old.Polling() {
		t.Error("old session still alive")
	}
	if _, ok := old.View(); ok {
		t.Error("old session still exposes a view")
	}
	view, ok := next.View()
	if !ok || view.Address != bob || len(view.Positions) != 1 || view.Positions[0].Amount.Int64() != 50 {
		t.Errorf("new view = %+v", view)
	}
}

func TestSession_ClosedRejectsCommands(t *testing.T) {
	m := newTestLedger()
	m.SetBalance(alice, tokens(1000))
	m.AddPosition(alice, tokens(1), 0, days(30))

	mgr := newTestManager(DefaultSessionConfig())
	s, err := mgr.Connect(context.Background(), alice, m.Gateway(alice))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	mgr.Disconnect()

	ctx := context.Background()
	checks := map[string]error{}
	_, checks["stake"] = s.Stake(ctx, tokens(1), days(30))
	_, checks["claim"] = s.Claim(ctx, 0)
	_, checks["withdraw"] = s.Withdraw(ctx, 0)
	checks["reload"] = s.Reload(ctx)
	for op, err := range checks {
		if !errors.Is(err, ErrAccountChanged) {
			t.Errorf("%s after disconnect: err = %v, want ErrAccountChanged", op, err)
		}
	}
	if n := m.Calls(ledger.MethodAllowance); n != 1 {
		t.Errorf("ledger contacted after disconnect (allowance calls = %d)", n)
	}
	if _, ok := mgr.Store().Snapshot(); ok {
		t.Error("view survived disconnect")
	}
}

func TestSession_InFlightStakeRejectedOnSwitch(t *testing.T) {
	m := newTestLedger()
	m.SetBalance(alice, tokens(1000))
	m.SetAllowance(alice, tokens(1000))

	entered := make(chan struct{})
	m.SetHook(func(ctx context.Context, call ledger.Call) error {
		if call.Method == ledger.MethodDeposit {
			close(entered)
			<-ctx.Done()
			return ledger.Unavailable("deposit", ctx.Err())
		}
		return nil
	})

	mgr := newTestManager(DefaultSessionConfig())
	defer mgr.Disconnect()
	s, err := mgr.Connect(context.Background(), alice, m.Gateway(alice))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := s.Stake(context.Background(), tokens(100), days(30))
		errc <- err
	}()
	<-entered

	if _, err := mgr.Connect(context.Background(), bob, m.Gateway(bob)); err != nil {
		t.Fatalf("Connect(bob): %v", err)
	}
	if err := <-errc; err == nil {
		t.Fatal("stake for the old account succeeded")
	}
	if idx := mgr.Store().Indices(alice); idx != nil {
		t.Errorf("old account positions = %v", idx)
	}
}

func TestSession_StakeStartsPoller(t *testing.T) {
	m := newTestLedger()
	m.SetBalance(alice, tokens(1000))

	mgr := newTestManager(fastSessionConfig())
	defer mgr.Disconnect()
	s, err := mgr.Connect(context.Background(), alice, m.Gateway(alice))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.Polling() {
		t.Fatal("poller running with no positions")
	}

	if _, err := s.Stake(context.Background(), tokens(400), days(90)); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if !s.Polling() {
		t.Error("poller not started after deposit")
	}
}

func TestManager_ReconnectSameAccountKeepsRewards(t *testing.T) {
	m := newTestLedger()
	m.AddPosition(alice, tokens(1), 0, days(30))
	m.SetReward(alice, 0, tokens(8))

	mgr := newTestManager(DefaultSessionConfig())
	defer mgr.Disconnect()
	first, err := mgr.Connect(context.Background(), alice, m.Gateway(alice))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	eventually(t, time.Second, func() bool {
		view, _ := first.View()
		return view.TotalPendingReward().Int64() == 8
	}, "first poll")

	m.SetHook(func(_ context.Context, call ledger.Call) error {
		if call.Method == ledger.MethodPendingReward {
			return ledger.Unavailable("pending reward", errors.New("down"))
		}
		return nil
	})
	s, err := mgr.Connect(context.Background(), alice, m.Gateway(alice))
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	view, _ := s.View()
	if view.Positions[0].PendingReward.Int64() != 8 {
		t.Errorf("reward after reconnect = %s, want 8", view.Positions[0].PendingReward)
	}
}

func TestManager_ConnectLoadFailure(t *testing.T) {
	m := newTestLedger()
	m.SetHook(func(_ context.Context, call ledger.Call) error {
		return ledger.Unavailable(call.Method, errors.New("no route"))
	})

	mgr := newTestManager(DefaultSessionConfig())
	_, err := mgr.Connect(context.Background(), alice, m.Gateway(alice))
	if !errors.Is(err, ErrLoadFailed) || !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrLoadFailed and ErrUnavailable", err)
	}
	if _, err := mgr.Current(); !errors.Is(err, ErrNoSession) {
		t.Error("failed connect left a session")
	}
}

func TestSession_ReconcileSchedule(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.ReconcileSchedule = "not a schedule"
	mgr := newTestManager(cfg)
	m := newTestLedger()
	if _, err := mgr.Connect(context.Background(), alice, m.Gateway(alice)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	cfg.ReconcileSchedule = "@every 1h"
	mgr = newTestManager(cfg)
	defer mgr.Disconnect()
	s, err := mgr.Connect(context.Background(), alice, m.Gateway(alice))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// a position opened elsewhere shows up after a reconcile
	m.AddPosition(alice, tokens(3), 0, days(30))
	s.reconcile()
	if idx := mgr.Store().Indices(alice); len(idx) != 1 {
		t.Errorf("indices after reconcile = %v", idx)
	}
	if !s.Polling() {
		t.Error("poller not resumed after reconcile")
	}
}
