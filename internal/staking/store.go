package staking

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/logging"
	"github.com/moltbunker/lockstake/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// WriteKind identifies a confirmed write applied to the store.
type WriteKind int

const (
	WriteApprove WriteKind = iota
	WriteDeposit
	WriteClaim
	WriteWithdraw
)

func (k WriteKind) String() string {
	switch k {
	case WriteApprove:
		return "approve"
	case WriteDeposit:
		return "deposit"
	case WriteClaim:
		return "claim"
	case WriteWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// WriteResult is the local effect of a confirmed write.
type WriteResult struct {
	Kind WriteKind
	// Index is the target of claims and withdrawals.
	Index uint64
	// Position is the entry created by a deposit.
	Position *ledger.Position
	// Amount is the approved allowance.
	Amount *big.Int
}

// Store is the in-memory view of the connected account. It is the single
// source of truth for presentation and holds at most one account at a time.
type Store struct {
	now     func() time.Time
	metrics *metrics.Collector

	// listMu orders loads and writes that change the position list.
	listMu sync.Mutex

	mu   sync.RWMutex
	view *AccountView

	subMu   sync.Mutex
	subs    map[int]func(AccountView)
	nextSub int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used to derive position status.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithMetrics records loads and reward updates on m.
func WithMetrics(m *metrics.Collector) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		now:  time.Now,
		subs: make(map[int]func(AccountView)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches balance, allowance and positions for account and makes them
// the current view. A view for another account is replaced, never merged.
//
// On failure a same-account view is kept and a different account's view is
// dropped. If ctx is done once the reads return, the store is left as it is.
func (s *Store) Load(ctx context.Context, reader ledger.Reader, account common.Address) error {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	var (
		balance, allowance *big.Int
		positions          []ledger.Position
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balance, err = reader.Balance(gctx, account)
		return err
	})
	g.Go(func() (err error) {
		allowance, err = reader.Allowance(gctx, account, reader.StakingAddress())
		return err
	})
	g.Go(func() (err error) {
		positions, err = reader.Positions(gctx, account)
		return err
	})
	err := g.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		s.metrics.RecordLoad("canceled")
		if err == nil {
			err = ledger.Unavailable("load", ctxErr)
		}
		return accountError("load", account, ErrLoadFailed, err)
	}

	if err != nil {
		s.mu.Lock()
		dropped := s.view != nil && s.view.Address != account
		if dropped {
			s.view = nil
		}
		s.mu.Unlock()
		if dropped {
			s.notify()
		}

		s.metrics.RecordLoad("failed")
		logging.Warn("failed to load positions",
			logging.Component("position-store"),
			logging.Account(account.Hex()),
			logging.Err(err))
		return accountError("load", account, ErrLoadFailed, err)
	}

	now := s.now()
	view := &AccountView{
		Address:      account,
		TokenBalance: cloneInt(balance),
		Allowance:    cloneInt(allowance),
		Positions:    make([]StakePosition, 0, len(positions)),
		UpdatedAt:    now,
	}
	for _, p := range positions {
		view.Positions = append(view.Positions, newStakePosition(p, now))
	}

	s.mu.Lock()
	if s.view != nil && s.view.Address == account {
		known := make(map[uint64]*big.Int, len(s.view.Positions))
		for _, p := range s.view.Positions {
			known[p.Index] = p.PendingReward
		}
		for i := range view.Positions {
			if r, ok := known[view.Positions[i].Index]; ok {
				view.Positions[i].PendingReward = cloneInt(r)
			}
		}
		view.Withdrawn = s.view.Withdrawn
	}
	s.view = view
	s.mu.Unlock()

	s.metrics.RecordLoad("ok")
	s.metrics.SetTrackedPositions(len(view.Positions))
	logging.Debug("positions loaded",
		logging.Component("position-store"),
		logging.Account(account.Hex()),
		"positions", len(view.Positions))
	s.notify()
	return nil
}

// ApplyRewardUpdate sets the pending reward of one position. It reports
// false and changes nothing when account is not current or the index is
// gone.
func (s *Store) ApplyRewardUpdate(account common.Address, index uint64, value *big.Int) bool {
	s.mu.Lock()
	applied := false
	if s.view != nil && s.view.Address == account {
		for i := range s.view.Positions {
			if s.view.Positions[i].Index == index {
				s.view.Positions[i].PendingReward = cloneInt(value)
				s.view.Positions[i].Status = deriveStatus(s.view.Positions[i], s.now())
				applied = true
				break
			}
		}
	}
	s.mu.Unlock()

	s.metrics.RecordRewardUpdate(applied)
	if applied {
		s.notify()
	}
	return applied
}

// ApplyWriteResult records the effect of a confirmed write. It reports
// false when account is not current or the result does not apply.
func (s *Store) ApplyWriteResult(account common.Address, res WriteResult) bool {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	s.mu.Lock()
	applied := s.applyLocked(account, res)
	tracked := 0
	if s.view != nil {
		tracked = len(s.view.Positions)
	}
	s.mu.Unlock()

	if applied {
		s.metrics.SetTrackedPositions(tracked)
		s.notify()
	}
	return applied
}

func (s *Store) applyLocked(account common.Address, res WriteResult) bool {
	v := s.view
	if v == nil || v.Address != account {
		return false
	}
	now := s.now()

	switch res.Kind {
	case WriteApprove:
		if res.Amount == nil {
			return false
		}
		v.Allowance = cloneInt(res.Amount)

	case WriteDeposit:
		if res.Position == nil {
			return false
		}
		for _, p := range v.Positions {
			if p.Index == res.Position.Index {
				return false
			}
		}
		sp := newStakePosition(*res.Position, now)
		// keep ledger index order
		at := len(v.Positions)
		for i, p := range v.Positions {
			if p.Index > sp.Index {
				at = i
				break
			}
		}
		v.Positions = append(v.Positions, StakePosition{})
		copy(v.Positions[at+1:], v.Positions[at:])
		v.Positions[at] = sp

	case WriteClaim:
		i := indexOf(v.Positions, res.Index)
		if i < 0 {
			return false
		}
		v.Positions[i].PendingReward = new(big.Int)

	case WriteWithdraw:
		i := indexOf(v.Positions, res.Index)
		if i < 0 {
			return false
		}
		gone := v.Positions[i]
		gone.Status = Withdrawn
		v.Positions = append(v.Positions[:i], v.Positions[i+1:]...)
		v.Withdrawn = append(v.Withdrawn, gone)

	default:
		return false
	}

	v.UpdatedAt = now
	return true
}

// RefreshBalances re-reads balance and allowance for account after a write.
func (s *Store) RefreshBalances(ctx context.Context, reader ledger.Reader, account common.Address) error {
	balance, err := reader.Balance(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to refresh balance: %w", err)
	}
	allowance, err := reader.Allowance(ctx, account, reader.StakingAddress())
	if err != nil {
		return fmt.Errorf("failed to refresh allowance: %w", err)
	}

	s.mu.Lock()
	applied := s.view != nil && s.view.Address == account
	if applied {
		s.view.TokenBalance = cloneInt(balance)
		s.view.Allowance = cloneInt(allowance)
		s.view.UpdatedAt = s.now()
	}
	s.mu.Unlock()

	if applied {
		s.notify()
	}
	return nil
}

// Snapshot returns a copy of the current view. ok is false when no view is
// loaded.
func (s *Store) Snapshot() (AccountView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.view == nil {
		return AccountView{}, false
	}
	view := s.view.clone()
	now := s.now()
	for i := range view.Positions {
		view.Positions[i].Status = deriveStatus(view.Positions[i], now)
	}
	return view, true
}

// Current returns the account the view belongs to.
func (s *Store) Current() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.view == nil {
		return common.Address{}, false
	}
	return s.view.Address, true
}

// Indices returns the live position indices for account, or nil if
// account is not current.
func (s *Store) Indices(account common.Address) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.view == nil || s.view.Address != account {
		return nil
	}
	out := make([]uint64, len(s.view.Positions))
	for i, p := range s.view.Positions {
		out[i] = p.Index
	}
	return out
}

// Reset discards the view. It waits for an in-progress load to finish.
func (s *Store) Reset() {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	s.mu.Lock()
	had := s.view != nil
	s.view = nil
	s.mu.Unlock()

	s.metrics.SetTrackedPositions(0)
	if had {
		s.notify()
	}
}

// Subscribe registers fn to receive a snapshot after every change. An
// empty AccountView with a zero Address means the view was discarded.
// fn runs on the goroutine that made the change and must not block.
func (s *Store) Subscribe(fn func(AccountView)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	if len(s.subs) == 0 {
		s.subMu.Unlock()
		return
	}
	fns := make([]func(AccountView), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	view, _ := s.Snapshot()
	for _, fn := range fns {
		fn(view)
	}
}

func indexOf(positions []StakePosition, index uint64) int {
	for i, p := range positions {
		if p.Index == index {
			return i
		}
	}
	return -1
}
