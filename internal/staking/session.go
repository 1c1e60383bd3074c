package staking

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/logging"
	"github.com/moltbunker/lockstake/internal/metrics"
	"github.com/robfig/cron/v3"
)

// reconcileTimeout bounds one scheduled reload.
const reconcileTimeout = 30 * time.Second

// SessionConfig configures every session a Manager creates.
type SessionConfig struct {
	Poller PollerConfig
	Stake  StakeConfig
	// ReconcileSchedule is a cron spec (e.g. "@every 5m") for periodic
	// full reloads. Empty disables it.
	ReconcileSchedule string
}

// DefaultSessionConfig returns defaults with reconciliation disabled.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Poller: DefaultPollerConfig(),
		Stake:  DefaultStakeConfig(),
	}
}

// Session is the lifetime of one connected account. All of its work stops
// when it is closed, and a closed session rejects every command with
// ErrAccountChanged.
type Session struct {
	account common.Address
	gw      ledger.Gateway
	store   *Store
	poller  *Poller
	stake   *StakeController
	guard   *ActionGuard
	cron    *cron.Cron
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func newSession(account common.Address, gw ledger.Gateway, store *Store, config SessionConfig, m *metrics.Collector) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		account: account,
		gw:      gw,
		store:   store,
		ctx:     ctx,
		cancel:  cancel,
		logger: logging.With(
			logging.Component("session"),
			logging.Account(account.Hex()),
		),
	}

	opts := []ControllerOption{
		WithLiveness(func(a common.Address) bool { return a == s.account && s.Alive() }),
		WithControllerMetrics(m),
	}
	s.poller = NewPoller(gw, store, account, config.Poller, m)
	s.stake = NewStakeController(gw, store, config.Stake, opts...)
	s.guard = NewActionGuard(gw, store, opts...)

	if config.ReconcileSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(config.ReconcileSchedule, s.reconcile); err != nil {
			cancel()
			return nil, fmt.Errorf("%w: reconcile schedule %q: %v", ErrInvalidInput, config.ReconcileSchedule, err)
		}
		s.cron = c
	}
	return s, nil
}

func (s *Session) start() {
	if s.cron != nil {
		s.cron.Start()
	}
	s.poller.Start(s.ctx)
}

// Account returns the session account.
func (s *Session) Account() common.Address {
	return s.account
}

// Gateway returns the gateway the session writes through.
func (s *Session) Gateway() ledger.Gateway {
	return s.gw
}

// Alive reports whether the session is still open.
func (s *Session) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Polling reports whether the reward poller is running.
func (s *Session) Polling() bool {
	return s.poller.Running()
}

// Polled is closed once the first reward poll of the session completes.
// It never closes if the account has no positions.
func (s *Session) Polled() <-chan struct{} {
	return s.poller.Polled()
}

// View returns the store snapshot if it still belongs to this session.
func (s *Session) View() (AccountView, bool) {
	if !s.Alive() {
		return AccountView{}, false
	}
	view, ok := s.store.Snapshot()
	if !ok || view.Address != s.account {
		return AccountView{}, false
	}
	return view, true
}

// Reload re-reads the account from the ledger and resumes polling if there
// are positions.
func (s *Session) Reload(ctx context.Context) error {
	ctx, done, err := s.bind(ctx, "reload")
	if err != nil {
		return err
	}
	defer done()

	if err := s.store.Load(ctx, s.gw, s.account); err != nil {
		return err
	}
	s.poller.Start(s.ctx)
	return nil
}

// Stake locks amount for lockPeriod seconds.
func (s *Session) Stake(ctx context.Context, amount *big.Int, lockPeriod uint64) (*StakeReceipt, error) {
	ctx, done, err := s.bind(ctx, "stake")
	if err != nil {
		return nil, err
	}
	defer done()

	receipt, err := s.stake.Stake(ctx, s.account, amount, lockPeriod)
	if err != nil {
		return receipt, err
	}
	s.poller.Start(s.ctx)
	return receipt, nil
}

// Claim collects the reward of position index.
func (s *Session) Claim(ctx context.Context, index uint64) (*ledger.TxResult, error) {
	ctx, done, err := s.bind(ctx, "claim")
	if err != nil {
		return nil, err
	}
	defer done()
	return s.guard.Claim(ctx, s.account, index)
}

// Withdraw closes position index.
func (s *Session) Withdraw(ctx context.Context, index uint64) (*ledger.TxResult, error) {
	ctx, done, err := s.bind(ctx, "withdraw")
	if err != nil {
		return nil, err
	}
	defer done()
	return s.guard.Withdraw(ctx, s.account, index)
}

// bind derives a context that is also canceled when the session closes.
func (s *Session) bind(ctx context.Context, op string) (context.Context, func(), error) {
	if !s.Alive() {
		return nil, nil, accountError(op, s.account, ErrAccountChanged, nil)
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}, nil
}

func (s *Session) reconcile() {
	ctx, cancel := context.WithTimeout(s.ctx, reconcileTimeout)
	defer cancel()

	if err := s.Reload(ctx); err != nil {
		if s.Alive() {
			s.logger.Warn("scheduled reconcile failed", logging.Err(err))
		}
		return
	}
	s.logger.Debug("scheduled reconcile complete")
}

// close stops the poller and the reconcile schedule and waits for both.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.poller.Stop()
	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Debug("session closed")
}

// Manager owns the Store and at most one Session. Connecting an account
// tears down whatever session came before it.
type Manager struct {
	store   *Store
	config  SessionConfig
	metrics *metrics.Collector

	mu      sync.Mutex
	current *Session
}

// NewManager creates a manager over store. m may be nil.
func NewManager(store *Store, config SessionConfig, m *metrics.Collector) *Manager {
	return &Manager{store: store, config: config, metrics: m}
}

// Store returns the shared store.
func (m *Manager) Store() *Store {
	return m.store
}

// Connect makes account the active account. The previous session is
// closed first; if it belonged to another account its view is discarded.
// The new session is loaded and polling before Connect returns.
func (m *Manager) Connect(ctx context.Context, account common.Address, gw ledger.Gateway) (*Session, error) {
	if gw == nil {
		return nil, fmt.Errorf("%w: nil gateway", ErrInvalidInput)
	}
	if gw.Account() != account {
		return nil, fmt.Errorf("%w: gateway signs as %s, not %s", ErrInvalidInput, gw.Account().Hex(), account.Hex())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev := m.current; prev != nil {
		prev.close()
		m.current = nil
		if prev.account != account {
			m.store.Reset()
		}
	}

	s, err := newSession(account, gw, m.store, m.config, m.metrics)
	if err != nil {
		return nil, err
	}
	if err := m.store.Load(ctx, gw, account); err != nil {
		s.close()
		return nil, err
	}
	s.start()
	m.current = s

	logging.Info("account connected",
		logging.Component("session-manager"),
		logging.Account(account.Hex()))
	return s, nil
}

// Current returns the active session.
func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}

// Disconnect closes the active session and discards the view.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	account := m.current.account
	m.current.close()
	m.current = nil
	m.store.Reset()

	logging.Info("account disconnected",
		logging.Component("session-manager"),
		logging.Account(account.Hex()))
}
