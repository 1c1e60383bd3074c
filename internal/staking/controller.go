package staking

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/metrics"
)

// ControllerOption configures a StakeController or ActionGuard.
type ControllerOption func(*controllerBase)

// WithLiveness adds a check run before the first ledger call and after
// every ledger response. When it reports false the operation stops with
// ErrAccountChanged and nothing is applied to the store.
func WithLiveness(alive func(account common.Address) bool) ControllerOption {
	return func(c *controllerBase) { c.alive = alive }
}

// WithControllerMetrics records submissions and outcomes on m.
func WithControllerMetrics(m *metrics.Collector) ControllerOption {
	return func(c *controllerBase) { c.metrics = m }
}

type controllerBase struct {
	gw      ledger.Gateway
	store   *Store
	metrics *metrics.Collector
	alive   func(common.Address) bool
	logger  *slog.Logger
}

func newControllerBase(gw ledger.Gateway, store *Store, logger *slog.Logger, opts []ControllerOption) controllerBase {
	c := controllerBase{gw: gw, store: store, logger: logger}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// live reports whether account still owns both the gateway and the store.
func (c *controllerBase) live(account common.Address) bool {
	if c.gw.Account() != account {
		return false
	}
	if current, ok := c.store.Current(); !ok || current != account {
		return false
	}
	return c.alive == nil || c.alive(account)
}

func (c *controllerBase) reject(op string, err error) error {
	c.metrics.RecordRejection(op, rejectionReason(err))
	return err
}

func (c *controllerBase) outcome(op string, res *ledger.TxResult) {
	c.metrics.RecordTxOutcome(op, res.Status.String())
}

// txNotConfirmed describes a write that was sent but did not confirm.
func txNotConfirmed(res *ledger.TxResult) error {
	return fmt.Errorf("%w: tx %s %s", ErrTxFailed, res.Hash.Hex(), res.Status)
}

// inflight is a set of keys with an operation in progress.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: make(map[string]struct{})}
}

// acquire claims key. ok is false if it is already held.
func (f *inflight) acquire(key string) (release func(), ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, busy := f.keys[key]; busy {
		return nil, false
	}
	f.keys[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.keys, key)
			f.mu.Unlock()
		})
	}, true
}
