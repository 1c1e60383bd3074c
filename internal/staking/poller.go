package staking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/logging"
	"github.com/moltbunker/lockstake/internal/metrics"
	"github.com/moltbunker/lockstake/internal/util"
	"golang.org/x/sync/errgroup"
)

// PollerConfig holds reward polling settings.
type PollerConfig struct {
	Interval       time.Duration
	CallTimeout    time.Duration
	MaxConcurrency int
}

// DefaultPollerConfig polls every 10 seconds.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:       10 * time.Second,
		CallTimeout:    5 * time.Second,
		MaxConcurrency: 8,
	}
}

// Poller refreshes the pending reward of every tracked position of one
// account on a fixed interval. It exits on its own once the account has no
// positions; Start brings it back.
//
// After Stop returns no further reward update is applied.
type Poller struct {
	reader  ledger.Reader
	store   *Store
	account common.Address
	config  PollerConfig
	metrics *metrics.Collector
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	// applyMu is held for reading while an update is applied and for
	// writing while Stop flips stopped.
	applyMu sync.RWMutex
	stopped bool

	polled     chan struct{}
	polledOnce sync.Once
}

// NewPoller creates a poller for account. m may be nil.
func NewPoller(reader ledger.Reader, store *Store, account common.Address, config PollerConfig, m *metrics.Collector) *Poller {
	def := DefaultPollerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}

	return &Poller{
		reader:  reader,
		store:   store,
		account: account,
		config:  config,
		metrics: m,
		polled:  make(chan struct{}),
		logger: logging.With(
			logging.Component("reward-poller"),
			logging.Account(account.Hex()),
		),
	}
}

// Start begins polling with an immediate first tick. It reports whether a
// new loop was started; it is a no-op while running, after Stop, or when
// the account has no positions.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.running {
		return false
	}
	if len(p.store.Indices(p.account)) == 0 {
		return false
	}

	if p.cancel != nil {
		p.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.running = true

	util.SafeGoWithName("reward-poller", func() {
		defer close(done)
		p.run(loopCtx)
	})
	p.logger.Debug("reward poller started", "interval", p.config.Interval)
	return true
}

// Stop cancels polling and waits for the loop and any in-flight tick to
// return. The poller cannot be restarted.
func (p *Poller) Stop() {
	p.applyMu.Lock()
	p.stopped = true
	p.applyMu.Unlock()

	p.mu.Lock()
	p.closed = true
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Polled is closed once the first tick has completed.
func (p *Poller) Polled() <-chan struct{} {
	return p.polled
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		indices, ok := p.nextIndices()
		if !ok {
			p.logger.Debug("no positions left, reward poller exiting")
			return
		}
		p.tick(ctx, indices)
		p.polledOnce.Do(func() { close(p.polled) })

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// nextIndices returns the indices to poll, or ok=false after marking the
// poller idle when there are none. Checking under mu keeps a concurrent
// Start from being lost.
func (p *Poller) nextIndices() ([]uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	indices := p.store.Indices(p.account)
	if len(indices) == 0 {
		p.running = false
		return nil, false
	}
	return indices, true
}

func (p *Poller) tick(ctx context.Context, indices []uint64) {
	start := time.Now()
	p.metrics.RecordPollTick()

	var g errgroup.Group
	g.SetLimit(p.config.MaxConcurrency)
	for _, index := range indices {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.pollOne(ctx, index)
			return nil
		})
	}
	_ = g.Wait()

	p.metrics.RecordPollDuration(time.Since(start))
}

func (p *Poller) pollOne(ctx context.Context, index uint64) {
	callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
	defer cancel()

	reward, err := p.reader.PendingReward(callCtx, p.account, index)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.RecordPollFailure()
		p.logger.Warn("failed to poll pending reward",
			logging.Index(index),
			logging.Err(err))
		return
	}

	p.applyMu.RLock()
	defer p.applyMu.RUnlock()
	if p.stopped || ctx.Err() != nil {
		return
	}
	p.store.ApplyRewardUpdate(p.account, index, reward)
}
