package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the staking client's Prometheus metrics. Metrics are
// registered in a dedicated registry so they do not interfere with the
// default global registry. All methods are safe on a nil *Collector, which
// lets components run without metrics wired.
type Collector struct {
	registry *prometheus.Registry

	pollTicks        prometheus.Counter
	pollFailures     prometheus.Counter
	pollDuration     prometheus.Histogram
	rewardsApplied   prometheus.Counter
	rewardsDropped   prometheus.Counter
	trackedPositions prometheus.Gauge

	txSubmitted *prometheus.CounterVec
	txOutcomes  *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	loads       *prometheus.CounterVec
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		pollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lockstake",
			Name:      "reward_poll_ticks_total",
			Help:      "Number of reward polling rounds started.",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lockstake",
			Name:      "reward_poll_failures_total",
			Help:      "Per-position pendingReward reads that failed.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lockstake",
			Name:      "reward_poll_duration_seconds",
			Help:      "Wall time of a full reward polling round.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		rewardsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lockstake",
			Name:      "reward_updates_applied_total",
			Help:      "Reward values written into the position store.",
		}),
		rewardsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lockstake",
			Name:      "reward_updates_dropped_total",
			Help:      "Reward values discarded because the position or account was gone.",
		}),
		trackedPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lockstake",
			Name:      "tracked_positions",
			Help:      "Positions in the current account view.",
		}),
		txSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lockstake",
			Name:      "tx_submitted_total",
			Help:      "Ledger write transactions submitted, by operation.",
		}, []string{"op"}),
		txOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lockstake",
			Name:      "tx_outcomes_total",
			Help:      "Ledger write outcomes, by operation and status.",
		}, []string{"op", "status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lockstake",
			Name:      "operations_rejected_total",
			Help:      "Commands refused locally before reaching the ledger, by reason.",
		}, []string{"op", "reason"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lockstake",
			Name:      "position_loads_total",
			Help:      "Account view loads, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.pollTicks,
		c.pollFailures,
		c.pollDuration,
		c.rewardsApplied,
		c.rewardsDropped,
		c.trackedPositions,
		c.txSubmitted,
		c.txOutcomes,
		c.rejections,
		c.loads,
	)

	return c
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordPollTick records the start of a reward polling round.
func (c *Collector) RecordPollTick() {
	if c == nil {
		return
	}
	c.pollTicks.Inc()
}

// RecordPollDuration records the wall time of a finished polling round.
func (c *Collector) RecordPollDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.pollDuration.Observe(d.Seconds())
}

// RecordPollFailure records one failed pendingReward read.
func (c *Collector) RecordPollFailure() {
	if c == nil {
		return
	}
	c.pollFailures.Inc()
}

// RecordRewardUpdate records whether a polled reward was applied or dropped.
func (c *Collector) RecordRewardUpdate(applied bool) {
	if c == nil {
		return
	}
	if applied {
		c.rewardsApplied.Inc()
	} else {
		c.rewardsDropped.Inc()
	}
}

// SetTrackedPositions sets the number of positions in the current view.
func (c *Collector) SetTrackedPositions(n int) {
	if c == nil {
		return
	}
	c.trackedPositions.Set(float64(n))
}

// RecordTxSubmitted records a write handed to the ledger.
func (c *Collector) RecordTxSubmitted(op string) {
	if c == nil {
		return
	}
	c.txSubmitted.WithLabelValues(op).Inc()
}

// RecordTxOutcome records the final status of a write.
func (c *Collector) RecordTxOutcome(op, status string) {
	if c == nil {
		return
	}
	c.txOutcomes.WithLabelValues(op, status).Inc()
}

// RecordRejection records a command refused before any write was submitted.
func (c *Collector) RecordRejection(op, reason string) {
	if c == nil {
		return
	}
	c.rejections.WithLabelValues(op, reason).Inc()
}

// RecordLoad records an account view load result ("ok" or "error").
func (c *Collector) RecordLoad(result string) {
	if c == nil {
		return
	}
	c.loads.WithLabelValues(result).Inc()
}
