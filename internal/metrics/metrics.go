// ============================================================================
// Unit Transaction Planner - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose Prometheus metrics for the transaction
//          engine: a Counter/Histogram shape registered once at
//          construction, with a StartServer(port) pair to expose them.
//
// Metric Categories:
//
//   1. Transaction Counters (monotonic):
//      - transactions_activated_total: transactions that reached Apply
//      - transactions_rejected_total{kind}: fatal PlannerError by kind
//      - jobs_installed_total: jobs the applier actually installed
//
//   2. Reduction Internals (Counter):
//      - cycles_broken_total: non-mattering victims dropped to break a
//        dependency cycle
//      - unmergeable_drops_total: losing siblings dropped by the
//        unmergeable-conflict policy
//
//   3. Performance (Histogram):
//      - reduction_duration_seconds: wall time of one Reduce call
//
// HTTP Endpoint: /metrics, scraped by Prometheus (StartServer).
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/unitplan/pkg/types"
)

// Collector collects Prometheus metrics for one Planner's lifetime.
type Collector struct {
	transactionsActivated prometheus.Counter
	transactionsRejected  *prometheus.CounterVec
	jobsInstalled         prometheus.Counter

	cyclesBroken      prometheus.Counter
	unmergeableDrops  prometheus.Counter

	reductionDuration prometheus.Histogram
}

// NewCollector builds and registers a fresh metric set. Safe to call more
// than once per process only if each Collector uses a distinct
// prometheus.Registerer; use NewCollectorWith for that case.
func NewCollector() *Collector {
	c, err := NewCollectorWith(prometheus.DefaultRegisterer)
	if err != nil {
		panic(err)
	}
	return c
}

// NewCollectorWith registers against a caller-supplied registerer, so
// tests can use a private prometheus.NewRegistry() instead of fighting
// over the global one.
func NewCollectorWith(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		transactionsActivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unitplan_transactions_activated_total",
			Help: "Total number of transactions that completed Activate successfully.",
		}),
		transactionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unitplan_transactions_rejected_total",
			Help: "Total number of transactions that failed Activate, by error kind.",
		}, []string{"kind"}),
		jobsInstalled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unitplan_jobs_installed_total",
			Help: "Total number of jobs installed into the live job table.",
		}),
		cyclesBroken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unitplan_cycles_broken_total",
			Help: "Total number of ordering-cycle victims dropped by the reducer.",
		}),
		unmergeableDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unitplan_unmergeable_drops_total",
			Help: "Total number of losing siblings dropped by the unmergeable-conflict policy.",
		}),
		reductionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "unitplan_reduction_duration_seconds",
			Help:    "Wall-clock duration of one reducer.Reduce call.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.transactionsActivated,
		c.transactionsRejected,
		c.jobsInstalled,
		c.cyclesBroken,
		c.unmergeableDrops,
		c.reductionDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return c, nil
}

// RecordActivated records a transaction that reached Apply successfully.
func (c *Collector) RecordActivated() {
	c.transactionsActivated.Inc()
}

// RecordRejected records a fatal PlannerError surfaced from Activate.
func (c *Collector) RecordRejected(kind types.ErrorKind) {
	c.transactionsRejected.WithLabelValues(string(kind)).Inc()
}

// RecordJobsInstalled adds n freshly-applied jobs to the running total.
func (c *Collector) RecordJobsInstalled(n int) {
	if n <= 0 {
		return
	}
	c.jobsInstalled.Add(float64(n))
}

// RecordCycleBroken records one non-mattering victim dropped to break a
// dependency cycle.
func (c *Collector) RecordCycleBroken() {
	c.cyclesBroken.Inc()
}

// RecordUnmergeableDrop records one losing sibling dropped by the
// unmergeable-conflict policy.
func (c *Collector) RecordUnmergeableDrop() {
	c.unmergeableDrops.Inc()
}

// TimeReduction returns a func to defer that observes the elapsed time
// since it was obtained into reduction_duration_seconds.
func (c *Collector) TimeReduction() func() {
	start := time.Now()
	return func() {
		c.reductionDuration.Observe(time.Since(start).Seconds())
	}
}

// StartServer starts the Prometheus /metrics HTTP endpoint. Blocks until
// the server exits; callers run it in its own goroutine.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
}
