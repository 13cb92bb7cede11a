// Package metrics exposes Prometheus collectors for the rating engine.
package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Clark-Hu/bp-ratings/internal/ratings"
)

const namespace = "bp_ratings"

var _ ratings.Recorder = (*Collector)(nil)

// Collector implements ratings.Recorder.
type Collector struct {
	Operations      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	SummaryWrites   *prometheus.CounterVec
	PurgedTargets   prometheus.Counter
	LastPurgeTarget prometheus.Gauge
}

// NewCollector creates and registers engine metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		OperationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations in seconds.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		SummaryWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_writes_total",
			Help:      "Summary updates by strategy (blend, recompute, delete).",
		}, []string{"strategy"}),
		PurgedTargets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_targets_total",
			Help:      "Targets whose data was removed because they are no longer valid.",
		}),
		LastPurgeTarget: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_purge_targets",
			Help:      "Number of targets removed by the most recent purge.",
		}),
	}
}

// ObserveOperation implements ratings.Recorder.
func (c *Collector) ObserveOperation(op, outcome string, seconds float64) {
	c.Operations.WithLabelValues(op, outcome).Inc()
	c.OperationTime.WithLabelValues(op).Observe(seconds)
}

// SummaryWrite implements ratings.Recorder.
func (c *Collector) SummaryWrite(strategy string) {
	c.SummaryWrites.WithLabelValues(strategy).Inc()
}

// Purged implements ratings.Recorder.
func (c *Collector) Purged(targets int) {
	c.PurgedTargets.Add(float64(targets))
	c.LastPurgeTarget.Set(float64(targets))
}

// RegisterPoolStats exposes connection pool gauges read from stats at scrape
// time. A nil stat reports zero.
func RegisterPoolStats(reg prometheus.Registerer, stats func() *pgxpool.Stat) {
	factory := promauto.With(reg)
	gauge := func(name, help string, value func(*pgxpool.Stat) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 {
			st := stats()
			if st == nil {
				return 0
			}
			return value(st)
		})
	}
	gauge("total_conns", "Connections currently open.", func(st *pgxpool.Stat) float64 { return float64(st.TotalConns()) })
	gauge("acquired_conns", "Connections checked out of the pool.", func(st *pgxpool.Stat) float64 { return float64(st.AcquiredConns()) })
	gauge("idle_conns", "Idle connections in the pool.", func(st *pgxpool.Stat) float64 { return float64(st.IdleConns()) })
	gauge("max_conns", "Configured pool size.", func(st *pgxpool.Stat) float64 { return float64(st.MaxConns()) })
}
