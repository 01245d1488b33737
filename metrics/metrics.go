// Package metrics exports what the migrator does as prometheus metrics. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "cassmig"

type Collector struct {
	MigrationsApplied *prometheus.CounterVec
	MigrationsFailed  *prometheus.CounterVec
	MigrationDuration *prometheus.HistogramVec
	LockWait          *prometheus.HistogramVec
	Phase             *prometheus.GaugeVec

	mu     sync.Mutex
	phases map[string]string
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		MigrationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "migrations_applied_total",
			Help:      "Total number of migrations applied successfully",
		}, []string{"keyspace", "type"}),

		MigrationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "migrations_failed_total",
			Help:      "Total number of migrations that failed",
		}, []string{"keyspace", "type"}),

		MigrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "migration_duration_seconds",
			Help:      "Execution time of single migrations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"keyspace", "type"}),

		LockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the migration lock in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"keyspace"}),

		Phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "phase",
			Help:      "Current phase of the migrator, 1 for the active phase",
		}, []string{"keyspace", "phase"}),

		phases: make(map[string]string),
	}

	if reg != nil {
		reg.MustRegister(
			c.MigrationsApplied,
			c.MigrationsFailed,
			c.MigrationDuration,
			c.LockWait,
			c.Phase,
		)
	}

	return c
}

func (c *Collector) ObserveApplied(keyspace, typ string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.MigrationsApplied.WithLabelValues(keyspace, typ).Inc()
	c.MigrationDuration.WithLabelValues(keyspace, typ).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveFailed(keyspace, typ string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.MigrationsFailed.WithLabelValues(keyspace, typ).Inc()
	c.MigrationDuration.WithLabelValues(keyspace, typ).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveLockWait(keyspace string, waited time.Duration) {
	if c == nil {
		return
	}
	c.LockWait.WithLabelValues(keyspace).Observe(waited.Seconds())
}

// SetPhase marks phase as the active one for keyspace.
func (c *Collector) SetPhase(keyspace, phase string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if previous, ok := c.phases[keyspace]; ok && previous != phase {
		c.Phase.WithLabelValues(keyspace, previous).Set(0)
	}
	c.phases[keyspace] = phase
	c.Phase.WithLabelValues(keyspace, phase).Set(1)
}
