// Package metrics records migration and index reconciliation activity.
// The registry and the migration runner report through a Collector; the
// prometheus implementation is what the CLI wires in.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives operational events. Implementations must be safe for
// concurrent use.
type Collector interface {
	// ObserveMigration is called once per migration node run.
	ObserveMigration(name, direction string, duration time.Duration, err error)
	// ObserveIndexes is called after each index reconciliation.
	ObserveIndexes(collection string, dropped, created int)
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveMigration(string, string, time.Duration, error) {}
func (Noop) ObserveIndexes(string, int, int)                       {}

// OrNoop returns c, or Noop when c is nil.
func OrNoop(c Collector) Collector {
	if c == nil {
		return Noop{}
	}
	return c
}

// Prometheus exports the events as prometheus metrics.
type Prometheus struct {
	migrations       *prometheus.CounterVec
	migrationSeconds *prometheus.HistogramVec
	indexChanges     *prometheus.CounterVec
}

// NewPrometheus creates the metrics and registers them with reg. A nil
// reg uses the default registerer.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syndrodm",
			Name:      "migrations_total",
			Help:      "Migration nodes run, by direction and outcome.",
		}, []string{"direction", "result"}),
		migrationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "syndrodm",
			Name:      "migration_duration_seconds",
			Help:      "Wall time of one migration node including its transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		indexChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syndrodm",
			Name:      "index_changes_total",
			Help:      "Indexes dropped or created while reconciling collections.",
		}, []string{"collection", "action"}),
	}
	var err error
	if p.migrations, err = register(reg, p.migrations); err != nil {
		return nil, err
	}
	if p.migrationSeconds, err = register(reg, p.migrationSeconds); err != nil {
		return nil, err
	}
	if p.indexChanges, err = register(reg, p.indexChanges); err != nil {
		return nil, err
	}
	return p, nil
}

// register adds c to reg. When an equal collector is already registered
// that one is returned, so a second NewPrometheus shares the metrics.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("failed to register metrics: %w", err)
}

func (p *Prometheus) ObserveMigration(name, direction string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	p.migrations.WithLabelValues(direction, result).Inc()
	p.migrationSeconds.WithLabelValues(direction).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveIndexes(collection string, dropped, created int) {
	if dropped > 0 {
		p.indexChanges.WithLabelValues(collection, "drop").Add(float64(dropped))
	}
	if created > 0 {
		p.indexChanges.WithLabelValues(collection, "create").Add(float64(created))
	}
}

// WriteTextfile writes everything gathered by g to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
