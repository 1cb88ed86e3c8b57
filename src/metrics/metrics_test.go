package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCountsMigrations(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)

	p.ObserveMigration("0001_a", "forward", 10*time.Millisecond, nil)
	p.ObserveMigration("0002_b", "forward", 20*time.Millisecond, nil)
	p.ObserveMigration("0002_b", "backward", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.migrations.WithLabelValues("forward", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.migrations.WithLabelValues("backward", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.migrationSeconds))
}

func TestPrometheusCountsIndexChanges(t *testing.T) {
	p, err := NewPrometheus(prometheus.NewRegistry())
	require.NoError(t, err)

	p.ObserveIndexes("books", 1, 2)
	p.ObserveIndexes("books", 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.indexChanges.WithLabelValues("books", "drop")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.indexChanges.WithLabelValues("books", "create")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.indexChanges))
}

func TestNewPrometheusSharesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheus(reg)
	require.NoError(t, err)
	second, err := NewPrometheus(reg)
	require.NoError(t, err)

	second.ObserveIndexes("authors", 0, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.indexChanges.WithLabelValues("authors", "create")))
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)
	p.ObserveMigration("0001_a", "forward", time.Millisecond, nil)

	path := filepath.Join(t.TempDir(), "syndrodm.prom")
	require.NoError(t, WriteTextfile(path, reg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `syndrodm_migrations_total{direction="forward",result="ok"} 1`)
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, Noop{}, OrNoop(nil))
	p := &Prometheus{}
	assert.Same(t, p, OrNoop(p))
}
