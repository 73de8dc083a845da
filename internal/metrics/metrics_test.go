package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// A single shared instance: prometheus' default registry panics on a
// second registration of the same metric name, so every test in this file
// observes the one New() call instead of constructing its own.
var m = New("synccore_test")

func TestNewPopulatesEveryCollector(t *testing.T) {
	require.NotNil(t, m.PoolOpenConnections)
	require.NotNil(t, m.PoolHealthy)
	require.NotNil(t, m.PoolAcquireSeconds)
	require.NotNil(t, m.SyncRunsTotal)
	require.NotNil(t, m.SyncDuration)
	require.NotNil(t, m.SyncRecordsTotal)
	require.NotNil(t, m.ConflictsTotal)
	require.NotNil(t, m.ConflictConfidence)
	require.NotNil(t, m.ReplicaRebuildsTotal)
	require.NotNil(t, m.ReplicaRepairRetries)
}

func TestSyncRunsTotalIncrementsByLabel(t *testing.T) {
	m.SyncRunsTotal.WithLabelValues("incremental", "success").Inc()
	count := testutil.ToFloat64(m.SyncRunsTotal.WithLabelValues("incremental", "success"))
	require.GreaterOrEqual(t, count, float64(1))
}
