package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("einvoice:sync").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("einvoice:sync").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("einvoice:sync", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("einvoice:sync", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("einvoice:sync")))
}

func TestDomainCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddLedgerDiscrepancies(2)
	m.AddLedgerDiscrepancies(0)
	m.AddSyncResults(3, 1, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.discrepancies))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.synced.WithLabelValues("synced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.synced.WithLabelValues("failed")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddLedgerDiscrepancies(1)
	m.AddSyncResults(1, 1, 1)
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("ledger:verify").End(boom), boom)
}
