package jobmetrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	boom := errors.New("boom")

	require.NoError(t, m.Track("stock_snapshot_refresh").End(nil))
	require.ErrorIs(t, m.Track("stock_snapshot_refresh").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock_snapshot_refresh", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock_snapshot_refresh", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("stock_snapshot_refresh")))
}

func TestStockCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRegenBatch(true)
	m.ObserveRegenBatch(false)
	m.ObserveRegenBatch(false)
	m.AddIngestRows("line", "repaired", 2)
	m.AddIngestRows("line", "failed", 0)
	m.ObserveRefresh(42, time.Unix(1700000000, 0))

	expected := `
# HELP odyssey_stock_regen_batches_total Regen batch resolutions during line ingestion grouped by outcome.
# TYPE odyssey_stock_regen_batches_total counter
odyssey_stock_regen_batches_total{outcome="created"} 1
odyssey_stock_regen_batches_total{outcome="reused"} 2
# HELP odyssey_stock_ingest_rows_total Ledger rows processed by ingestion grouped by kind and status.
# TYPE odyssey_stock_ingest_rows_total counter
odyssey_stock_ingest_rows_total{kind="line",status="repaired"} 2
# HELP odyssey_stock_snapshot_rows Row count of the stock snapshot after the last refresh.
# TYPE odyssey_stock_snapshot_rows gauge
odyssey_stock_snapshot_rows 42
# HELP odyssey_stock_snapshot_last_refresh_timestamp_seconds Unix time the stock snapshot was last refreshed.
# TYPE odyssey_stock_snapshot_last_refresh_timestamp_seconds gauge
odyssey_stock_snapshot_last_refresh_timestamp_seconds 1.7e+09
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"odyssey_stock_regen_batches_total",
		"odyssey_stock_ingest_rows_total",
		"odyssey_stock_snapshot_rows",
		"odyssey_stock_snapshot_last_refresh_timestamp_seconds",
	))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveRegenBatch(true)
		m.AddIngestRows("movement", "written", 1)
		m.ObserveRefresh(1, time.Now())
		_ = m.Track("noop").End(nil)
	})
}
