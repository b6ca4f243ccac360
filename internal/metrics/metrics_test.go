package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/sweeper/internal/retention"
)

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.SweepsTotal)
	assert.NotNil(t, m.PostsDeletedTotal)
	assert.NotNil(t, m.FleetRunsTotal)
	assert.NotNil(t, m.ErrorsTotal)
}

func TestMetrics_RecordSweep(t *testing.T) {
	m := New()
	start := time.Unix(1_700_000_000, 0)
	m.RecordSweep(retention.Outcome{PostsDeleted: 25, Reason: retention.ReasonCap, StartedAt: start, FinishedAt: start.Add(2 * time.Second)})
	m.RecordSweep(retention.Outcome{PostsDeleted: 1, DeleteFailures: 2, Reason: retention.ReasonExhausted})

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `sweeper_sweeps_total{reason="hit-deletion-cap"} 1`)
	assert.Contains(t, body, `sweeper_sweeps_total{reason="exhausted-timeline"} 1`)
	assert.Contains(t, body, "sweeper_posts_deleted_total 26")
	assert.Contains(t, body, "sweeper_delete_failures_total 2")
	assert.Contains(t, body, "sweeper_sweep_duration_seconds_count 1")
}

func TestMetrics_RecordFleetRun(t *testing.T) {
	m := New()
	m.RecordFleetRun(false, time.Unix(1_700_000_000, 0))
	m.RecordFleetRun(true, time.Unix(1_700_000_100, 0))

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `sweeper_fleet_runs_total{result="ok"} 1`)
	assert.Contains(t, body, `sweeper_fleet_runs_total{result="error"} 1`)
	assert.Contains(t, body, "sweeper_last_fleet_run_timestamp_seconds 1.7000001e+09")
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SetActiveAccounts(12)
	m.SetDBSize(8192)
	m.RegisterQueue(func() int { return 3 }, func() int { return 7 })

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "sweeper_accounts_active 12")
	assert.Contains(t, body, "sweeper_db_size_bytes 8192")
	assert.Contains(t, body, "sweeper_dispatch_in_flight 3")
	assert.Contains(t, body, "sweeper_dispatch_queue_depth 7")
}

func TestMetrics_RecordAPIRequestAndError(t *testing.T) {
	m := New()
	m.RecordAPIRequest("POST", "/api/v1/fleet/sweeps", 202)
	m.RecordError("notify", "slack")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `sweeper_api_requests_total{method="POST",route="/api/v1/fleet/sweeps",status="202"} 1`)
	assert.Contains(t, body, `sweeper_errors_total{module="notify",type="slack"} 1`)
}
