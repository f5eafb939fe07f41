package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncRunStart("srv")
	ObserveRun("srv", true, 12)
	ObserveRun("srv", false, 3)
	AddOrphanKills(2)
	IncInstall(true)
	SetQueuePending(4)
	IncQueueJob("Completed")
	IncScheduleTick("autorun", "ran")
	IncLogEntry("Error")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	wantNames := map[string]bool{
		"steamkeeper_supervisor_run_starts_total":     false,
		"steamkeeper_supervisor_run_results_total":    false,
		"steamkeeper_supervisor_run_duration_seconds": false,
		"steamkeeper_supervisor_orphan_kills_total":   false,
		"steamkeeper_supervisor_installs_total":       false,
		"steamkeeper_queue_pending":                   false,
		"steamkeeper_queue_jobs_total":                false,
		"steamkeeper_schedule_ticks_total":            false,
		"steamkeeper_logs_entries_total":              false,
	}
	for _, mf := range mfs {
		if _, ok := wantNames[mf.GetName()]; ok {
			wantNames[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for n, ok := range wantNames {
		assert.True(t, ok, "expected to find metric %s", n)
	}
}

func TestHandlerServesDefaultRegistry(t *testing.T) {
	require.NoError(t, Register(prometheus.DefaultRegisterer))
	IncQueueJob("Error")

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(b), "# HELP"))
}
