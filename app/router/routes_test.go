package router

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStatus struct {
	running bool
	report  *businessflow.RebuildReport
}

func (s staticStatus) Running() bool                            { return s.running }
func (s staticStatus) LastReport() *businessflow.RebuildReport { return s.report }

func TestHealthCheck(t *testing.T) {
	report := &businessflow.RebuildReport{
		RunID: "run-1",
		Outcomes: []businessflow.SegmentOutcome{
			{SegmentID: 1, Status: businessflow.OutcomeRebuilt, Added: 3},
			{SegmentID: 2, Status: businessflow.OutcomeFailed},
		},
	}
	r := NewOpsRouter(staticStatus{running: true, report: report}, nil)
	r.SetupRoutes()

	resp, err := r.GetApp().Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body struct {
		Status         string  `json:"status"`
		RebuildRunning bool    `json:"rebuild_running"`
		LastRun        lastRun `json:"last_run"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.RebuildRunning)
	assert.Equal(t, "run-1", body.LastRun.RunID)
	assert.Equal(t, 1, body.LastRun.Failed)
	assert.Equal(t, int64(3), body.LastRun.Changed)
}

func TestMetricsEndpoint(t *testing.T) {
	r := NewOpsRouter(nil, nil)
	r.SetupRoutes()

	_, err := r.GetApp().Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)

	resp, err := r.GetApp().Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "segment_ops_http_requests_total"))
}
