package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secops-platform/secops-core/internal/intel"
	"github.com/secops-platform/secops-core/internal/metrics"
	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/internal/playbook"
	"github.com/secops-platform/secops-core/internal/repository"
	"github.com/secops-platform/secops-core/internal/response"
	"github.com/secops-platform/secops-core/internal/soar"
	"github.com/secops-platform/secops-core/internal/zerotrust"
	"github.com/secops-platform/secops-core/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error"})
}

type instantActions struct{}

func (instantActions) Execute(ctx context.Context, action string, params map[string]string) (map[string]interface{}, error) {
	return map[string]interface{}{"status": "ok"}, nil
}

type fakeHealth struct{ err error }

func (h fakeHealth) Ping(context.Context) error { return h.err }

// newTestServer stands up the full API over in-process engines and a
// memory store.
func newTestServer(t *testing.T) (*Server, *intel.Store, repository.ReportStore) {
	t.Helper()
	log := testLogger()

	pbStore := playbook.NewStore(log)
	require.NoError(t, pbStore.Add(&playbook.Playbook{
		ID: "contain-exfil", Name: "Contain exfiltration", Enabled: true, Priority: 1,
		Triggers: []playbook.Trigger{{Type: playbook.TriggerEventType, Value: "data_exfiltration"}},
		Steps: []playbook.StepDef{
			{ID: "contain", Name: "Contain", Type: playbook.StepContainment, Automated: true, Action: "contain"},
		},
	}))

	executor := playbook.NewExecutor(instantActions{}, time.Second, log)
	soarEngine := soar.NewEngine(
		soar.Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4},
		nil, nil, pbStore, executor, nil, nil, log,
	)
	soarEngine.Start(context.Background())
	t.Cleanup(soarEngine.Stop)

	ztEngine := zerotrust.NewEngine(zerotrust.Config{}, nil, nil, nil, log)

	intelStore := intel.NewStore(log)
	memStore := repository.NewMemoryStore()

	srv := New(DefaultConfig(), soarEngine, ztEngine, intelStore, memStore, metrics.New(), log)
	return srv, intelStore, memStore
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	return rec
}

// TestHealthAndReady tests the probes, including a failing backing store.
func TestHealthAndReady(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	rec = doJSON(t, srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.AddHealthCheck(fakeHealth{err: errors.New("connection refused")})
	rec = doJSON(t, srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

// TestSubmitEvent tests event intake: accepted, malformed body, and
// invalid severity.
func TestSubmitEvent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	event := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityCritical)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/events", event)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, event.ID, accepted["event_id"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	srv.router().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	bad := model.NewSecurityEvent("data_exfiltration", "edr", model.Severity("catastrophic"))
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/events", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestExecutionEndpoints tests listing and fetching executions created by
// a submitted event.
func TestExecutionEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	event := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityCritical)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/events", event)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var execID string
	require.Eventually(t, func() bool {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/executions", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var listing struct {
			Executions []*playbook.Execution `json:"executions"`
			Count      int                   `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil || listing.Count == 0 {
			return false
		}
		execID = listing.Executions[0].ID
		return listing.Executions[0].Status == playbook.ExecutionCompleted
	}, 3*time.Second, 5*time.Millisecond, "execution never completed")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/executions/"+execID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var exec playbook.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	assert.Equal(t, "contain-exfil", exec.PlaybookID)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/executions/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/executions/no-such-id/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestEvaluateAccess tests the access decision endpoint.
func TestEvaluateAccess(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := &zerotrust.AccessRequest{
		UserID:    "alice",
		DeviceID:  "laptop-1",
		Resource:  "hr-portal",
		Action:    "read",
		Timestamp: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Context: zerotrust.RequestContext{
			SourceIP:        "10.20.0.4",
			MFACompleted:    true,
			VPNActive:       true,
			DeviceTrusted:   true,
			LocationTrusted: true,
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/access/evaluate", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision zerotrust.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, "allow", decision.Decision)
	assert.Equal(t, zerotrust.ReasonNoPoliciesMatched, decision.Reason)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/access/evaluate", &zerotrust.AccessRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestIntelEndpoints tests indicator listing, filtering and lookup.
func TestIntelEndpoints(t *testing.T) {
	srv, intelStore, _ := newTestServer(t)

	now := time.Now()
	intelStore.Upsert(&intel.IOC{
		Value: "198.51.100.7", Type: intel.IOCTypeIP, Confidence: 0.9,
		Severity: model.SeverityHigh, Source: "abuse-ch", FirstSeen: now, LastSeen: now,
	})
	intelStore.Upsert(&intel.IOC{
		Value: "evil.example.com", Type: intel.IOCTypeDomain, Confidence: 0.7,
		Severity: model.SeverityMedium, Source: "abuse-ch", FirstSeen: now, LastSeen: now,
	})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/intel/iocs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Indicators []*intel.IOC `json:"indicators"`
		Count      int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 2, listing.Count)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/intel/iocs?type=ip", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "198.51.100.7", listing.Indicators[0].Value)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/intel/iocs/evil.example.com", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/intel/iocs/203.0.113.9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestReportEndpoint tests report retrieval from the backing store.
func TestReportEndpoint(t *testing.T) {
	srv, _, reports := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/executions/exec-7/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, reports.SaveReport(context.Background(), &response.Report{
		ExecutionID: "exec-7", PlaybookID: "contain-exfil", Status: "completed",
	}))
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/executions/exec-7/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"contain-exfil"`)
}

// TestMetricsEndpoint tests that prometheus exposition is mounted.
func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	doJSON(t, srv, http.MethodGet, "/health", nil)

	rec := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "secops_http_requests_total")
}

// TestSOARMetricsEndpoint tests the engine aggregate view.
func TestSOARMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/soar/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue_depth")
}
