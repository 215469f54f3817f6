package siem

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error"})
}

func TestToEvent(t *testing.T) {
	detected := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	alert := Alert{
		ID:         "alert-7",
		Title:      "Beaconing to known C2",
		Severity:   "high",
		Category:   "network_intrusion",
		Indicators: []string{"203.0.113.9"},
		Fields:     map[string]string{"rule": "c2-beacon", "src_host": "ws-042"},
		DetectedAt: detected,
	}

	event := ToEvent(alert, "splunk-prod")

	assert.Equal(t, "network_intrusion", event.Type)
	assert.Equal(t, "splunk-prod", event.Source)
	assert.Equal(t, model.SeverityHigh, event.Severity)
	assert.Equal(t, detected, event.Timestamp)
	assert.Equal(t, []string{"203.0.113.9"}, event.Indicators)
	assert.Equal(t, "alert-7", event.Context["alert_id"])
	assert.Equal(t, "Beaconing to known C2", event.Context["alert_title"])
	assert.Equal(t, "c2-beacon", event.Context["rule"])
	assert.Equal(t, "ws-042", event.Context["src_host"])
}

// TestToEventDefaults tests the fallbacks for sparse upstream alerts.
func TestToEventDefaults(t *testing.T) {
	event := ToEvent(Alert{ID: "a1", Severity: "P1"}, "sentinel")

	assert.Equal(t, "siem_alert", event.Type)
	assert.Equal(t, model.SeverityMedium, event.Severity)
	assert.False(t, event.Timestamp.IsZero())
	assert.Empty(t, event.Indicators)
}

// TestHTTPAlertSourceFetch tests fetching against a live test server:
// bearer auth, since watermark, and both payload shapes.
func TestHTTPAlertSourceFetch(t *testing.T) {
	since := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	alerts := []Alert{{ID: "a1", Severity: "high"}, {ID: "a2", Severity: "low"}}

	t.Run("array payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
			assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("since"))
			require.NoError(t, json.NewEncoder(w).Encode(alerts))
		}))
		defer server.Close()

		source := NewHTTPAlertSource(SourceConfig{
			Type: SIEMSplunk, Name: "splunk-prod", Endpoint: server.URL, Token: "sekrit",
		})
		got, err := source.FetchAlerts(context.Background(), since)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a1", got[0].ID)
	})

	t.Run("envelope payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"alerts": alerts}))
		}))
		defer server.Close()

		source := NewHTTPAlertSource(SourceConfig{Name: "elastic", Endpoint: server.URL})
		got, err := source.FetchAlerts(context.Background(), since)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("upstream error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		source := NewHTTPAlertSource(SourceConfig{Name: "sentinel", Endpoint: server.URL})
		_, err := source.FetchAlerts(context.Background(), since)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status 503")
	})

	t.Run("malformed payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>login required</html>"))
		}))
		defer server.Close()

		source := NewHTTPAlertSource(SourceConfig{Name: "sentinel", Endpoint: server.URL})
		_, err := source.FetchAlerts(context.Background(), since)
		require.Error(t, err)
	})
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []*model.SecurityEvent
}

func (s *sinkRecorder) SubmitEvent(event *model.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type scriptedSource struct {
	name string
	mu   sync.Mutex
	errs int
	out  []Alert
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) FetchAlerts(context.Context, time.Time) ([]Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs > 0 {
		s.errs--
		return nil, errors.New("connection refused")
	}
	out := s.out
	s.out = nil
	return out, nil
}

// TestPollerIsolatesSourceFailures tests that a failing source never
// stops alerts flowing from the healthy one.
func TestPollerIsolatesSourceFailures(t *testing.T) {
	sink := &sinkRecorder{}
	poller := NewPoller(sink, testLogger())

	healthy := &scriptedSource{name: "splunk", out: []Alert{{ID: "a1", Severity: "high"}}}
	broken := &scriptedSource{name: "sentinel", errs: 1000}
	poller.AddSource(healthy, 5*time.Millisecond)
	poller.AddSource(broken, 5*time.Millisecond)

	poller.Start(context.Background())
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return sink.count() == 1 && poller.Stats()["errors"] >= 1
	}, 3*time.Second, 5*time.Millisecond, "healthy source never delivered")

	stats := poller.Stats()
	assert.Equal(t, uint64(1), stats["alerts_fetched"])
	assert.Equal(t, uint64(1), stats["events_submitted"])

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "splunk", sink.events[0].Source)
}

// TestLoadSourceConfigs tests the YAML source file loader.
func TestLoadSourceConfigs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - type: splunk
    name: corp-splunk
    enabled: true
    endpoint: https://splunk.internal/api/alerts
    token: secret
  - type: sentinel
    name: cloud-sentinel
    enabled: false
    endpoint: https://sentinel.internal/alerts
`), 0o600))

	sources, err := LoadSourceConfigs(path)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, SIEMSplunk, sources[0].Type)
	assert.Equal(t, "corp-splunk", sources[0].Name)
	assert.True(t, sources[0].Enabled)
	assert.False(t, sources[1].Enabled)

	_, err = LoadSourceConfigs(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
