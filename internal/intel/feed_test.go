package intel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secops-platform/secops-core/internal/model"
)

func TestParseJSONFeed(t *testing.T) {
	store := NewStore(testLogger())
	p := NewPoller(store, nil, time.Minute, time.Hour, testLogger())
	src := FeedSource{Name: "vendor-a", Format: FormatJSON, Confidence: 0.6}

	t.Run("array payload", func(t *testing.T) {
		body := []byte(`[
			{"value": "1.2.3.4", "confidence": 0.9, "severity": "critical", "threat_actor": "APT-29"},
			{"indicator": "evil.example", "type": "domain"},
			{"severity": "high"}
		]`)
		iocs := p.parse(src, body)
		require.Len(t, iocs, 2)

		assert.Equal(t, "1.2.3.4", iocs[0].Value)
		assert.Equal(t, IOCTypeIP, iocs[0].Type)
		assert.Equal(t, 0.9, iocs[0].Confidence)
		assert.Equal(t, model.SeverityCritical, iocs[0].Severity)
		assert.Equal(t, "APT-29", iocs[0].ThreatActor)

		// Feed default confidence, medium severity fallback.
		assert.Equal(t, "evil.example", iocs[1].Value)
		assert.Equal(t, 0.6, iocs[1].Confidence)
		assert.Equal(t, model.SeverityMedium, iocs[1].Severity)
	})

	t.Run("envelope payload", func(t *testing.T) {
		body := []byte(`{"indicators": [{"value": "bad.example"}]}`)
		iocs := p.parse(src, body)
		require.Len(t, iocs, 1)
		assert.Equal(t, "bad.example", iocs[0].Value)
	})

	t.Run("garbage payload counted, not fatal", func(t *testing.T) {
		before := p.Stats().ParseErrors
		iocs := p.parse(src, []byte(`not json at all`))
		assert.Empty(t, iocs)
		assert.Greater(t, p.Stats().ParseErrors, before)
	})
}

func TestParseCSVFeed(t *testing.T) {
	p := NewPoller(NewStore(testLogger()), nil, time.Minute, time.Hour, testLogger())
	src := FeedSource{Name: "vendor-csv", Format: FormatCSV}

	body := "# comment line\n" +
		"1.2.3.4,ip,0.8,high\n" +
		"evil.example\n" +
		"\n" +
		"d41d8cd98f00b204e9800998ecf8427e,,not-a-number,critical\n"

	iocs := p.parse(src, []byte(body))
	require.Len(t, iocs, 3)

	assert.Equal(t, IOCTypeIP, iocs[0].Type)
	assert.Equal(t, 0.8, iocs[0].Confidence)
	assert.Equal(t, model.SeverityHigh, iocs[0].Severity)

	assert.Equal(t, IOCTypeDomain, iocs[1].Type)
	assert.Equal(t, 0.5, iocs[1].Confidence) // hard default

	assert.Equal(t, IOCTypeHash, iocs[2].Type)
	assert.Equal(t, model.SeverityCritical, iocs[2].Severity)
}

func TestParseTextFeed(t *testing.T) {
	p := NewPoller(NewStore(testLogger()), nil, time.Minute, time.Hour, testLogger())
	src := FeedSource{Name: "blocklist", Format: FormatText, Confidence: 0.4}

	iocs := p.parse(src, []byte("# header\n10.0.0.1\nphish.example\n"))
	require.Len(t, iocs, 2)
	assert.Equal(t, IOCTypeIP, iocs[0].Type)
	assert.Equal(t, 0.4, iocs[0].Confidence)
	assert.Equal(t, "blocklist", iocs[0].Source)
}

// TestPollOnceFailureIsSkipped verifies that an unreachable feed logs
// and skips the cycle without affecting the store, and that a healthy
// feed on the same poller still merges.
func TestPollOnceFailureIsSkipped(t *testing.T) {
	store := NewStore(testLogger())
	p := NewPoller(store, nil, time.Minute, time.Hour, testLogger())

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"value": "1.2.3.4", "confidence": 0.7}]`))
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	ctx := context.Background()
	p.pollOnce(ctx, FeedSource{Name: "broken", URL: broken.URL, Format: FormatJSON})
	p.pollOnce(ctx, FeedSource{Name: "healthy", URL: healthy.URL, Format: FormatJSON})

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Fetches)
	assert.Equal(t, uint64(1), stats.FetchErrors)
	assert.Equal(t, uint64(1), stats.Merged)

	_, ok := store.Lookup("1.2.3.4")
	assert.True(t, ok)
}

// TestFetchAuthHeaders checks bearer and API-key auth reach the wire.
func TestFetchAuthHeaders(t *testing.T) {
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-API-Key")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := NewPoller(NewStore(testLogger()), nil, time.Minute, time.Hour, testLogger())

	_, err := p.fetch(context.Background(), FeedSource{
		Name: "a", URL: srv.URL, AuthType: "bearer", AuthToken: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)

	_, err = p.fetch(context.Background(), FeedSource{
		Name: "b", URL: srv.URL, AuthType: "api_key", AuthToken: "key123",
	})
	require.NoError(t, err)
	assert.Equal(t, "key123", gotKey)
}
