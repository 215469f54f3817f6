package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/secops-platform/secops-core/internal/model"
	apperrors "github.com/secops-platform/secops-core/pkg/errors"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// FeedFormat selects the parser applied to a feed payload.
type FeedFormat string

const (
	FormatJSON FeedFormat = "json" // array of IOC objects
	FormatCSV  FeedFormat = "csv"  // value,type,confidence,severity per line
	FormatText FeedFormat = "text" // one indicator value per line
)

// FeedSource describes one threat intelligence feed endpoint.
type FeedSource struct {
	Name         string        `yaml:"name"`
	URL          string        `yaml:"url"`
	Format       FeedFormat    `yaml:"format"`
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	AuthType     string        `yaml:"auth_type"` // "", "bearer", "api_key"
	AuthToken    string        `yaml:"auth_token"`
	AuthHeader   string        `yaml:"auth_header"`
	Confidence   float64       `yaml:"confidence"` // default for feeds without per-record confidence
}

type feedFile struct {
	Feeds []FeedSource `yaml:"feeds"`
}

// LoadFeedSources reads feed definitions from a YAML file.
func LoadFeedSources(path string) ([]FeedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed config: %w", err)
	}
	var file feedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse feed config: %w", err)
	}
	return file.Feeds, nil
}

// PollerStats carries cumulative poller counters.
type PollerStats struct {
	Fetches     uint64 `json:"fetches"`
	FetchErrors uint64 `json:"fetch_errors"`
	ParseErrors uint64 `json:"parse_errors"`
	Merged      uint64 `json:"merged"`
}

// Poller polls configured feeds on their own intervals and merges parsed
// indicators into the store. Fetch and parse failures are logged and
// skipped; they never stop a feed's polling loop.
type Poller struct {
	store      *Store
	sources    []FeedSource
	httpClient *http.Client
	logger     *logger.Logger

	defaultInterval time.Duration
	retention       time.Duration

	fetches     atomic.Uint64
	fetchErrors atomic.Uint64
	parseErrors atomic.Uint64
	merged      atomic.Uint64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPoller creates a feed poller over the given sources.
func NewPoller(store *Store, sources []FeedSource, defaultInterval, retention time.Duration, log *logger.Logger) *Poller {
	return &Poller{
		store:           store,
		sources:         sources,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          log.WithComponent("feed_poller"),
		defaultInterval: defaultInterval,
		retention:       retention,
	}
}

// Start launches one polling goroutine per enabled feed plus the expiry
// sweep. It returns immediately.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	started := 0
	for i := range p.sources {
		src := p.sources[i]
		if !src.Enabled {
			continue
		}
		p.wg.Add(1)
		go p.pollLoop(ctx, src)
		started++
	}

	p.wg.Add(1)
	go p.expireLoop(ctx)

	p.logger.Info("feed poller started", "feeds", started)
}

// Stop halts all polling loops and waits for them to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Stats returns a snapshot of poller counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Fetches:     p.fetches.Load(),
		FetchErrors: p.fetchErrors.Load(),
		ParseErrors: p.parseErrors.Load(),
		Merged:      p.merged.Load(),
	}
}

func (p *Poller) pollLoop(ctx context.Context, src FeedSource) {
	defer p.wg.Done()

	interval := src.PollInterval
	if interval <= 0 {
		interval = p.defaultInterval
	}

	// Fetch once at startup, then on the interval.
	p.pollOnce(ctx, src)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, src)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, src FeedSource) {
	p.fetches.Add(1)

	body, err := p.fetch(ctx, src)
	if err != nil {
		p.fetchErrors.Add(1)
		p.logger.Warn("feed fetch failed, skipping cycle",
			"feed", src.Name, "error", apperrors.FeedFetch(src.Name, err).Error())
		return
	}

	iocs := p.parse(src, body)
	mergedCount := 0
	for _, ioc := range iocs {
		if p.store.Upsert(ioc) {
			mergedCount++
		}
	}
	p.merged.Add(uint64(mergedCount))

	p.logger.Debug("feed cycle complete",
		"feed", src.Name, "parsed", len(iocs), "merged", mergedCount)
}

func (p *Poller) fetch(ctx context.Context, src FeedSource) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}

	switch src.AuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+src.AuthToken)
	case "api_key":
		header := src.AuthHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, src.AuthToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

// parse converts a feed payload into IOC records. Malformed records are
// dropped individually; one bad record never discards the batch.
func (p *Poller) parse(src FeedSource, body []byte) []*IOC {
	now := time.Now().UTC()

	switch src.Format {
	case FormatCSV:
		return p.parseCSV(src, string(body), now)
	case FormatText:
		return p.parseText(src, string(body), now)
	default:
		return p.parseJSON(src, body, now)
	}
}

type feedRecord struct {
	Value       string  `json:"value"`
	Indicator   string  `json:"indicator"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Severity    string  `json:"severity"`
	LastSeen    string  `json:"last_seen"`
	Tags        []string `json:"tags"`
	ThreatActor string  `json:"threat_actor"`
}

func (p *Poller) parseJSON(src FeedSource, body []byte, now time.Time) []*IOC {
	var records []feedRecord
	if err := json.Unmarshal(body, &records); err != nil {
		// Some vendors wrap the list in an envelope.
		var envelope struct {
			Indicators []feedRecord `json:"indicators"`
		}
		if err2 := json.Unmarshal(body, &envelope); err2 != nil || len(envelope.Indicators) == 0 {
			p.parseErrors.Add(1)
			p.logger.Warn("feed payload not parseable", "feed", src.Name, "error", err)
			return nil
		}
		records = envelope.Indicators
	}

	iocs := make([]*IOC, 0, len(records))
	for _, rec := range records {
		value := rec.Value
		if value == "" {
			value = rec.Indicator
		}
		if value == "" {
			p.parseErrors.Add(1)
			continue
		}

		ioc := &IOC{
			Value:       value,
			Type:        Classify(value),
			Confidence:  rec.Confidence,
			Severity:    model.Severity(rec.Severity),
			Source:      src.Name,
			LastSeen:    now,
			Tags:        rec.Tags,
			ThreatActor: rec.ThreatActor,
		}
		if rec.Type != "" {
			ioc.Type = IOCType(rec.Type)
		}
		if rec.LastSeen != "" {
			if ts, err := time.Parse(time.RFC3339, rec.LastSeen); err == nil {
				ioc.LastSeen = ts
			}
		}
		p.normalize(src, ioc)
		iocs = append(iocs, ioc)
	}
	return iocs
}

func (p *Poller) parseCSV(src FeedSource, body string, now time.Time) []*IOC {
	var iocs []*IOC
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		ioc := &IOC{
			Value:    strings.TrimSpace(fields[0]),
			Type:     Classify(fields[0]),
			Source:   src.Name,
			LastSeen: now,
		}
		if ioc.Value == "" {
			p.parseErrors.Add(1)
			continue
		}
		if len(fields) > 1 && fields[1] != "" {
			ioc.Type = IOCType(strings.TrimSpace(fields[1]))
		}
		if len(fields) > 2 {
			if conf, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64); err == nil {
				ioc.Confidence = conf
			}
		}
		if len(fields) > 3 {
			ioc.Severity = model.Severity(strings.TrimSpace(fields[3]))
		}
		p.normalize(src, ioc)
		iocs = append(iocs, ioc)
	}
	return iocs
}

func (p *Poller) parseText(src FeedSource, body string, now time.Time) []*IOC {
	var iocs []*IOC
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ioc := &IOC{
			Value:    line,
			Type:     Classify(line),
			Source:   src.Name,
			LastSeen: now,
		}
		p.normalize(src, ioc)
		iocs = append(iocs, ioc)
	}
	return iocs
}

func (p *Poller) normalize(src FeedSource, ioc *IOC) {
	if ioc.Confidence <= 0 {
		ioc.Confidence = src.Confidence
	}
	if ioc.Confidence <= 0 {
		ioc.Confidence = 0.5
	}
	if ioc.Confidence > 1 {
		ioc.Confidence = 1
	}
	if !ioc.Severity.Valid() {
		ioc.Severity = model.SeverityMedium
	}
}

func (p *Poller) expireLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.store.Expire(p.retention, time.Now().UTC())
		}
	}
}
