// Package siem pulls alerts from upstream SIEM systems and converts
// them into security events for the SOAR pipeline.
package siem

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/secops-platform/secops-core/internal/model"
)

// SIEMType identifies the upstream system.
type SIEMType string

const (
	SIEMSplunk   SIEMType = "splunk"
	SIEMElastic  SIEMType = "elastic"
	SIEMSentinel SIEMType = "sentinel"
)

// SourceConfig configures one upstream alert source.
type SourceConfig struct {
	Type         SIEMType      `json:"type" yaml:"type"`
	Name         string        `json:"name" yaml:"name"`
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Endpoint     string        `json:"endpoint" yaml:"endpoint"`
	Token        string        `json:"token,omitempty" yaml:"token,omitempty"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

type sourceFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// LoadSourceConfigs reads alert source definitions from a YAML file.
func LoadSourceConfigs(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read siem config: %w", err)
	}
	var file sourceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse siem config: %w", err)
	}
	return file.Sources, nil
}

// Alert is the normalized shape an upstream alert is reduced to before
// conversion.
type Alert struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Severity   string            `json:"severity"`
	Category   string            `json:"category"`
	Source     string            `json:"source"`
	Indicators []string          `json:"indicators"`
	Fields     map[string]string `json:"fields,omitempty"`
	DetectedAt time.Time         `json:"detected_at"`
}

// AlertSource fetches alerts newer than the watermark.
type AlertSource interface {
	Name() string
	FetchAlerts(ctx context.Context, since time.Time) ([]Alert, error)
}

// HTTPAlertSource is the generic REST alert source. The endpoint is
// expected to return a JSON array of alerts, optionally wrapped in an
// "alerts" envelope.
type HTTPAlertSource struct {
	cfg    SourceConfig
	client *http.Client
}

func NewHTTPAlertSource(cfg SourceConfig) *HTTPAlertSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAlertSource{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPAlertSource) Name() string { return s.cfg.Name }

func (s *HTTPAlertSource) FetchAlerts(ctx context.Context, since time.Time) ([]Alert, error) {
	url := fmt.Sprintf("%s?since=%s", s.cfg.Endpoint, since.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch alerts from %s: %w", s.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch alerts from %s: unexpected status %d", s.cfg.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	if err := json.Unmarshal(body, &alerts); err == nil {
		return alerts, nil
	}
	var envelope struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse alerts from %s: %w", s.cfg.Name, err)
	}
	return envelope.Alerts, nil
}

// ToEvent converts a normalized alert into a security event. Unmapped
// severities default to medium.
func ToEvent(alert Alert, sourceName string) *model.SecurityEvent {
	severity := model.Severity(alert.Severity)
	if !severity.Valid() {
		severity = model.SeverityMedium
	}

	eventType := alert.Category
	if eventType == "" {
		eventType = "siem_alert"
	}

	event := model.NewSecurityEvent(eventType, sourceName, severity)
	event.Indicators = append([]string(nil), alert.Indicators...)
	if !alert.DetectedAt.IsZero() {
		event.Timestamp = alert.DetectedAt
	}
	event.SetContext("alert_id", alert.ID)
	event.SetContext("alert_title", alert.Title)
	for k, v := range alert.Fields {
		event.SetContext(k, v)
	}
	return event
}
