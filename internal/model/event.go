// Package model defines the core security event types shared across engines.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity is an ordered event severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity. Unknown severities
// rank below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// Valid reports whether s is a known severity level.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// SecurityEvent is a normalized security observation. Events are mutated
// only during enrichment; once submitted to the orchestration engine they
// are read-only downstream.
type SecurityEvent struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   Severity               `json:"severity"`
	Type       string                 `json:"type"`
	Source     string                 `json:"source"`
	Indicators []string               `json:"indicators,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// NewSecurityEvent creates an event with a generated ID and current timestamp.
func NewSecurityEvent(eventType, source string, severity Severity) *SecurityEvent {
	return &SecurityEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Type:      eventType,
		Source:    source,
		Context:   make(map[string]interface{}),
	}
}

// SetContext stores a context value, allocating the map when needed.
func (e *SecurityEvent) SetContext(key string, value interface{}) {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
}

// Clone returns a deep-enough copy for handoff across engine boundaries.
func (e *SecurityEvent) Clone() *SecurityEvent {
	out := *e
	out.Indicators = append([]string(nil), e.Indicators...)
	if e.Context != nil {
		out.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			out.Context[k] = v
		}
	}
	return &out
}
