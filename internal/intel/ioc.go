// Package intel maintains the indicator-of-compromise store, feed polling,
// and event enrichment.
package intel

import (
	"regexp"
	"strings"
	"time"

	"github.com/secops-platform/secops-core/internal/model"
)

// IOCType classifies an indicator value.
type IOCType string

const (
	IOCTypeIP     IOCType = "ip"
	IOCTypeDomain IOCType = "domain"
	IOCTypeURL    IOCType = "url"
	IOCTypeHash   IOCType = "hash"
	IOCTypeEmail  IOCType = "email"
	IOCTypeFile   IOCType = "file"
)

// IOC is a single indicator of compromise. Records are unique by Value;
// merging keeps the record with the later LastSeen, ties broken by the
// higher Confidence.
type IOC struct {
	Value       string         `json:"value" yaml:"value"`
	Type        IOCType        `json:"type" yaml:"type"`
	Confidence  float64        `json:"confidence" yaml:"confidence"`
	Severity    model.Severity `json:"severity" yaml:"severity"`
	Source      string         `json:"source" yaml:"source"`
	FirstSeen   time.Time      `json:"first_seen" yaml:"first_seen"`
	LastSeen    time.Time      `json:"last_seen" yaml:"last_seen"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	ThreatActor string         `json:"threat_actor,omitempty" yaml:"threat_actor,omitempty"`
}

var (
	ipv4Pattern   = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	hashPattern   = regexp.MustCompile(`^[a-fA-F0-9]{32}$|^[a-fA-F0-9]{40}$|^[a-fA-F0-9]{64}$`)
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	domainPattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
)

// Classify determines the indicator type from its value. Values matching
// none of the structured patterns classify as file artifacts.
func Classify(value string) IOCType {
	value = strings.TrimSpace(value)
	switch {
	case ipv4Pattern.MatchString(value):
		return IOCTypeIP
	case hashPattern.MatchString(value):
		return IOCTypeHash
	case emailPattern.MatchString(value):
		return IOCTypeEmail
	case strings.HasPrefix(value, "http://"), strings.HasPrefix(value, "https://"):
		return IOCTypeURL
	case domainPattern.MatchString(value):
		return IOCTypeDomain
	default:
		return IOCTypeFile
	}
}

// supersedes reports whether the incoming record should replace existing
// under the recency-then-confidence merge rule.
func supersedes(incoming, existing *IOC) bool {
	if incoming.LastSeen.After(existing.LastSeen) {
		return true
	}
	if incoming.LastSeen.Equal(existing.LastSeen) {
		return incoming.Confidence > existing.Confidence
	}
	return false
}
