package playbook

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/secops-platform/secops-core/internal/model"
)

// TestSubstituteResolvesEventFields tests token resolution against struct
// fields, context keys, and indexed indicators.
func TestSubstituteResolvesEventFields(t *testing.T) {
	event := model.NewSecurityEvent("malware_detection", "edr", model.SeverityHigh)
	event.SetContext("hostname", "ws-042")
	event.SetContext("source_ip", "10.0.0.5")
	event.Indicators = []string{"44d88612fea8a8f36de82e1278abb02f"}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"context key", "isolate {{context.hostname}}", "isolate ws-042"},
		{"struct field", "severity={{severity}}", "severity=high"},
		{"indexed indicator", "{{indicators[0]}}", "44d88612fea8a8f36de82e1278abb02f"},
		{"multiple tokens", "{{context.hostname}}:{{context.source_ip}}", "ws-042:10.0.0.5"},
		{"whitespace inside token", "{{ context.hostname }}", "ws-042"},
		{"no tokens", "plain value", "plain value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substitute(tt.template, event))
		})
	}
}

// TestSubstituteUnresolvedTokenKeptVerbatim tests that tokens whose path
// does not resolve stay in the output unchanged.
func TestSubstituteUnresolvedTokenKeptVerbatim(t *testing.T) {
	event := model.NewSecurityEvent("malware_detection", "edr", model.SeverityHigh)

	assert.Equal(t, "host={{context.hostname}}", substitute("host={{context.hostname}}", event))
	assert.Equal(t, "{{indicators[0]}}", substitute("{{indicators[0]}}", event))
	assert.Equal(t, "{{no_such_field}}", substitute("{{no_such_field}}", event))
}

// TestSubstituteMixedResolution tests that resolved and unresolved tokens
// coexist in one template.
func TestSubstituteMixedResolution(t *testing.T) {
	event := model.NewSecurityEvent("network_intrusion", "firewall", model.SeverityMedium)
	event.SetContext("source_ip", "203.0.113.9")

	got := substitute("block {{context.source_ip}} on {{context.hostname}}", event)
	assert.Equal(t, "block 203.0.113.9 on {{context.hostname}}", got)
}

func TestSubstituteParams(t *testing.T) {
	event := model.NewSecurityEvent("phishing_detected", "email_gateway", model.SeverityMedium)
	event.SetContext("sender", "attacker@example.com")

	params := substituteParams(map[string]string{
		"sender":  "{{context.sender}}",
		"subject": "{{context.subject}}",
		"static":  "quarantine",
	}, event)

	assert.Equal(t, "attacker@example.com", params["sender"])
	assert.Equal(t, "{{context.subject}}", params["subject"])
	assert.Equal(t, "quarantine", params["static"])
}

func TestSubstituteParamsEmpty(t *testing.T) {
	event := model.NewSecurityEvent("x", "y", model.SeverityLow)
	assert.Nil(t, substituteParams(nil, event))
	assert.Nil(t, substituteParams(map[string]string{}, event))
}
