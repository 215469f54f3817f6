// Package response builds compliance-mapped reports for completed
// executions, delivers notifications, and enforces escalation SLAs.
package response

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/secops-platform/secops-core/internal/playbook"
)

// ComplianceStatus buckets a control's coverage.
type ComplianceStatus string

const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusPartial      ComplianceStatus = "partial"
	StatusNonCompliant ComplianceStatus = "non_compliant"
)

// ComplianceMapping links executed steps to one framework control.
type ComplianceMapping struct {
	Framework string           `json:"framework"`
	ControlID string           `json:"control_id"`
	Steps     []string         `json:"steps"`
	Status    ComplianceStatus `json:"status"`
}

// ActionLogEntry is one line of the report's action log.
type ActionLogEntry struct {
	StepID    string        `json:"step_id"`
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Status    string        `json:"status"`
	Automated bool          `json:"automated"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// TimingMetrics splits the execution duration across response phases.
type TimingMetrics struct {
	Detection   time.Duration `json:"detection"`
	Response    time.Duration `json:"response"`
	Containment time.Duration `json:"containment"`
	Recovery    time.Duration `json:"recovery"`
	Total       time.Duration `json:"total"`
}

// Report is the derived, read-only artifact per terminal execution.
type Report struct {
	ID              string              `json:"id"`
	ExecutionID     string              `json:"execution_id"`
	PlaybookID      string              `json:"playbook_id"`
	EventID         string              `json:"event_id"`
	GeneratedAt     time.Time           `json:"generated_at"`
	Summary         string              `json:"summary"`
	Status          string              `json:"status"`
	ActionLog       []ActionLogEntry    `json:"action_log"`
	Timing          TimingMetrics       `json:"timing"`
	Metrics         playbook.ExecutionMetrics `json:"metrics"`
	Recommendations []string            `json:"recommendations"`
	Compliance      []ComplianceMapping `json:"compliance"`
}

// Fixed step-type to control-ID tables per framework.
var nistControls = map[playbook.StepType][]string{
	playbook.StepInvestigation: {"DE.AE-2", "DE.AE-3"},
	playbook.StepContainment:   {"RS.MI-1", "RS.MI-2"},
	playbook.StepEradication:   {"RS.MI-3"},
	playbook.StepRecovery:      {"RC.RP-1", "RC.IM-1"},
	playbook.StepNotification:  {"RS.CO-2", "RS.CO-3"},
}

var iso27001Controls = map[playbook.StepType][]string{
	playbook.StepInvestigation: {"A.16.1.2", "A.16.1.4"},
	playbook.StepContainment:   {"A.16.1.5"},
	playbook.StepNotification:  {"A.16.1.2"},
}

// BuildReport derives the response report from a terminal execution.
// Failed executions still produce a reduced report so escalation has
// material to act on.
func BuildReport(exec *playbook.Execution, pb *playbook.Playbook) *Report {
	report := &Report{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		PlaybookID:  exec.PlaybookID,
		EventID:     exec.EventID,
		GeneratedAt: time.Now().UTC(),
		Status:      string(exec.Status),
		Metrics:     exec.Metrics,
	}

	failed := 0
	for _, step := range exec.Steps {
		report.ActionLog = append(report.ActionLog, ActionLogEntry{
			StepID:    step.StepID,
			Name:      step.Name,
			Type:      string(step.Type),
			Status:    string(step.Status),
			Automated: step.Automated,
			Attempts:  step.Attempts,
			Duration:  step.Duration,
			Error:     step.Error,
		})
		if step.Status == playbook.StepFailed {
			failed++
		}
	}

	name := exec.PlaybookID
	if pb != nil {
		name = pb.Name
	}
	report.Summary = fmt.Sprintf(
		"%s finished %s: %d/%d steps completed in %s",
		name, exec.Status,
		completedSteps(exec), len(exec.Steps),
		exec.Metrics.TotalDuration.Round(time.Millisecond))

	report.Timing = timingMetrics(exec)
	report.Recommendations = recommendations(exec, failed)
	report.Compliance = complianceMappings(exec)
	return report
}

func completedSteps(exec *playbook.Execution) int {
	n := 0
	for _, step := range exec.Steps {
		if step.Status == playbook.StepCompleted {
			n++
		}
	}
	return n
}

// timingMetrics attributes step durations to response phases by step
// type. Investigation counts as detection, containment and eradication as
// containment, recovery as recovery; everything else is response overhead.
func timingMetrics(exec *playbook.Execution) TimingMetrics {
	t := TimingMetrics{Total: exec.Metrics.TotalDuration}
	for i := range exec.Steps {
		step := &exec.Steps[i]
		switch step.Type {
		case playbook.StepInvestigation:
			t.Detection += step.Duration
		case playbook.StepContainment, playbook.StepEradication:
			t.Containment += step.Duration
		case playbook.StepRecovery:
			t.Recovery += step.Duration
		default:
			t.Response += step.Duration
		}
	}
	return t
}

func recommendations(exec *playbook.Execution, failedSteps int) []string {
	var recs []string
	if failedSteps > 0 {
		recs = append(recs, fmt.Sprintf(
			"Review %d failed step(s) and address the underlying tooling errors", failedSteps))
	}
	if exec.Metrics.MTTR > 30*time.Minute {
		recs = append(recs, "Containment exceeded 30 minutes; review playbook step timeouts and tooling latency")
	}
	if exec.Metrics.AutomationRate < 0.8 {
		recs = append(recs, "Automation rate below 80%; evaluate automating remaining manual steps")
	}
	if len(recs) == 0 {
		recs = append(recs, "No remediation gaps identified")
	}
	return recs
}

// complianceMappings builds per-control entries from the fixed tables.
// A control's status buckets by the completion ratio of the steps mapped
// to it: at least 0.9 compliant, at least 0.7 partial, else non-compliant.
func complianceMappings(exec *playbook.Execution) []ComplianceMapping {
	var mappings []ComplianceMapping
	mappings = append(mappings, frameworkMappings(exec, "nist_csf", nistControls)...)
	mappings = append(mappings, frameworkMappings(exec, "iso27001", iso27001Controls)...)
	return mappings
}

func frameworkMappings(exec *playbook.Execution, framework string, table map[playbook.StepType][]string) []ComplianceMapping {
	type bucket struct {
		steps     []string
		completed int
	}
	buckets := make(map[string]*bucket)
	var order []string

	for i := range exec.Steps {
		step := &exec.Steps[i]
		for _, control := range table[step.Type] {
			b, ok := buckets[control]
			if !ok {
				b = &bucket{}
				buckets[control] = b
				order = append(order, control)
			}
			b.steps = append(b.steps, step.StepID)
			if step.Status == playbook.StepCompleted {
				b.completed++
			}
		}
	}

	mappings := make([]ComplianceMapping, 0, len(order))
	for _, control := range order {
		b := buckets[control]
		ratio := float64(b.completed) / float64(len(b.steps))
		mappings = append(mappings, ComplianceMapping{
			Framework: framework,
			ControlID: control,
			Steps:     b.steps,
			Status:    bucketStatus(ratio),
		})
	}
	return mappings
}

func bucketStatus(ratio float64) ComplianceStatus {
	switch {
	case ratio >= 0.9:
		return StatusCompliant
	case ratio >= 0.7:
		return StatusPartial
	default:
		return StatusNonCompliant
	}
}
