// Package playbook defines response playbooks and drives per-step
// execution as a state machine.
package playbook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/secops-platform/secops-core/internal/model"
)

// TriggerType identifies how a trigger condition is evaluated.
type TriggerType string

const (
	TriggerEventType   TriggerType = "event_type"   // equality on event type
	TriggerSeverityMin TriggerType = "severity_min" // ordinal severity threshold
	TriggerSource      TriggerType = "source"       // equality on event source
	TriggerIndicator   TriggerType = "indicator"    // event carries the indicator
)

// Trigger is one condition on a playbook. All of a playbook's triggers
// must hold for the playbook to match.
type Trigger struct {
	Type  TriggerType `json:"type" yaml:"type"`
	Value string      `json:"value" yaml:"value"`
}

// StepType categorizes a response step for compliance mapping.
type StepType string

const (
	StepInvestigation StepType = "investigation"
	StepContainment   StepType = "containment"
	StepEradication   StepType = "eradication"
	StepRecovery      StepType = "recovery"
	StepNotification  StepType = "notification"
)

// FailureMode controls what happens when a step exhausts its retries.
type FailureMode string

const (
	// FailureHalt fails the whole execution. This is the default.
	FailureHalt FailureMode = "halt"
	// FailureContinue records the failure and proceeds to the next step.
	FailureContinue FailureMode = "continue"
)

// StepDef is the static definition of one playbook step.
type StepDef struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Type      StepType          `json:"type" yaml:"type"`
	Automated bool              `json:"automated" yaml:"automated"`
	Action    string            `json:"action,omitempty" yaml:"action,omitempty"`
	Params    map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Timeout   Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries   int               `json:"retries,omitempty" yaml:"retries,omitempty"`
	OnFailure FailureMode       `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// Playbook is a static response definition. Loaded at startup, read-only
// at runtime. Lower priority values are more urgent.
type Playbook struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	Triggers       []Trigger `json:"triggers" yaml:"triggers"`
	Steps          []StepDef `json:"steps" yaml:"steps"`
	Priority       int       `json:"priority" yaml:"priority"`
	Enabled        bool      `json:"enabled" yaml:"enabled"`
	ComplianceTags []string  `json:"compliance_tags,omitempty" yaml:"compliance_tags,omitempty"`
}

// Validate checks structural requirements on a playbook definition.
func (p *Playbook) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("playbook id is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("playbook %s has no steps", p.ID)
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for _, step := range p.Steps {
		if step.ID == "" {
			return fmt.Errorf("playbook %s has a step without an id", p.ID)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("playbook %s has duplicate step id %s", p.ID, step.ID)
		}
		seen[step.ID] = struct{}{}
		if step.Automated && step.Action == "" {
			return fmt.Errorf("automated step %s/%s has no action", p.ID, step.ID)
		}
	}
	return nil
}

// Matches reports whether every trigger holds for the event.
func (p *Playbook) Matches(event *model.SecurityEvent) bool {
	if !p.Enabled || event == nil {
		return false
	}
	for _, trigger := range p.Triggers {
		if !trigger.matches(event) {
			return false
		}
	}
	return true
}

func (t Trigger) matches(event *model.SecurityEvent) bool {
	switch t.Type {
	case TriggerEventType:
		return event.Type == t.Value
	case TriggerSeverityMin:
		return event.Severity.AtLeast(model.Severity(t.Value))
	case TriggerSource:
		return event.Source == t.Value
	case TriggerIndicator:
		for _, indicator := range event.Indicators {
			if indicator == t.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ExecutionStatus is the lifecycle state of a playbook execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// StepStatus is the lifecycle state of one step within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult is the runtime record of one step. Results are appended in
// declaration order and never reordered.
type StepResult struct {
	StepID    string                 `json:"step_id"`
	Name      string                 `json:"name"`
	Type      StepType               `json:"type"`
	Automated bool                   `json:"automated"`
	Status    StepStatus             `json:"status"`
	Attempts  int                    `json:"attempts"`
	StartedAt time.Time              `json:"started_at,omitempty"`
	EndedAt   time.Time              `json:"ended_at,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// ExecutionMetrics aggregates a terminal execution.
type ExecutionMetrics struct {
	TotalDuration  time.Duration `json:"total_duration"`
	AutomatedSteps int           `json:"automated_steps"`
	ManualSteps    int           `json:"manual_steps"`
	SuccessRate    float64       `json:"success_rate"`
	MTTR           time.Duration `json:"mttr"`
	AutomationRate float64       `json:"automation_rate"`
}

// Execution tracks one run of a playbook against one event. Owned
// exclusively by the orchestration engine until terminal.
type Execution struct {
	ID         string           `json:"id"`
	PlaybookID string           `json:"playbook_id"`
	EventID    string           `json:"event_id"`
	Status     ExecutionStatus  `json:"status"`
	Steps      []StepResult     `json:"steps"`
	Metrics    ExecutionMetrics `json:"metrics"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at,omitempty"`
	Event      *model.SecurityEvent `json:"event,omitempty"`
}

// ComputeMetrics fills the aggregate metrics from the step results.
func (e *Execution) ComputeMetrics() {
	total := len(e.Steps)
	if total == 0 {
		return
	}
	completed := 0
	automated := 0
	for _, step := range e.Steps {
		if step.Status == StepCompleted {
			completed++
		}
		if step.Automated {
			automated++
		}
	}
	duration := e.EndedAt.Sub(e.StartedAt)
	e.Metrics = ExecutionMetrics{
		TotalDuration:  duration,
		AutomatedSteps: automated,
		ManualSteps:    total - automated,
		SuccessRate:    float64(completed) / float64(total),
		MTTR:           duration,
		AutomationRate: float64(automated) / float64(total),
	}
}

// Duration wraps time.Duration with human-readable YAML/JSON encoding
// ("30s", "5m").
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.from(v)
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}
	return d.from(v)
}

func (d *Duration) from(v interface{}) error {
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case int:
		*d = Duration(time.Duration(value))
		return nil
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
}
