// Package zerotrust evaluates access requests against weighted trust
// factors, risk assessment, and policy.
package zerotrust

import (
	"time"
)

// AccessRequest is one access evaluation, created and consumed within a
// single call.
type AccessRequest struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	DeviceID  string         `json:"device_id"`
	Resource  string         `json:"resource"`
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Context   RequestContext `json:"context"`
}

// RequestContext carries the observable circumstances of the request.
type RequestContext struct {
	SourceIP       string `json:"source_ip"`
	Country        string `json:"country,omitempty"`
	City           string `json:"city,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	VPNActive      bool   `json:"vpn_active"`
	MFACompleted   bool   `json:"mfa_completed"`
	DeviceTrusted  bool   `json:"device_trusted"`
	LocationTrusted bool  `json:"location_trusted"`
}

// TrustFactor is one scored dimension of the composite trust score.
type TrustFactor struct {
	Name       string   `json:"name"`
	Score      float64  `json:"score"` // [0,1]
	Weight     float64  `json:"weight"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// TrustScore is the weighted composite over the five factors.
type TrustScore struct {
	Overall    float64       `json:"overall"` // [0,1]
	Factors    []TrustFactor `json:"factors"`
	ComputedAt time.Time     `json:"computed_at"`
}

// Declared factor weights.
const (
	WeightUser     = 0.30
	WeightDevice   = 0.25
	WeightLocation = 0.15
	WeightBehavior = 0.20
	WeightContext  = 0.10
)

// RiskAssessment is the additive risk view, independent of trust.
type RiskAssessment struct {
	OverallRisk    float64  `json:"overall_risk"` // [0,1]
	Factors        []string `json:"factors,omitempty"`
	Recommendation string   `json:"recommendation"`
}

// ConditionOperator compares a condition value against an evaluation
// feature.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpLessThan    ConditionOperator = "less_than"
	OpGreaterThan ConditionOperator = "greater_than"
	OpContains    ConditionOperator = "contains"
)

// PolicyCondition is one weighted condition within a policy.
type PolicyCondition struct {
	Type     string            `json:"type" yaml:"type"`
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    interface{}       `json:"value" yaml:"value"`
	Weight   float64           `json:"weight" yaml:"weight"`
}

// Policy is a static zero-trust policy. Lower priority values are more
// authoritative.
type Policy struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Description    string            `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions     []PolicyCondition `json:"conditions" yaml:"conditions"`
	Actions        []string          `json:"actions" yaml:"actions"`
	Priority       int               `json:"priority" yaml:"priority"`
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	ComplianceTags []string          `json:"compliance_tags,omitempty" yaml:"compliance_tags,omitempty"`
}

// Fixed decision reasons.
const (
	ReasonPolicyMatched     = "policy_matched"
	ReasonNoPoliciesMatched = "no_policies_matched"
	ReasonEvaluationError   = "evaluation_error"
)

// Decision is the rendered outcome of one evaluation. Evaluation always
// returns a decision; internal failures surface as a fail-secure deny.
type Decision struct {
	RequestID  string          `json:"request_id"`
	Decision   string          `json:"decision"` // allow, deny, challenge, quarantine, monitor
	Reason     string          `json:"reason"`
	PolicyID   string          `json:"policy_id,omitempty"`
	Actions    []string        `json:"actions,omitempty"`
	TrustScore *TrustScore     `json:"trust_score,omitempty"`
	Risk       *RiskAssessment `json:"risk,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// AuditRecord is emitted for every evaluation, including failures.
type AuditRecord struct {
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	Resource   string    `json:"resource"`
	Action     string    `json:"action"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason"`
	PolicyID   string    `json:"policy_id,omitempty"`
	TrustScore float64   `json:"trust_score"`
	RiskScore  float64   `json:"risk_score"`
	SourceIP   string    `json:"source_ip"`
	Timestamp  time.Time `json:"timestamp"`
}
