package zerotrust

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	apperrors "github.com/secops-platform/secops-core/pkg/errors"
)

// matchThreshold is the satisfied-weight ratio above which a policy
// matches.
const matchThreshold = 0.7

// PolicyStore holds enabled zero-trust policies and evaluates them
// against a computed request.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

// NewPolicyStore returns a store seeded with the built-in policies.
func NewPolicyStore() *PolicyStore {
	s := &PolicyStore{policies: make(map[string]*Policy)}
	for _, p := range builtinPolicies() {
		s.policies[p.ID] = p
	}
	return s
}

func builtinPolicies() []*Policy {
	return []*Policy{
		{
			ID:          "critical-resource-access",
			Name:        "Critical Resource Access",
			Description: "Step-up authentication for access to critical resources without a strong trust score",
			Conditions: []PolicyCondition{
				{Type: "resource", Operator: OpContains, Value: "critical", Weight: 0.5},
				{Type: "trust_score", Operator: OpLessThan, Value: 0.9, Weight: 0.5},
			},
			Actions:        []string{"challenge"},
			Priority:       1,
			Enabled:        true,
			ComplianceTags: []string{"PR.AC-4", "A.9.4.1"},
		},
		{
			ID:          "anomalous-behavior-detection",
			Name:        "Anomalous Behavior Detection",
			Description: "Monitor and challenge sessions with degraded behavioral trust",
			Conditions: []PolicyCondition{
				{Type: "behavior_score", Operator: OpLessThan, Value: 0.5, Weight: 0.6},
				{Type: "risk_score", Operator: OpGreaterThan, Value: 0.6, Weight: 0.4},
			},
			Actions:        []string{"monitor", "challenge"},
			Priority:       2,
			Enabled:        true,
			ComplianceTags: []string{"DE.AE-1"},
		},
		{
			ID:          "untrusted-device-policy",
			Name:        "Untrusted Device Policy",
			Description: "Quarantine sessions from unmanaged devices carrying elevated risk",
			Conditions: []PolicyCondition{
				{Type: "device_trusted", Operator: OpEquals, Value: false, Weight: 0.7},
				{Type: "risk_score", Operator: OpGreaterThan, Value: 0.4, Weight: 0.3},
			},
			Actions:        []string{"quarantine"},
			Priority:       3,
			Enabled:        true,
			ComplianceTags: []string{"PR.AC-3", "A.6.2.1"},
		},
	}
}

// LoadFile merges policies from a YAML file into the store. File
// policies override built-ins with the same ID.
func (s *PolicyStore) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternalError, fmt.Sprintf("read policy file %s", path))
	}
	var doc struct {
		Policies []*Policy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, apperrors.Validation(fmt.Sprintf("parse policy file %s: %v", path, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, p := range doc.Policies {
		if p.ID == "" || len(p.Conditions) == 0 || len(p.Actions) == 0 {
			return loaded, apperrors.Validation(fmt.Sprintf("policy %q missing id, conditions, or actions", p.ID))
		}
		s.policies[p.ID] = p
		loaded++
	}
	return loaded, nil
}

// Upsert adds or replaces a policy.
func (s *PolicyStore) Upsert(p *Policy) {
	s.mu.Lock()
	s.policies[p.ID] = p
	s.mu.Unlock()
}

// All returns the enabled policies ordered by ascending priority, ties
// broken by ID for determinism.
func (s *PolicyStore) All() []*Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// evalFeatures is the flattened view of a request a condition can
// reference.
type evalFeatures struct {
	Resource      string
	Action        string
	TrustScore    float64
	RiskScore     float64
	BehaviorScore float64
	DeviceTrusted bool
	MFACompleted  bool
	VPNActive     bool
	Hour          int
}

func buildFeatures(req *AccessRequest, trust *TrustScore, risk *RiskAssessment) evalFeatures {
	feat := evalFeatures{
		Resource:      req.Resource,
		Action:        req.Action,
		TrustScore:    trust.Overall,
		RiskScore:     risk.OverallRisk,
		DeviceTrusted: req.Context.DeviceTrusted || deviceTrusted(trust),
		MFACompleted:  req.Context.MFACompleted,
		VPNActive:     req.Context.VPNActive,
		Hour:          req.Timestamp.Hour(),
	}
	for _, f := range trust.Factors {
		if f.Name == "behavior" {
			feat.BehaviorScore = f.Score
		}
	}
	return feat
}

// Matches reports whether the policy's satisfied-condition weight ratio
// exceeds the match threshold.
func (p *Policy) Matches(feat evalFeatures) bool {
	var satisfied, total float64
	for _, c := range p.Conditions {
		total += c.Weight
		if c.satisfied(feat) {
			satisfied += c.Weight
		}
	}
	if total == 0 {
		return false
	}
	return satisfied/total > matchThreshold
}

func (c PolicyCondition) satisfied(feat evalFeatures) bool {
	switch c.Type {
	case "resource":
		return compareString(feat.Resource, c.Operator, c.Value)
	case "action":
		return compareString(feat.Action, c.Operator, c.Value)
	case "trust_score":
		return compareFloat(feat.TrustScore, c.Operator, c.Value)
	case "risk_score":
		return compareFloat(feat.RiskScore, c.Operator, c.Value)
	case "behavior_score":
		return compareFloat(feat.BehaviorScore, c.Operator, c.Value)
	case "device_trusted":
		return compareBool(feat.DeviceTrusted, c.Operator, c.Value)
	case "mfa_completed":
		return compareBool(feat.MFACompleted, c.Operator, c.Value)
	case "vpn_active":
		return compareBool(feat.VPNActive, c.Operator, c.Value)
	case "hour":
		return compareFloat(float64(feat.Hour), c.Operator, c.Value)
	default:
		return false
	}
}

func compareString(have string, op ConditionOperator, want interface{}) bool {
	w, ok := want.(string)
	if !ok {
		return false
	}
	switch op {
	case OpEquals:
		return have == w
	case OpNotEquals:
		return have != w
	case OpContains:
		return strings.Contains(have, w)
	default:
		return false
	}
}

func compareFloat(have float64, op ConditionOperator, want interface{}) bool {
	var w float64
	switch v := want.(type) {
	case float64:
		w = v
	case int:
		w = float64(v)
	default:
		return false
	}
	switch op {
	case OpEquals:
		return have == w
	case OpNotEquals:
		return have != w
	case OpLessThan:
		return have < w
	case OpGreaterThan:
		return have > w
	default:
		return false
	}
}

func compareBool(have bool, op ConditionOperator, want interface{}) bool {
	w, ok := want.(bool)
	if !ok {
		return false
	}
	switch op {
	case OpEquals:
		return have == w
	case OpNotEquals:
		return have != w
	default:
		return false
	}
}
