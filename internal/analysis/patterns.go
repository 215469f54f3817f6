package analysis

import "strings"

// SignatureKind distinguishes where a behavioral signature is observed.
type SignatureKind string

const (
	SignatureProcess SignatureKind = "process"
	SignatureNetwork SignatureKind = "network"
	SignatureMemory  SignatureKind = "memory"
)

// Signature is one weighted behavioral indicator within a threat pattern.
// Keywords are matched against the event's indicators and context strings;
// Threshold is the occurrence count at which the signature fully fires.
type Signature struct {
	Kind      SignatureKind
	Keywords  []string
	Weight    float64
	Threshold int
}

// ThreatPattern is a named collection of weighted signatures describing a
// known attack behavior.
type ThreatPattern struct {
	ID         string
	Name       string
	Category   string
	Signatures []Signature
}

// DefaultThreatPatterns returns the built-in pattern library.
func DefaultThreatPatterns() []ThreatPattern {
	return []ThreatPattern{
		{
			ID:       "apt-lateral-movement",
			Name:     "APT Lateral Movement",
			Category: "apt",
			Signatures: []Signature{
				{
					Kind:      SignatureProcess,
					Keywords:  []string{"psexec", "wmic", "powershell", "net use", "schtasks"},
					Weight:    0.8,
					Threshold: 5,
				},
				{
					Kind:      SignatureNetwork,
					Keywords:  []string{"smb", "rdp", "winrm", "445", "3389"},
					Weight:    0.7,
					Threshold: 10,
				},
			},
		},
		{
			ID:       "zero-day-exploit",
			Name:     "Zero-Day Exploitation",
			Category: "exploit",
			Signatures: []Signature{
				{
					Kind:      SignatureMemory,
					Keywords:  []string{"heap spray", "rop chain", "shellcode", "buffer overflow"},
					Weight:    0.9,
					Threshold: 3,
				},
			},
		},
		{
			ID:       "model-poisoning",
			Name:     "ML Model Poisoning",
			Category: "ai_attack",
			Signatures: []Signature{
				{
					Kind:      SignatureProcess,
					Keywords:  []string{"training data", "model update", "gradient", "dataset injection"},
					Weight:    0.85,
					Threshold: 2,
				},
			},
		},
	}
}

// matchScore evaluates a pattern against the event's observable strings:
// score = sum(signatureMatch * weight) / sum(weight), where each
// signature's match is the keyword hit count over its threshold, capped
// at 1.
func (p ThreatPattern) matchScore(observables []string) float64 {
	var weighted, totalWeight float64
	for _, sig := range p.Signatures {
		hits := 0
		for _, obs := range observables {
			lower := strings.ToLower(obs)
			for _, kw := range sig.Keywords {
				if strings.Contains(lower, kw) {
					hits++
				}
			}
		}
		match := float64(hits) / float64(sig.Threshold)
		if match > 1 {
			match = 1
		}
		weighted += match * sig.Weight
		totalWeight += sig.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}
