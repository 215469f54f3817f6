package zerotrust

// AssessRisk applies the additive risk rules to a request: untrusted
// location +0.3, access outside 06:00-22:00 +0.2, untrusted device
// +0.4, capped at 1.0.
func AssessRisk(req *AccessRequest, trust *TrustScore) *RiskAssessment {
	risk := 0.0
	var factors []string

	if !locationTrusted(trust) {
		risk += 0.3
		factors = append(factors, "untrusted_location")
	}

	hour := req.Timestamp.Hour()
	if hour < 6 || hour > 22 {
		risk += 0.2
		factors = append(factors, "unusual_time")
	}

	if !req.Context.DeviceTrusted && !deviceTrusted(trust) {
		risk += 0.4
		factors = append(factors, "untrusted_device")
	}

	if risk > 1.0 {
		risk = 1.0
	}

	return &RiskAssessment{
		OverallRisk:    risk,
		Factors:        factors,
		Recommendation: riskRecommendation(risk),
	}
}

func riskRecommendation(risk float64) string {
	switch {
	case risk > 0.8:
		return "deny access and investigate"
	case risk > 0.6:
		return "require step-up authentication"
	case risk > 0.4:
		return "allow with enhanced monitoring"
	default:
		return "standard access controls"
	}
}

// locationTrusted reads the location factor back out of the composite:
// a score above the 0.3 base means a trust signal fired.
func locationTrusted(trust *TrustScore) bool {
	for _, f := range trust.Factors {
		if f.Name == "location" {
			return f.Score > 0.5
		}
	}
	return false
}

func deviceTrusted(trust *TrustScore) bool {
	for _, f := range trust.Factors {
		if f.Name == "device" {
			return f.Score >= 0.9
		}
	}
	return false
}
