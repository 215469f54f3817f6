package zerotrust

import (
	"context"
	"fmt"
	"time"
)

// UserProfile is what the engine knows about a user, assembled from the
// directory (when configured) and incident history.
type UserProfile struct {
	UserID            string
	Role              string
	MFAEnrolled       bool
	SecurityTraining  bool
	RecentIncidents   int
	TypicalStartHour  int
	TypicalEndHour    int
	TrustedCountries  []string
	KnownUserAgents   []string
}

// DeviceProfile tracks device posture.
type DeviceProfile struct {
	DeviceID      string
	Managed       bool
	Compliant     bool
	LastPatched   time.Time
	OwnerUserID   string
}

// defaultUserProfile covers users the directory has never seen. Typical
// hours follow standard business hours.
func defaultUserProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID:           userID,
		TypicalStartHour: 8,
		TypicalEndHour:   18,
	}
}

// userFactor scores the identity dimension: base role trust plus MFA
// enrollment, completed security training, and a clean incident history.
func userFactor(profile *UserProfile, reqCtx RequestContext) TrustFactor {
	score := 0.7
	evidence := []string{fmt.Sprintf("base role trust %.1f", 0.7)}

	if profile.MFAEnrolled && reqCtx.MFACompleted {
		score += 0.2
		evidence = append(evidence, "mfa completed")
	}
	if profile.SecurityTraining {
		score += 0.1
		evidence = append(evidence, "security training current")
	}
	if profile.RecentIncidents == 0 {
		score += 0.1
		evidence = append(evidence, "no recent incidents")
	} else {
		evidence = append(evidence, fmt.Sprintf("%d recent incidents", profile.RecentIncidents))
	}

	return TrustFactor{
		Name:       "user",
		Score:      clamp01(score),
		Weight:     WeightUser,
		Confidence: 0.9,
		Evidence:   evidence,
	}
}

// deviceFactor scores device posture: trusted (managed and compliant)
// devices score 0.9, everything else 0.5.
func deviceFactor(profile *DeviceProfile, reqCtx RequestContext) TrustFactor {
	score := 0.5
	evidence := []string{"unmanaged or unknown device"}

	trusted := reqCtx.DeviceTrusted || (profile != nil && profile.Managed && profile.Compliant)
	if trusted {
		score = 0.9
		evidence = []string{"managed compliant device"}
	}

	return TrustFactor{
		Name:       "device",
		Score:      score,
		Weight:     WeightDevice,
		Confidence: 0.85,
		Evidence:   evidence,
	}
}

// locationFactor scores the origin of the request. A country on the
// user's trusted list adds 0.4; a resolved city adds a small accuracy
// bonus.
func locationFactor(profile *UserProfile, reqCtx RequestContext) TrustFactor {
	score := 0.3
	evidence := []string{fmt.Sprintf("source %s", reqCtx.SourceIP)}

	trusted := reqCtx.LocationTrusted
	if !trusted && reqCtx.Country != "" {
		for _, c := range profile.TrustedCountries {
			if c == reqCtx.Country {
				trusted = true
				break
			}
		}
	}
	if trusted {
		score += 0.4
		evidence = append(evidence, fmt.Sprintf("trusted country %s", reqCtx.Country))
	} else if reqCtx.Country != "" {
		evidence = append(evidence, fmt.Sprintf("untrusted country %s", reqCtx.Country))
	}
	if reqCtx.City != "" {
		score += 0.1
		evidence = append(evidence, fmt.Sprintf("resolved to %s", reqCtx.City))
	}

	return TrustFactor{
		Name:       "location",
		Score:      clamp01(score),
		Weight:     WeightLocation,
		Confidence: 0.8,
		Evidence:   evidence,
	}
}

// behaviorFactor scores the request time against the user's typical
// working pattern.
func behaviorFactor(profile *UserProfile, at time.Time) TrustFactor {
	score := 0.7
	var evidence []string

	hour := at.Hour()
	if hour >= profile.TypicalStartHour && hour <= profile.TypicalEndHour {
		score += 0.2
		evidence = append(evidence, "within typical hours")
	} else {
		score -= 0.1
		evidence = append(evidence, fmt.Sprintf("outside typical hours (%02d:00)", hour))
	}

	wd := at.Weekday()
	if wd >= time.Monday && wd <= time.Friday {
		score += 0.1
		evidence = append(evidence, "weekday access")
	} else {
		evidence = append(evidence, "weekend access")
	}

	return TrustFactor{
		Name:       "behavior",
		Score:      clamp01(score),
		Weight:     WeightBehavior,
		Confidence: 0.75,
		Evidence:   evidence,
	}
}

// contextFactor scores transport and client context: corporate VPN and
// a user agent the user has been seen on before.
func contextFactor(profile *UserProfile, reqCtx RequestContext) TrustFactor {
	score := 0.5
	var evidence []string

	if reqCtx.VPNActive {
		score += 0.2
		evidence = append(evidence, "corporate vpn active")
	}
	if reqCtx.UserAgent != "" {
		for _, ua := range profile.KnownUserAgents {
			if ua == reqCtx.UserAgent {
				score += 0.1
				evidence = append(evidence, "known user agent")
				break
			}
		}
	}

	return TrustFactor{
		Name:       "context",
		Score:      clamp01(score),
		Weight:     WeightContext,
		Confidence: 0.7,
		Evidence:   evidence,
	}
}

// ComputeTrustScore builds the five factors and their weighted
// composite for one request.
func ComputeTrustScore(profile *UserProfile, device *DeviceProfile, req *AccessRequest) *TrustScore {
	factors := []TrustFactor{
		userFactor(profile, req.Context),
		deviceFactor(device, req.Context),
		locationFactor(profile, req.Context),
		behaviorFactor(profile, req.Timestamp),
		contextFactor(profile, req.Context),
	}

	var weighted, totalWeight float64
	for _, f := range factors {
		weighted += f.Score * f.Weight
		totalWeight += f.Weight
	}
	overall := 0.0
	if totalWeight > 0 {
		overall = weighted / totalWeight
	}

	return &TrustScore{
		Overall:    overall,
		Factors:    factors,
		ComputedAt: req.Timestamp,
	}
}

// ProfileProvider resolves user and device profiles. Implementations
// may consult a directory, a device inventory, or in-memory defaults.
type ProfileProvider interface {
	UserProfile(ctx context.Context, userID string) (*UserProfile, error)
	DeviceProfile(ctx context.Context, deviceID string) (*DeviceProfile, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
