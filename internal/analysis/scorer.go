package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/secops-platform/secops-core/internal/intel"
	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// Ensemble weights. The four models contribute fixed shares of the final
// risk score.
const (
	weightBehavioral  = 0.30
	weightPattern     = 0.25
	weightAnomaly     = 0.20
	weightThreatIntel = 0.25
)

// ClassifierVersion identifies the decision rules in effect. Bump on any
// change to weights, patterns, or feature extraction.
const ClassifierVersion = "ensemble-v2"

// Per-model accuracy figures from offline evaluation, used to derive the
// assessment confidence.
var modelAccuracy = map[string]float64{
	"behavioral":   0.87,
	"pattern":      0.92,
	"anomaly":      0.84,
	"threat_intel": 0.90,
}

// ModelScores carries the per-model outputs, each in [0,1].
type ModelScores struct {
	Behavioral  float64 `json:"behavioral"`
	Pattern     float64 `json:"pattern"`
	Anomaly     float64 `json:"anomaly"`
	ThreatIntel float64 `json:"threat_intel"`
}

// Anomaly is one flagged statistical deviation.
type Anomaly struct {
	Category string  `json:"category"`
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	ZScore   float64 `json:"z_score"`
	Severity string  `json:"severity"`
}

// Assessment is the scored output for one event.
type Assessment struct {
	EventID            string        `json:"event_id"`
	RiskScore          float64       `json:"risk_score"` // 0-100
	Confidence         float64       `json:"confidence"`
	ModelScores        ModelScores   `json:"model_scores"`
	MatchedPatterns    []string      `json:"matched_patterns,omitempty"`
	Anomalies          []Anomaly     `json:"anomalies,omitempty"`
	KillChainStage     string        `json:"kill_chain_stage"`
	PredictedImpact    string        `json:"predicted_impact"`
	AttackVector       string        `json:"attack_vector"`
	RecommendedActions []string      `json:"recommended_actions"`
	ContainmentETA     time.Duration `json:"containment_eta"`
	ClassifierVersion  string        `json:"classifier_version"`
}

// metricBindings maps event context keys onto baseline category/metric
// pairs for the behavioral and anomaly models.
var metricBindings = []struct {
	contextKey string
	category   string
	metric     string
}{
	{"process_creation_rate", "process_behavior", "creation_rate"},
	{"memory_usage", "process_behavior", "memory_usage"},
	{"network_bandwidth", "network_traffic", "bandwidth"},
	{"connection_count", "network_traffic", "connection_count"},
}

// Scorer runs the four-model ensemble over enriched events.
type Scorer struct {
	baselines *BaselineRegistry
	patterns  []ThreatPattern
	logger    *logger.Logger

	retrainInterval time.Duration
	wg              sync.WaitGroup
	cancel          context.CancelFunc
}

// NewScorer creates a scorer with the built-in pattern library and seeded
// baselines.
func NewScorer(baselines *BaselineRegistry, log *logger.Logger) *Scorer {
	return &Scorer{
		baselines:       baselines,
		patterns:        DefaultThreatPatterns(),
		logger:          log.WithComponent("ensemble_scorer"),
		retrainInterval: time.Hour,
	}
}

// Start launches the periodic baseline retraining loop.
func (s *Scorer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.retrainLoop(ctx)
}

// Stop halts the retraining loop.
func (s *Scorer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Score runs all four models over the event and combines them with the
// fixed ensemble weights. The result is deterministic for a given event
// and baseline state.
func (s *Scorer) Score(event *model.SecurityEvent) *Assessment {
	behavioral := s.scoreBehavioral(event)
	pattern, matched := s.scorePattern(event)
	anomaly, anomalies := s.scoreAnomaly(event)
	threatIntel := s.scoreThreatIntel(event)

	total := behavioral*weightBehavioral +
		pattern*weightPattern +
		anomaly*weightAnomaly +
		threatIntel*weightThreatIntel

	riskScore := total * 100
	if riskScore > 100 {
		riskScore = 100
	}

	assessment := &Assessment{
		EventID: event.ID,
		ModelScores: ModelScores{
			Behavioral:  behavioral,
			Pattern:     pattern,
			Anomaly:     anomaly,
			ThreatIntel: threatIntel,
		},
		RiskScore:          riskScore,
		Confidence:         ensembleConfidence(),
		MatchedPatterns:    matched,
		Anomalies:          anomalies,
		KillChainStage:     killChainStage(riskScore),
		PredictedImpact:    predictedImpact(riskScore),
		AttackVector:       attackVector(event.Indicators),
		RecommendedActions: recommendedActions(riskScore),
		ContainmentETA:     containmentETA(riskScore),
		ClassifierVersion:  ClassifierVersion,
	}

	s.logger.Debug("event scored",
		"event_id", event.ID,
		"risk_score", riskScore,
		"kill_chain", assessment.KillChainStage)
	return assessment
}

// scoreBehavioral measures deviation of rate-like features from their
// baselines, normalized as min(deviation/3, 1), and records the samples
// for retraining.
func (s *Scorer) scoreBehavioral(event *model.SecurityEvent) float64 {
	var maxDeviation float64
	found := false
	for _, binding := range metricBindings {
		value, ok := contextFloat(event, binding.contextKey)
		if !ok {
			continue
		}
		found = true
		s.baselines.Observe(binding.category, binding.metric, value)
		if z := s.baselines.ZScore(binding.category, binding.metric, value); z > maxDeviation {
			maxDeviation = z
		}
	}
	if !found {
		return 0
	}
	score := maxDeviation / 3
	if score > 1 {
		score = 1
	}
	return score
}

// scorePattern matches the event's observables against the pattern
// library. A pattern counts as matched above 0.7; the model score is the
// best match.
func (s *Scorer) scorePattern(event *model.SecurityEvent) (float64, []string) {
	observables := eventObservables(event)

	var best float64
	var matched []string
	for _, p := range s.patterns {
		score := p.matchScore(observables)
		if score > best {
			best = score
		}
		if score > 0.7 {
			matched = append(matched, p.ID)
		}
	}
	return best, matched
}

// scoreAnomaly flags metrics exceeding two standard deviations and
// normalizes the worst z-score as min(z/4, 1).
func (s *Scorer) scoreAnomaly(event *model.SecurityEvent) (float64, []Anomaly) {
	var worst float64
	var flagged []Anomaly
	for _, binding := range metricBindings {
		value, ok := contextFloat(event, binding.contextKey)
		if !ok {
			continue
		}
		z := s.baselines.ZScore(binding.category, binding.metric, value)
		if z > worst {
			worst = z
		}
		if z > 2.0 {
			flagged = append(flagged, Anomaly{
				Category: binding.category,
				Metric:   binding.metric,
				Value:    value,
				ZScore:   z,
				Severity: anomalySeverity(z),
			})
		}
	}
	score := worst / 4
	if score > 1 {
		score = 1
	}
	return score, flagged
}

// scoreThreatIntel is a presence-weighted sum over the event's indicator
// classes: any indicators 0.3, IPs 0.2, domains 0.2, hashes 0.3.
func (s *Scorer) scoreThreatIntel(event *model.SecurityEvent) float64 {
	if len(event.Indicators) == 0 {
		return 0
	}

	var hasIP, hasDomain, hasHash bool
	for _, indicator := range event.Indicators {
		switch intel.Classify(indicator) {
		case intel.IOCTypeIP:
			hasIP = true
		case intel.IOCTypeDomain, intel.IOCTypeURL:
			hasDomain = true
		case intel.IOCTypeHash:
			hasHash = true
		}
	}

	score := 0.3
	if hasIP {
		score += 0.2
	}
	if hasDomain {
		score += 0.2
	}
	if hasHash {
		score += 0.3
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (s *Scorer) retrainLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updated := s.baselines.Retrain(0.2)
			if updated > 0 {
				s.logger.Info("baselines retrained", "updated", updated)
			}
		}
	}
}

func ensembleConfidence() float64 {
	return modelAccuracy["behavioral"]*weightBehavioral +
		modelAccuracy["pattern"]*weightPattern +
		modelAccuracy["anomaly"]*weightAnomaly +
		modelAccuracy["threat_intel"]*weightThreatIntel
}

func killChainStage(riskScore float64) string {
	switch {
	case riskScore > 80:
		return "impact"
	case riskScore > 60:
		return "lateral_movement"
	case riskScore > 40:
		return "execution"
	default:
		return "initial_access"
	}
}

func predictedImpact(riskScore float64) string {
	switch {
	case riskScore > 80:
		return "critical"
	case riskScore > 60:
		return "high"
	case riskScore > 40:
		return "medium"
	default:
		return "low"
	}
}

func containmentETA(riskScore float64) time.Duration {
	switch {
	case riskScore > 80:
		return 15 * time.Minute
	case riskScore > 60:
		return 60 * time.Minute
	case riskScore > 40:
		return 240 * time.Minute
	default:
		return 1440 * time.Minute
	}
}

func recommendedActions(riskScore float64) []string {
	switch {
	case riskScore > 80:
		return []string{"isolate_affected_systems", "activate_incident_response", "notify_leadership"}
	case riskScore > 60:
		return []string{"isolate_affected_systems", "collect_forensics", "increase_monitoring"}
	case riskScore > 40:
		return []string{"collect_forensics", "increase_monitoring"}
	default:
		return []string{"monitor"}
	}
}

// attackVector is a fixed precedence rule over observed indicator types:
// email indicators imply an email vector, URLs and domains a web vector,
// IPs a network vector, hashes and files an endpoint vector.
func attackVector(indicators []string) string {
	var hasEmail, hasWeb, hasNetwork, hasEndpoint bool
	for _, indicator := range indicators {
		switch intel.Classify(indicator) {
		case intel.IOCTypeEmail:
			hasEmail = true
		case intel.IOCTypeURL, intel.IOCTypeDomain:
			hasWeb = true
		case intel.IOCTypeIP:
			hasNetwork = true
		case intel.IOCTypeHash, intel.IOCTypeFile:
			hasEndpoint = true
		}
	}
	switch {
	case hasEmail:
		return "email"
	case hasWeb:
		return "web"
	case hasNetwork:
		return "network"
	case hasEndpoint:
		return "endpoint"
	default:
		return "unknown"
	}
}

func anomalySeverity(z float64) string {
	switch {
	case z > 4:
		return "critical"
	case z > 3:
		return "high"
	default:
		return "medium"
	}
}

func contextFloat(event *model.SecurityEvent, key string) (float64, bool) {
	raw, ok := event.Context[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// eventObservables flattens the strings a pattern can match against.
func eventObservables(event *model.SecurityEvent) []string {
	observables := make([]string, 0, len(event.Indicators)+len(event.Context)+2)
	observables = append(observables, event.Type, event.Source)
	observables = append(observables, event.Indicators...)
	for _, v := range event.Context {
		if s, ok := v.(string); ok {
			observables = append(observables, s)
		}
		if list, ok := v.([]string); ok {
			observables = append(observables, list...)
		}
	}
	return observables
}
