package intel

import (
	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// MatchedIndicator is the context payload attached per IOC hit.
type MatchedIndicator struct {
	Value       string  `json:"value"`
	Type        IOCType `json:"type"`
	Confidence  float64 `json:"confidence"`
	Severity    string  `json:"severity"`
	Source      string  `json:"source"`
	ThreatActor string  `json:"threat_actor,omitempty"`
}

// Enricher annotates events with stored threat intelligence.
type Enricher struct {
	store  *Store
	logger *logger.Logger
}

// NewEnricher creates an enricher over the IOC store.
func NewEnricher(store *Store, log *logger.Logger) *Enricher {
	return &Enricher{
		store:  store,
		logger: log.WithComponent("intel_enricher"),
	}
}

// EnrichEvent looks up every event indicator against the store. A hit with
// confidence above 0.8 and critical severity escalates the event to
// critical. Matched IOC metadata and threat actor identities are attached
// to the event context. Returns the number of matches.
func (e *Enricher) EnrichEvent(event *model.SecurityEvent) int {
	if event == nil {
		return 0
	}

	var matches []MatchedIndicator
	var actors []string
	escalated := false

	for _, indicator := range event.Indicators {
		ioc, ok := e.store.Lookup(indicator)
		if !ok {
			continue
		}

		matches = append(matches, MatchedIndicator{
			Value:       ioc.Value,
			Type:        ioc.Type,
			Confidence:  ioc.Confidence,
			Severity:    string(ioc.Severity),
			Source:      ioc.Source,
			ThreatActor: ioc.ThreatActor,
		})
		if ioc.ThreatActor != "" {
			actors = append(actors, ioc.ThreatActor)
		}

		if ioc.Confidence > 0.8 && ioc.Severity == model.SeverityCritical {
			escalated = true
		}
	}

	if len(matches) == 0 {
		return 0
	}

	event.SetContext("threat_intel_matches", matches)
	if len(actors) > 0 {
		event.SetContext("threat_actors", dedupe(actors))
	}
	if escalated && event.Severity != model.SeverityCritical {
		event.SetContext("severity_escalated_from", string(event.Severity))
		event.Severity = model.SeverityCritical
		e.logger.Info("event severity escalated by threat intel",
			"event_id", event.ID, "matches", len(matches))
	}

	return len(matches)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
