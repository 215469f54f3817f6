// Package defense executes autonomous containment actions against
// classified threats and scores their effectiveness.
package defense

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// ActionType is one concrete defensive measure.
type ActionType string

const (
	ActionIsolate     ActionType = "isolate"
	ActionBlock       ActionType = "block"
	ActionQuarantine  ActionType = "quarantine"
	ActionPatch       ActionType = "patch"
	ActionUpdate      ActionType = "update"
	ActionReconfigure ActionType = "reconfigure"
)

// Capability is the operational profile of an action type. It informs
// monitoring and reporting, not execution gating.
type Capability struct {
	Automated             bool
	ExpectedDuration      time.Duration
	BaselineEffectiveness float64
}

// capabilities is the fixed capability table per action type.
var capabilities = map[ActionType]Capability{
	ActionIsolate:     {Automated: true, ExpectedDuration: 30 * time.Second, BaselineEffectiveness: 0.95},
	ActionBlock:       {Automated: true, ExpectedDuration: 10 * time.Second, BaselineEffectiveness: 0.90},
	ActionQuarantine:  {Automated: true, ExpectedDuration: 20 * time.Second, BaselineEffectiveness: 0.92},
	ActionPatch:       {Automated: true, ExpectedDuration: 10 * time.Minute, BaselineEffectiveness: 0.85},
	ActionUpdate:      {Automated: true, ExpectedDuration: 5 * time.Minute, BaselineEffectiveness: 0.80},
	ActionReconfigure: {Automated: false, ExpectedDuration: 30 * time.Minute, BaselineEffectiveness: 0.75},
}

// CapabilityFor returns the profile for an action type.
func CapabilityFor(t ActionType) (Capability, bool) {
	c, ok := capabilities[t]
	return c, ok
}

// Action is one concrete defensive measure against a target.
type Action struct {
	ID        string                 `json:"id"`
	Type      ActionType             `json:"type"`
	Connector string                 `json:"connector_action"`
	Target    string                 `json:"target"`
	Automated bool                   `json:"automated"`
	Executed  bool                   `json:"executed"`
	Success   bool                   `json:"success"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
}

// Response aggregates the actions taken for one threat. Effectiveness is
// successful automated actions over total actions.
type Response struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	ThreatType    string     `json:"threat_type"`
	Actions       []Action   `json:"actions"`
	Effectiveness float64    `json:"effectiveness"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ActionRunner executes a named connector action. The connector registry
// satisfies this.
type ActionRunner interface {
	Execute(ctx context.Context, action string, params map[string]string) (map[string]interface{}, error)
}

// StrategyImprover is the hook invoked when a response scores below the
// effectiveness floor. Implementations feed future tuning; the default
// only records the occurrence.
type StrategyImprover interface {
	OnLowEffectiveness(ctx context.Context, response *Response)
}

// effectivenessFloor is the score below which the improvement hook fires.
const effectivenessFloor = 0.8

// Engine maps threat types onto containment actions and runs them.
type Engine struct {
	runner   ActionRunner
	improver StrategyImprover
	logger   *logger.Logger

	responses     atomic.Uint64
	lowEffective  atomic.Uint64
	actionsFailed atomic.Uint64
}

// NewEngine creates a defense engine. improver may be nil.
func NewEngine(runner ActionRunner, improver StrategyImprover, log *logger.Logger) *Engine {
	return &Engine{
		runner:   runner,
		improver: improver,
		logger:   log.WithComponent("defense_engine"),
	}
}

// plannedAction is one entry in the threat response plan.
type plannedAction struct {
	actionType ActionType
	connector  string
	paramKey   string
	contextKey string
	fallback   func(*model.SecurityEvent) string
}

// threatPlans is the fixed threat-type to action mapping.
var threatPlans = map[string][]plannedAction{
	"malware": {
		{actionType: ActionIsolate, connector: "isolate_host", paramKey: "host", contextKey: "hostname"},
		{actionType: ActionQuarantine, connector: "quarantine_file", paramKey: "hash", fallback: firstIndicator},
	},
	"network_intrusion": {
		{actionType: ActionBlock, connector: "block_ip", paramKey: "ip", contextKey: "source_ip", fallback: firstIndicator},
	},
	"privilege_escalation": {
		{actionType: ActionIsolate, connector: "disable_account", paramKey: "user", contextKey: "username"},
		{actionType: ActionIsolate, connector: "terminate_sessions", paramKey: "user", contextKey: "username"},
	},
}

func firstIndicator(event *model.SecurityEvent) string {
	if len(event.Indicators) > 0 {
		return event.Indicators[0]
	}
	return ""
}

// Respond executes the mapped containment actions for the event's threat
// type. Unknown threat types yield a response with no actions. Automated
// actions run immediately and independently; one failure never stops the
// rest.
func (e *Engine) Respond(ctx context.Context, event *model.SecurityEvent) *Response {
	response := &Response{
		ID:         uuid.New().String(),
		EventID:    event.ID,
		ThreatType: event.Type,
		CreatedAt:  time.Now().UTC(),
	}
	e.responses.Add(1)

	plan, ok := threatPlans[event.Type]
	if !ok {
		e.logger.Debug("no defense plan for threat type", "threat_type", event.Type)
		return response
	}

	for _, planned := range plan {
		action := e.runAction(ctx, planned, event)
		response.Actions = append(response.Actions, action)
		if action.Executed && !action.Success {
			e.actionsFailed.Add(1)
		}
	}

	response.Effectiveness = effectiveness(response.Actions)
	if response.Effectiveness < effectivenessFloor && len(response.Actions) > 0 {
		e.lowEffective.Add(1)
		e.logger.Warn("response below effectiveness floor",
			"response_id", response.ID,
			"effectiveness", response.Effectiveness)
		if e.improver != nil {
			e.improver.OnLowEffectiveness(ctx, response)
		}
	}

	return response
}

func (e *Engine) runAction(ctx context.Context, planned plannedAction, event *model.SecurityEvent) Action {
	capability := capabilities[planned.actionType]

	target := ""
	if planned.contextKey != "" {
		if v, ok := event.Context[planned.contextKey].(string); ok {
			target = v
		}
	}
	if target == "" && planned.fallback != nil {
		target = planned.fallback(event)
	}

	action := Action{
		ID:        uuid.New().String(),
		Type:      planned.actionType,
		Connector: planned.connector,
		Target:    target,
		Automated: capability.Automated,
	}

	if !capability.Automated {
		// Manual measures are recorded for the report but not executed.
		return action
	}
	if target == "" {
		action.Error = "no target resolvable from event"
		return action
	}

	start := time.Now()
	result, err := e.runner.Execute(ctx, planned.connector, map[string]string{planned.paramKey: target})
	action.Duration = time.Since(start)
	action.Executed = true

	if err != nil {
		action.Error = err.Error()
		e.logger.Warn("defense action failed",
			"action", planned.connector, "target", target, "error", err)
		return action
	}
	action.Success = true
	action.Result = result
	return action
}

// effectiveness is successful automated actions over total actions.
func effectiveness(actions []Action) float64 {
	if len(actions) == 0 {
		return 0
	}
	successful := 0
	for _, a := range actions {
		if a.Automated && a.Executed && a.Success {
			successful++
		}
	}
	return float64(successful) / float64(len(actions))
}

// Stats carries cumulative defense counters.
type Stats struct {
	Responses     uint64 `json:"responses"`
	LowEffective  uint64 `json:"low_effectiveness_responses"`
	ActionsFailed uint64 `json:"actions_failed"`
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Responses:     e.responses.Load(),
		LowEffective:  e.lowEffective.Load(),
		ActionsFailed: e.actionsFailed.Load(),
	}
}

// LogImprover is the default strategy hook. It records low-effectiveness
// responses for offline review.
type LogImprover struct {
	logger *logger.Logger
	count  atomic.Uint64
}

// NewLogImprover creates the default improver.
func NewLogImprover(log *logger.Logger) *LogImprover {
	return &LogImprover{logger: log.WithComponent("strategy_improver")}
}

// OnLowEffectiveness records the response for later strategy review.
func (l *LogImprover) OnLowEffectiveness(ctx context.Context, response *Response) {
	l.count.Add(1)
	l.logger.Info("strategy review queued",
		"response_id", response.ID,
		"threat_type", response.ThreatType,
		"effectiveness", response.Effectiveness,
		"actions", len(response.Actions))
}

// Reviewed returns how many responses were queued for review.
func (l *LogImprover) Reviewed() uint64 { return l.count.Load() }
