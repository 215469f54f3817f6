package response

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// EscalationRule fires when an execution for a given severity has been
// running longer than the threshold.
type EscalationRule struct {
	ID        string
	Severity  model.Severity
	Threshold time.Duration
	Actions   []string
}

// DefaultEscalationRules returns the built-in SLA rules.
func DefaultEscalationRules() []EscalationRule {
	return []EscalationRule{
		{
			ID:        "critical-escalation",
			Severity:  model.SeverityCritical,
			Threshold: 5 * time.Minute,
			Actions:   []string{"notify_ciso", "activate_crisis_team", "external_notification"},
		},
		{
			ID:        "high-escalation",
			Severity:  model.SeverityHigh,
			Threshold: 15 * time.Minute,
			Actions:   []string{"notify_security_manager", "page_on_call"},
		},
	}
}

// ActiveExecution is the sweeper's view of one in-flight execution.
type ActiveExecution struct {
	ExecutionID string
	EventID     string
	Severity    model.Severity
	StartedAt   time.Time
}

// ExecutionSource lists the executions still in flight. The orchestration
// engine satisfies this.
type ExecutionSource interface {
	ActiveExecutions() []ActiveExecution
}

// EscalationEvent records one fired rule.
type EscalationEvent struct {
	RuleID      string    `json:"rule_id"`
	ExecutionID string    `json:"execution_id"`
	EventID     string    `json:"event_id"`
	Severity    string    `json:"severity"`
	Elapsed     time.Duration `json:"elapsed"`
	Actions     []string  `json:"actions"`
	FiredAt     time.Time `json:"fired_at"`
}

// EscalationSink receives fired escalations (publisher, audit store).
type EscalationSink interface {
	OnEscalation(ctx context.Context, event *EscalationEvent)
}

// Escalator periodically sweeps active executions against the SLA rules
// so an incident cannot silently exceed its response window. A rule fires
// at most once per execution.
type Escalator struct {
	rules    []EscalationRule
	source   ExecutionSource
	notifier *NotifyManager
	sinks    []EscalationSink
	interval time.Duration
	logger   *logger.Logger

	mu    sync.Mutex
	fired map[string]struct{} // executionID + ruleID

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewEscalator creates an escalation sweeper with the built-in rules.
func NewEscalator(source ExecutionSource, notifier *NotifyManager, interval time.Duration, log *logger.Logger) *Escalator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Escalator{
		rules:    DefaultEscalationRules(),
		source:   source,
		notifier: notifier,
		interval: interval,
		logger:   log.WithComponent("escalator"),
		fired:    make(map[string]struct{}),
	}
}

// AddSink registers an additional escalation receiver.
func (e *Escalator) AddSink(sink EscalationSink) {
	e.sinks = append(e.sinks, sink)
}

// Start launches the sweep loop.
func (e *Escalator) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.sweepLoop(ctx)
}

// Stop halts the sweep loop.
func (e *Escalator) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Escalator) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep evaluates every rule against every active execution once.
func (e *Escalator) Sweep(ctx context.Context, now time.Time) {
	active := e.source.ActiveExecutions()
	for _, exec := range active {
		elapsed := now.Sub(exec.StartedAt)
		for _, rule := range e.rules {
			if exec.Severity != rule.Severity || elapsed < rule.Threshold {
				continue
			}
			key := exec.ExecutionID + ":" + rule.ID

			e.mu.Lock()
			if _, done := e.fired[key]; done {
				e.mu.Unlock()
				continue
			}
			e.fired[key] = struct{}{}
			e.mu.Unlock()

			e.fire(ctx, rule, exec, elapsed, now)
		}
	}
}

// Forget clears fired-rule state for a terminal execution.
func (e *Escalator) Forget(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rule := range e.rules {
		delete(e.fired, executionID+":"+rule.ID)
	}
}

func (e *Escalator) fire(ctx context.Context, rule EscalationRule, exec ActiveExecution, elapsed time.Duration, now time.Time) {
	event := &EscalationEvent{
		RuleID:      rule.ID,
		ExecutionID: exec.ExecutionID,
		EventID:     exec.EventID,
		Severity:    string(exec.Severity),
		Elapsed:     elapsed,
		Actions:     rule.Actions,
		FiredAt:     now,
	}

	e.logger.Warn("escalation fired",
		"rule_id", rule.ID,
		"execution_id", exec.ExecutionID,
		"elapsed", elapsed.Round(time.Second))

	subject := fmt.Sprintf("Escalation %s: execution %s", rule.ID, exec.ExecutionID)
	message := fmt.Sprintf(
		"Execution %s (event %s, severity %s) has been running for %s; actions: %v",
		exec.ExecutionID, exec.EventID, exec.Severity,
		elapsed.Round(time.Second), rule.Actions)

	// Channel failures are already isolated and retried inside the
	// notify manager; sweep continues regardless.
	e.notifier.Broadcast(ctx, subject, message)

	for _, sink := range e.sinks {
		sink.OnEscalation(ctx, event)
	}
}
