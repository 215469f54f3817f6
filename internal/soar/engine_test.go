package soar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secops-platform/secops-core/internal/analysis"
	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/internal/playbook"
	"github.com/secops-platform/secops-core/internal/repository"
	apperrors "github.com/secops-platform/secops-core/pkg/errors"
	"github.com/secops-platform/secops-core/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error"})
}

// nopActions completes every automated action immediately.
type nopActions struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (a *nopActions) Execute(ctx context.Context, action string, params map[string]string) (map[string]interface{}, error) {
	a.mu.Lock()
	a.calls = append(a.calls, action)
	shouldFail := a.fail[action]
	a.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if shouldFail {
		return nil, errors.New("action refused")
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func autoPlaybook(id string, priority int, eventType string) *playbook.Playbook {
	return &playbook.Playbook{
		ID: id, Name: id, Enabled: true, Priority: priority,
		Triggers: []playbook.Trigger{{Type: playbook.TriggerEventType, Value: eventType}},
		Steps: []playbook.StepDef{
			{ID: "act", Name: "Act", Type: playbook.StepContainment, Automated: true, Action: "contain"},
		},
	}
}

func newTestEngine(t *testing.T, cfg Config, playbooks ...*playbook.Playbook) (*Engine, *nopActions) {
	t.Helper()
	log := testLogger()
	store := testStore(t, log, playbooks...)
	actions := &nopActions{fail: map[string]bool{}}

	engine := NewEngine(cfg, nil, nil, store, playbook.NewExecutor(actions, time.Second, log), nil, nil, log)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)
	return engine, actions
}

// testStore registers the test's own playbooks on top of the built-ins.
// Tests use event types the built-in library does not trigger on.
func testStore(t *testing.T, log *logger.Logger, playbooks ...*playbook.Playbook) *playbook.Store {
	t.Helper()
	store := playbook.NewStore(log)
	for _, pb := range playbooks {
		require.NoError(t, store.Add(pb))
	}
	return store
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}

// TestCriticalEventBypassesQueue tests that a critical event is processed
// immediately while the drain loop is effectively idle.
func TestCriticalEventBypassesQueue(t *testing.T) {
	cfg := Config{QueueCapacity: 10, DrainInterval: time.Hour, MaxConcurrentRuns: 4}
	engine, actions := newTestEngine(t, cfg, autoPlaybook("contain-critical", 1, "data_exfiltration"))

	event := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityCritical)
	require.NoError(t, engine.SubmitEvent(event))

	waitFor(t, func() bool { return engine.Stats().ExecutionsCompleted == 1 }, "critical event never processed")

	stats := engine.Stats()
	assert.Equal(t, uint64(1), stats.CriticalBypassed)
	assert.Equal(t, 0, stats.QueueDepth)
	actions.mu.Lock()
	defer actions.mu.Unlock()
	assert.Equal(t, []string{"contain"}, actions.calls)
}

// TestQueueFullRejectsEvent tests saturation: sub-critical events beyond
// capacity are rejected with a queue-saturated error and counted dropped.
func TestQueueFullRejectsEvent(t *testing.T) {
	cfg := Config{QueueCapacity: 1, DrainInterval: time.Hour, MaxConcurrentRuns: 4}
	engine, _ := newTestEngine(t, cfg, autoPlaybook("contain", 1, "data_exfiltration"))

	first := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityMedium)
	require.NoError(t, engine.SubmitEvent(first))

	second := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityMedium)
	err := engine.SubmitEvent(second)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeQueueSaturated))

	// A critical event still gets through at saturation.
	critical := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityCritical)
	require.NoError(t, engine.SubmitEvent(critical))

	stats := engine.Stats()
	assert.Equal(t, uint64(1), stats.EventsDropped)
	assert.Equal(t, 1, stats.QueueDepth)
}

// TestDrainProcessesQueuedEvents tests that queued events are picked up on
// the drain tick in FIFO order.
func TestDrainProcessesQueuedEvents(t *testing.T) {
	cfg := Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4}
	engine, _ := newTestEngine(t, cfg, autoPlaybook("contain", 1, "data_exfiltration"))

	for i := 0; i < 3; i++ {
		event := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityMedium)
		require.NoError(t, engine.SubmitEvent(event))
	}

	waitFor(t, func() bool { return engine.Stats().ExecutionsCompleted == 3 }, "queued events never drained")
	assert.Equal(t, 0, engine.Stats().QueueDepth)
}

// TestSinglePlaybookPerEvent tests that only the most urgent matching
// playbook runs for an event even when several match.
func TestSinglePlaybookPerEvent(t *testing.T) {
	cfg := Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4}
	engine, _ := newTestEngine(t, cfg,
		autoPlaybook("broad-sweep", 5, "data_exfiltration"),
		autoPlaybook("urgent-containment", 1, "data_exfiltration"),
	)

	event := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityHigh)
	require.NoError(t, engine.SubmitEvent(event))

	waitFor(t, func() bool { return engine.Stats().ExecutionsCompleted == 1 }, "event never processed")

	executions := engine.ListExecutions()
	require.Len(t, executions, 1)
	assert.Equal(t, "urgent-containment", executions[0].PlaybookID)
	assert.Equal(t, uint64(1), engine.Stats().ExecutionsStarted)
}

// TestUnmatchedEventCounted tests that an event no playbook matches is
// counted and produces no execution.
func TestUnmatchedEventCounted(t *testing.T) {
	cfg := Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4}
	engine, _ := newTestEngine(t, cfg, autoPlaybook("contain", 1, "data_exfiltration"))

	event := model.NewSecurityEvent("dns_tunneling", "dns", model.SeverityMedium)
	require.NoError(t, engine.SubmitEvent(event))

	waitFor(t, func() bool { return engine.Stats().EventsUnmatched == 1 }, "event never drained")
	assert.Empty(t, engine.ListExecutions())
}

// TestSubmitEventValidation tests input guards on submission.
func TestSubmitEventValidation(t *testing.T) {
	cfg := Config{QueueCapacity: 10, DrainInterval: time.Hour}
	engine, _ := newTestEngine(t, cfg)

	require.Error(t, engine.SubmitEvent(nil))

	bad := model.NewSecurityEvent("x", "y", model.Severity("catastrophic"))
	err := engine.SubmitEvent(bad)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}

func manualPlaybook(id, eventType string) *playbook.Playbook {
	return &playbook.Playbook{
		ID: id, Name: id, Enabled: true, Priority: 1,
		Triggers: []playbook.Trigger{{Type: playbook.TriggerEventType, Value: eventType}},
		Steps: []playbook.StepDef{
			{ID: "contain", Name: "Contain", Type: playbook.StepContainment, Automated: true, Action: "contain"},
			{ID: "approve", Name: "Approve Restore", Type: playbook.StepRecovery, Automated: false},
			{ID: "notify", Name: "Notify", Type: playbook.StepNotification, Automated: true, Action: "notify"},
		},
	}
}

// TestManualStepParksAndResumes tests the operator flow: the execution
// parks on the manual step, stays non-terminal, and resumes to completion
// once advanced.
func TestManualStepParksAndResumes(t *testing.T) {
	cfg := Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4}
	engine, _ := newTestEngine(t, cfg, manualPlaybook("account-restore", "account_takeover"))

	event := model.NewSecurityEvent("account_takeover", "iam", model.SeverityHigh)
	require.NoError(t, engine.SubmitEvent(event))

	var execID string
	waitFor(t, func() bool {
		for _, exec := range engine.ListExecutions() {
			if exec.Status == playbook.ExecutionRunning && exec.Steps[1].Status == playbook.StepPending &&
				exec.Steps[0].Status == playbook.StepCompleted {
				execID = exec.ID
				return true
			}
		}
		return false
	}, "execution never parked")

	// Advancing before parking flagged, or on a wrong id, is rejected.
	require.Error(t, engine.AdvanceManualStep("missing", "approve", true, ""))

	require.NoError(t, engine.AdvanceManualStep(execID, "approve", true, "restore approved"))

	waitFor(t, func() bool {
		exec, ok := engine.GetExecution(execID)
		return ok && exec.Status == playbook.ExecutionCompleted
	}, "execution never resumed")

	exec, ok := engine.GetExecution(execID)
	require.True(t, ok)
	assert.Equal(t, playbook.StepCompleted, exec.Steps[1].Status)
	assert.Equal(t, playbook.StepCompleted, exec.Steps[2].Status)
}

// TestCancelParkedExecution tests cooperative cancel of an execution that
// is waiting on an operator.
func TestCancelParkedExecution(t *testing.T) {
	cfg := Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4}
	engine, _ := newTestEngine(t, cfg, manualPlaybook("account-restore", "account_takeover"))

	event := model.NewSecurityEvent("account_takeover", "iam", model.SeverityHigh)
	require.NoError(t, engine.SubmitEvent(event))

	var execID string
	waitFor(t, func() bool {
		for _, exec := range engine.ListExecutions() {
			if !exec.Status.Terminal() && exec.Steps[0].Status == playbook.StepCompleted {
				execID = exec.ID
				return true
			}
		}
		return false
	}, "execution never parked")

	require.NoError(t, engine.CancelExecution(execID))

	exec, ok := engine.GetExecution(execID)
	require.True(t, ok)
	assert.Equal(t, playbook.ExecutionCancelled, exec.Status)
	assert.False(t, exec.EndedAt.IsZero())

	// Terminal executions reject a second cancel.
	err := engine.CancelExecution(execID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeConflict))

	assert.Equal(t, uint64(1), engine.Stats().ExecutionsCancelled)
	require.Error(t, engine.CancelExecution("missing"))
}

// TestFailedExecutionCounted tests that a halting step failure lands in the
// failure counters and the average success rate.
func TestFailedExecutionCounted(t *testing.T) {
	cfg := Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4}
	engine, actions := newTestEngine(t, cfg, autoPlaybook("contain", 1, "data_exfiltration"))
	actions.mu.Lock()
	actions.fail["contain"] = true
	actions.mu.Unlock()

	event := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityMedium)
	require.NoError(t, engine.SubmitEvent(event))

	waitFor(t, func() bool { return engine.Stats().ExecutionsFailed == 1 }, "failure never recorded")

	stats := engine.Stats()
	assert.Equal(t, uint64(0), stats.ExecutionsCompleted)
	assert.InDelta(t, 0.0, stats.AvgSuccessRate, 1e-9)
}

// TestScoringContextAttached tests that the ensemble assessment lands in
// the event context before playbook selection.
func TestScoringContextAttached(t *testing.T) {
	log := testLogger()
	store := testStore(t, log, autoPlaybook("contain", 1, "data_exfiltration"))
	actions := &nopActions{fail: map[string]bool{}}
	scorer := analysis.NewScorer(analysis.NewBaselineRegistry(), log)

	engine := NewEngine(
		Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4},
		nil, scorer, store, playbook.NewExecutor(actions, time.Second, log), nil, nil, log,
	)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	event := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityHigh)
	require.NoError(t, engine.SubmitEvent(event))

	waitFor(t, func() bool { return engine.Stats().ExecutionsCompleted == 1 }, "event never processed")

	executions := engine.ListExecutions()
	require.Len(t, executions, 1)
	ctx := executions[0].Event.Context
	assert.Contains(t, ctx, "risk_score")
	assert.Contains(t, ctx, "kill_chain_stage")
	assert.Contains(t, ctx, "attack_vector")
}

// TestTerminalExecutionPersisted tests that a finished execution and its
// enriched event land in the attached stores.
func TestTerminalExecutionPersisted(t *testing.T) {
	log := testLogger()
	store := testStore(t, log, autoPlaybook("contain-exfil", 1, "data_exfiltration"))
	actions := &nopActions{fail: map[string]bool{}}
	repo := repository.NewMemoryStore()

	engine := NewEngine(
		Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4},
		nil, nil, store, playbook.NewExecutor(actions, time.Second, log), nil, nil, log,
	)
	engine.SetExecutionStore(repo)
	engine.SetEventArchive(repo)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	event := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityMedium)
	require.NoError(t, engine.SubmitEvent(event))

	waitFor(t, func() bool { return engine.Stats().ExecutionsCompleted == 1 }, "execution never completed")

	var persisted []*playbook.Execution
	waitFor(t, func() bool {
		out, err := repo.ListExecutions(context.Background(), 0)
		if err != nil || len(out) != 1 {
			return false
		}
		persisted = out
		return true
	}, "execution never persisted")
	assert.Equal(t, playbook.ExecutionCompleted, persisted[0].Status)
	assert.Equal(t, event.ID, persisted[0].EventID)
	assert.False(t, persisted[0].EndedAt.IsZero())

	archived := repo.ArchivedEvents()
	require.Len(t, archived, 1)
	assert.Equal(t, event.ID, archived[0].ID)
}

// TestCancelledExecutionPersisted tests that cancelling a parked
// execution also writes the terminal snapshot through the store.
func TestCancelledExecutionPersisted(t *testing.T) {
	log := testLogger()
	store := testStore(t, log, manualPlaybook("manual-review", "account_takeover"))
	actions := &nopActions{fail: map[string]bool{}}
	repo := repository.NewMemoryStore()

	engine := NewEngine(
		Config{QueueCapacity: 10, DrainInterval: 5 * time.Millisecond, MaxConcurrentRuns: 4},
		nil, nil, store, playbook.NewExecutor(actions, time.Second, log), nil, nil, log,
	)
	engine.SetExecutionStore(repo)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	require.NoError(t, engine.SubmitEvent(model.NewSecurityEvent("account_takeover", "idp", model.SeverityMedium)))

	var execID string
	waitFor(t, func() bool {
		for _, exec := range engine.ListExecutions() {
			if !exec.Status.Terminal() && exec.Steps[0].Status == playbook.StepCompleted {
				execID = exec.ID
				return true
			}
		}
		return false
	}, "execution never parked")

	require.NoError(t, engine.CancelExecution(execID))

	persisted, err := repo.GetExecution(context.Background(), execID)
	require.NoError(t, err)
	assert.Equal(t, playbook.ExecutionCancelled, persisted.Status)
}

// TestCriticalSubmitBeforeStart tests that the bypass path works on an
// engine whose drain loop has not been started yet.
func TestCriticalSubmitBeforeStart(t *testing.T) {
	log := testLogger()
	store := testStore(t, log, autoPlaybook("contain", 1, "data_exfiltration"))
	actions := &nopActions{fail: map[string]bool{}}

	engine := NewEngine(
		Config{QueueCapacity: 10, DrainInterval: time.Hour, MaxConcurrentRuns: 4},
		nil, nil, store, playbook.NewExecutor(actions, time.Second, log), nil, nil, log,
	)
	t.Cleanup(engine.Stop)

	event := model.NewSecurityEvent("data_exfiltration", "edr", model.SeverityCritical)
	require.NoError(t, engine.SubmitEvent(event))

	waitFor(t, func() bool { return engine.Stats().ExecutionsCompleted == 1 }, "bypassed event never processed")
	assert.Equal(t, uint64(1), engine.Stats().CriticalBypassed)
}
