package soar

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/secops-platform/secops-core/internal/analysis"
	"github.com/secops-platform/secops-core/internal/defense"
	"github.com/secops-platform/secops-core/internal/intel"
	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/internal/playbook"
	"github.com/secops-platform/secops-core/internal/response"
	apperrors "github.com/secops-platform/secops-core/pkg/errors"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// Config holds the engine's tunables.
type Config struct {
	QueueCapacity     int
	DrainInterval     time.Duration
	MaxConcurrentRuns int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     1000,
		DrainInterval:     500 * time.Millisecond,
		MaxConcurrentRuns: 10,
	}
}

// Stats is the engine's aggregate metric snapshot.
type Stats struct {
	EventsSubmitted     uint64  `json:"events_submitted"`
	EventsDropped       uint64  `json:"events_dropped"`
	CriticalBypassed    uint64  `json:"critical_bypassed"`
	EventsUnmatched     uint64  `json:"events_unmatched"`
	ExecutionsStarted   uint64  `json:"executions_started"`
	ExecutionsCompleted uint64  `json:"executions_completed"`
	ExecutionsFailed    uint64  `json:"executions_failed"`
	ExecutionsCancelled uint64  `json:"executions_cancelled"`
	QueueDepth          int     `json:"queue_depth"`
	ActiveExecutions    int     `json:"active_executions"`
	AvgSuccessRate      float64 `json:"avg_success_rate"`
	AvgMTTRSeconds      float64 `json:"avg_mttr_seconds"`
}

// ExecutionStore persists terminal execution snapshots for retrieval
// after the process restarts.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *playbook.Execution) error
}

// EventArchive stores enriched events for retrospective analysis.
type EventArchive interface {
	ArchiveEvent(ctx context.Context, event *model.SecurityEvent) error
}

// track is the engine's record of one execution. The runner goroutine is
// the only mutator of exec while running; mu guards the parked and
// terminal transitions plus snapshot publication.
type track struct {
	mu       sync.Mutex
	exec     *playbook.Execution
	pb       *playbook.Playbook
	cancel   context.CancelFunc
	ctx      context.Context
	parked   bool
	snapshot *playbook.Execution
}

func (t *track) publish() {
	copied := *t.exec
	copied.Steps = append([]playbook.StepResult(nil), t.exec.Steps...)
	t.snapshot = &copied
}

// Engine is the SOAR orchestrator.
type Engine struct {
	cfg          Config
	queue        *eventQueue
	enricher     *intel.Enricher
	scorer       *analysis.Scorer
	playbooks    *playbook.Store
	executor     *playbook.Executor
	defense      *defense.Engine
	orchestrator *response.Orchestrator
	execStore    ExecutionStore
	archive      EventArchive
	logger       *logger.Logger

	mu         sync.RWMutex
	executions map[string]*track

	sem chan struct{}

	submitted     atomic.Uint64
	dropped       atomic.Uint64
	bypassed      atomic.Uint64
	unmatched     atomic.Uint64
	started       atomic.Uint64
	completed     atomic.Uint64
	failed        atomic.Uint64
	cancelledN    atomic.Uint64
	successRateMu sync.Mutex
	successRates  []float64
	mttrs         []time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// NewEngine wires the orchestrator over its collaborators.
func NewEngine(
	cfg Config,
	enricher *intel.Enricher,
	scorer *analysis.Scorer,
	playbooks *playbook.Store,
	executor *playbook.Executor,
	defenseEngine *defense.Engine,
	orchestrator *response.Orchestrator,
	log *logger.Logger,
) *Engine {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultConfig().DrainInterval
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultConfig().MaxConcurrentRuns
	}
	return &Engine{
		cfg:          cfg,
		queue:        newEventQueue(cfg.QueueCapacity),
		enricher:     enricher,
		scorer:       scorer,
		playbooks:    playbooks,
		executor:     executor,
		defense:      defenseEngine,
		orchestrator: orchestrator,
		logger:       log.WithComponent("soar_engine"),
		executions:   make(map[string]*track),
		sem:          make(chan struct{}, cfg.MaxConcurrentRuns),
	}
}

// SetExecutionStore attaches durable execution persistence. Must be
// called before Start.
func (e *Engine) SetExecutionStore(store ExecutionStore) { e.execStore = store }

// SetEventArchive attaches the enriched-event archive. Must be called
// before Start.
func (e *Engine) SetEventArchive(archive EventArchive) { e.archive = archive }

// Start launches the queue drain loop.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.drainLoop(e.ctx)
	e.logger.Info("engine started",
		"queue_capacity", e.cfg.QueueCapacity,
		"drain_interval", e.cfg.DrainInterval)
}

// Stop halts the drain loop and waits for in-flight runners.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// SubmitEvent accepts an event for processing. Critical events bypass
// the queue and are processed immediately; others join the FIFO. A full
// queue rejects the event.
func (e *Engine) SubmitEvent(event *model.SecurityEvent) error {
	if event == nil {
		return apperrors.BadRequest("event is nil")
	}
	if !event.Severity.Valid() {
		return apperrors.Validation("unknown severity")
	}
	e.submitted.Add(1)

	if event.Severity == model.SeverityCritical {
		e.bypassed.Add(1)
		ctx := e.runCtx()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.processEvent(ctx, event)
		}()
		return nil
	}

	if !e.queue.push(event) {
		e.dropped.Add(1)
		return apperrors.New(apperrors.CodeQueueSaturated, "event queue is full")
	}
	return nil
}

// runCtx returns the engine's lifecycle context. Before Start the
// engine has none, so bypassed work runs under the background context.
func (e *Engine) runCtx() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

func (e *Engine) drainLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				event := e.queue.pop()
				if event == nil {
					break
				}
				e.processEvent(ctx, event)
			}
		}
	}
}

// processEvent runs the pipeline for one event: enrichment, ensemble
// scoring, playbook selection, and execution. Only the single
// highest-priority matching playbook runs, so one event never triggers
// conflicting automated actions.
func (e *Engine) processEvent(ctx context.Context, event *model.SecurityEvent) {
	log := e.logger.With("event_id", event.ID, "event_type", event.Type)

	if e.enricher != nil {
		e.enricher.EnrichEvent(event)
	}
	if e.scorer != nil {
		assessment := e.scorer.Score(event)
		event.SetContext("risk_score", assessment.RiskScore)
		event.SetContext("kill_chain_stage", assessment.KillChainStage)
		event.SetContext("attack_vector", assessment.AttackVector)
		event.SetContext("assessment", assessment)
	}

	if e.archive != nil {
		if err := e.archive.ArchiveEvent(ctx, event.Clone()); err != nil {
			log.Warn("archive event", "error", err)
		}
	}

	// Autonomous containment runs alongside playbook response for
	// high-severity threats with a defense plan.
	if e.defense != nil && event.Severity.AtLeast(model.SeverityHigh) {
		readOnly := event.Clone()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.defense.Respond(ctx, readOnly)
		}()
	}

	matched := e.playbooks.FindMatching(event)
	if len(matched) == 0 {
		e.unmatched.Add(1)
		log.Debug("no playbook matched")
		return
	}
	selected := matched[0]

	exec := playbook.NewExecution(selected, event)
	runCtx, cancel := context.WithCancel(ctx)
	t := &track{exec: exec, pb: selected, cancel: cancel, ctx: runCtx}
	t.publish()

	e.mu.Lock()
	e.executions[exec.ID] = t
	e.mu.Unlock()
	e.started.Add(1)

	log.Info("execution started",
		"execution_id", exec.ID, "playbook_id", selected.ID)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runExecution(t)
	}()
}

// runExecution drives the execution until terminal or parked. The runner
// goroutine exclusively owns t.exec while it runs.
func (e *Engine) runExecution(t *track) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	parked := e.executor.Run(t.ctx, t.pb, t.exec)

	t.mu.Lock()
	t.parked = parked
	t.publish()
	terminal := t.exec.Status.Terminal()
	t.mu.Unlock()

	if terminal {
		e.onTerminal(t)
	}
}

func (e *Engine) onTerminal(t *track) {
	switch t.exec.Status {
	case playbook.ExecutionCompleted:
		e.completed.Add(1)
	case playbook.ExecutionFailed:
		e.failed.Add(1)
	case playbook.ExecutionCancelled:
		e.cancelledN.Add(1)
	}

	e.successRateMu.Lock()
	e.successRates = append(e.successRates, t.exec.Metrics.SuccessRate)
	e.mttrs = append(e.mttrs, t.exec.Metrics.MTTR)
	e.successRateMu.Unlock()

	if e.execStore != nil {
		t.mu.Lock()
		snap := t.snapshot
		t.mu.Unlock()
		if err := e.execStore.SaveExecution(e.runCtx(), snap); err != nil {
			e.logger.Error("persist execution", "execution_id", snap.ID, "error", err)
		}
	}

	if e.orchestrator != nil {
		e.orchestrator.HandleCompleted(e.runCtx(), t.exec, t.pb)
	}
}

// CancelExecution marks an execution cancelled. Cancellation is
// cooperative: the run context is cancelled so an in-flight action can
// observe it, and no further steps are scheduled.
func (e *Engine) CancelExecution(id string) error {
	e.mu.RLock()
	t, ok := e.executions[id]
	e.mu.RUnlock()
	if !ok {
		return apperrors.NotFound("execution")
	}

	t.mu.Lock()
	if t.exec.Status.Terminal() {
		t.mu.Unlock()
		return apperrors.Conflict("execution already terminal")
	}
	t.cancel()
	if t.parked {
		// No runner goroutine is active while parked; finalize here.
		t.exec.Status = playbook.ExecutionCancelled
		t.exec.EndedAt = time.Now().UTC()
		t.exec.ComputeMetrics()
		t.parked = false
		t.publish()
		t.mu.Unlock()
		e.onTerminal(t)
		return nil
	}
	t.mu.Unlock()
	return nil
}

// AdvanceManualStep resolves a parked manual step and resumes the
// execution.
func (e *Engine) AdvanceManualStep(executionID, stepID string, completedStep bool, note string) error {
	e.mu.RLock()
	t, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return apperrors.NotFound("execution")
	}

	t.mu.Lock()
	if !t.parked {
		t.mu.Unlock()
		return apperrors.Conflict("execution is not awaiting an operator")
	}
	if err := e.executor.AdvanceManualStep(t.exec, stepID, completedStep, note); err != nil {
		t.mu.Unlock()
		return err
	}
	t.parked = false
	t.publish()
	t.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runExecution(t)
	}()
	return nil
}

// GetExecution returns a snapshot of one execution.
func (e *Engine) GetExecution(id string) (*playbook.Execution, bool) {
	e.mu.RLock()
	t, ok := e.executions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot, true
}

// ListExecutions returns snapshots of all tracked executions.
func (e *Engine) ListExecutions() []*playbook.Execution {
	e.mu.RLock()
	tracks := make([]*track, 0, len(e.executions))
	for _, t := range e.executions {
		tracks = append(tracks, t)
	}
	e.mu.RUnlock()

	out := make([]*playbook.Execution, 0, len(tracks))
	for _, t := range tracks {
		t.mu.Lock()
		out = append(out, t.snapshot)
		t.mu.Unlock()
	}
	return out
}

// ActiveExecutions lists non-terminal executions for the escalation
// sweep.
func (e *Engine) ActiveExecutions() []response.ActiveExecution {
	e.mu.RLock()
	tracks := make([]*track, 0, len(e.executions))
	for _, t := range e.executions {
		tracks = append(tracks, t)
	}
	e.mu.RUnlock()

	var active []response.ActiveExecution
	for _, t := range tracks {
		t.mu.Lock()
		snap := t.snapshot
		t.mu.Unlock()
		if snap.Status.Terminal() {
			continue
		}
		severity := model.SeverityMedium
		if snap.Event != nil {
			severity = snap.Event.Severity
		}
		active = append(active, response.ActiveExecution{
			ExecutionID: snap.ID,
			EventID:     snap.EventID,
			Severity:    severity,
			StartedAt:   snap.StartedAt,
		})
	}
	return active
}

// Stats returns the engine's aggregate metrics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	active := 0
	for _, t := range e.executions {
		t.mu.Lock()
		if !t.snapshot.Status.Terminal() {
			active++
		}
		t.mu.Unlock()
	}
	e.mu.RUnlock()

	e.successRateMu.Lock()
	var rateSum float64
	for _, r := range e.successRates {
		rateSum += r
	}
	var mttrSum time.Duration
	for _, m := range e.mttrs {
		mttrSum += m
	}
	n := len(e.successRates)
	e.successRateMu.Unlock()

	stats := Stats{
		EventsSubmitted:     e.submitted.Load(),
		EventsDropped:       e.dropped.Load(),
		CriticalBypassed:    e.bypassed.Load(),
		EventsUnmatched:     e.unmatched.Load(),
		ExecutionsStarted:   e.started.Load(),
		ExecutionsCompleted: e.completed.Load(),
		ExecutionsFailed:    e.failed.Load(),
		ExecutionsCancelled: e.cancelledN.Load(),
		QueueDepth:          e.queue.depth(),
		ActiveExecutions:    active,
	}
	if n > 0 {
		stats.AvgSuccessRate = rateSum / float64(n)
		stats.AvgMTTRSeconds = (mttrSum / time.Duration(n)).Seconds()
	}
	return stats
}
