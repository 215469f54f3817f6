package playbook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/secops-platform/secops-core/internal/model"
	apperrors "github.com/secops-platform/secops-core/pkg/errors"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// ActionExecutor runs a named automated action with resolved parameters.
// Implementations must honor context cancellation.
type ActionExecutor interface {
	Execute(ctx context.Context, action string, params map[string]string) (map[string]interface{}, error)
}

// NewExecution creates a pending execution with step slots pre-populated
// in declaration order.
func NewExecution(pb *Playbook, event *model.SecurityEvent) *Execution {
	steps := make([]StepResult, len(pb.Steps))
	for i, def := range pb.Steps {
		steps[i] = StepResult{
			StepID:    def.ID,
			Name:      def.Name,
			Type:      def.Type,
			Automated: def.Automated,
			Status:    StepPending,
		}
	}
	return &Execution{
		ID:         uuid.New().String(),
		PlaybookID: pb.ID,
		EventID:    event.ID,
		Status:     ExecutionPending,
		Steps:      steps,
		StartedAt:  time.Now().UTC(),
		Event:      event,
	}
}

// Executor drives playbook executions through their step state machines.
type Executor struct {
	actions        ActionExecutor
	defaultTimeout time.Duration
	logger         *logger.Logger
}

// NewExecutor creates a step executor backed by the given action handler.
func NewExecutor(actions ActionExecutor, defaultTimeout time.Duration, log *logger.Logger) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Executor{
		actions:        actions,
		defaultTimeout: defaultTimeout,
		logger:         log.WithComponent("playbook_executor"),
	}
}

// Run advances the execution until it reaches a terminal state or parks on
// a manual step. It returns parked=true when a manual step is awaiting an
// operator. Steps run strictly in declaration order; a failed step halts
// the execution unless its definition declares a continue-on-failure mode.
// The caller owns exec and must not mutate it concurrently.
func (x *Executor) Run(ctx context.Context, pb *Playbook, exec *Execution) (parked bool) {
	if exec.Status == ExecutionPending {
		exec.Status = ExecutionRunning
	}

	log := x.logger.With("execution_id", exec.ID, "playbook_id", pb.ID)

	for i := range exec.Steps {
		if exec.Status == ExecutionCancelled {
			return false
		}
		if ctx.Err() != nil {
			x.finish(exec, ExecutionCancelled)
			return false
		}

		result := &exec.Steps[i]
		switch result.Status {
		case StepCompleted, StepFailed, StepSkipped:
			continue
		}

		def := pb.Steps[i]
		if !def.Automated {
			// Manual steps wait for an operator; the engine never
			// auto-completes them.
			result.Status = StepPending
			log.Info("execution parked on manual step", "step_id", def.ID)
			return true
		}

		x.runStep(ctx, &def, result, exec.Event, log)

		if result.Status == StepFailed && def.OnFailure != FailureContinue {
			x.finish(exec, ExecutionFailed)
			log.Warn("execution failed", "step_id", def.ID, "error", result.Error)
			return false
		}
	}

	x.finish(exec, ExecutionCompleted)
	log.Info("execution completed",
		"duration", exec.Metrics.TotalDuration,
		"success_rate", exec.Metrics.SuccessRate)
	return false
}

// AdvanceManualStep resolves a parked manual step with the operator's
// outcome. Only pending manual steps on a non-terminal execution can be
// advanced.
func (x *Executor) AdvanceManualStep(exec *Execution, stepID string, completed bool, note string) error {
	if exec.Status.Terminal() {
		return apperrors.Conflict("execution already terminal")
	}
	for i := range exec.Steps {
		result := &exec.Steps[i]
		if result.StepID != stepID {
			continue
		}
		if result.Automated {
			return apperrors.BadRequest("step is automated")
		}
		if result.Status != StepPending {
			return apperrors.Conflict("step is not awaiting an operator")
		}
		now := time.Now().UTC()
		result.StartedAt = now
		result.EndedAt = now
		result.Attempts = 1
		if completed {
			result.Status = StepCompleted
		} else {
			result.Status = StepSkipped
		}
		if note != "" {
			result.Output = map[string]interface{}{"note": note}
		}
		return nil
	}
	return apperrors.NotFound("step")
}

// runStep executes one automated step with template substitution, bounded
// timeout, and up to retries+1 attempts.
func (x *Executor) runStep(ctx context.Context, def *StepDef, result *StepResult, event *model.SecurityEvent, log *logger.Logger) {
	result.Status = StepRunning
	result.StartedAt = time.Now().UTC()

	params := substituteParams(def.Params, event)

	timeout := time.Duration(def.Timeout)
	if timeout <= 0 {
		timeout = x.defaultTimeout
	}

	var lastErr error
	attempts := def.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			result.Attempts = attempt - 1
			break
		}
		result.Attempts = attempt

		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err := x.actions.Execute(stepCtx, def.Action, params)
		cancel()

		if err == nil {
			result.Status = StepCompleted
			result.Output = output
			x.closeStep(result)
			return
		}
		lastErr = err
		log.Debug("step attempt failed",
			"step_id", def.ID, "attempt", attempt, "error", err)
	}

	result.Status = StepFailed
	if lastErr != nil {
		result.Error = apperrors.StepExecution(def.ID, lastErr).Error()
	} else {
		result.Error = fmt.Sprintf("step %s failed", def.ID)
	}
	x.closeStep(result)
}

func (x *Executor) closeStep(result *StepResult) {
	result.EndedAt = time.Now().UTC()
	result.Duration = result.EndedAt.Sub(result.StartedAt)
}

func (x *Executor) finish(exec *Execution, status ExecutionStatus) {
	exec.Status = status
	exec.EndedAt = time.Now().UTC()
	exec.ComputeMetrics()
}
