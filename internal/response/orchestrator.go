package response

import (
	"context"
	"fmt"

	"github.com/secops-platform/secops-core/internal/playbook"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// ReportStore persists finished reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report *Report) error
}

// EscalationLedger releases per-execution escalation state once an
// execution is terminal.
type EscalationLedger interface {
	Forget(executionID string)
}

// Orchestrator turns terminal executions into reports and fans them out
// to storage, archive, Kafka, and notification channels. Archive and
// publish targets are optional.
type Orchestrator struct {
	store       ReportStore
	archiver    *Archiver
	publisher   *Publisher
	notifier    *NotifyManager
	escalations EscalationLedger
	logger      *logger.Logger
}

// NewOrchestrator creates a response orchestrator. archiver and publisher
// may be nil when the backend is not configured.
func NewOrchestrator(store ReportStore, archiver *Archiver, publisher *Publisher, notifier *NotifyManager, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		archiver:  archiver,
		publisher: publisher,
		notifier:  notifier,
		logger:    log.WithComponent("response_orchestrator"),
	}
}

// SetEscalationLedger attaches the escalation sweeper so terminal
// executions release their fire-once state.
func (o *Orchestrator) SetEscalationLedger(l EscalationLedger) {
	o.escalations = l
}

// HandleCompleted builds and distributes the report for a terminal
// execution. Distribution failures are logged, never propagated: the
// report itself is always produced.
func (o *Orchestrator) HandleCompleted(ctx context.Context, exec *playbook.Execution, pb *playbook.Playbook) *Report {
	report := BuildReport(exec, pb)

	if o.store != nil {
		if err := o.store.SaveReport(ctx, report); err != nil {
			o.logger.Error("persist report", "report_id", report.ID, "error", err)
		}
	}
	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, report); err != nil {
			o.logger.Error("archive report", "report_id", report.ID, "error", err)
		}
	}
	if o.publisher != nil {
		if err := o.publisher.PublishReport(ctx, report); err != nil {
			o.logger.Error("publish report", "report_id", report.ID, "error", err)
		}
	}

	if o.escalations != nil {
		o.escalations.Forget(exec.ID)
	}

	if exec.Status == playbook.ExecutionFailed && o.notifier != nil {
		subject := fmt.Sprintf("Playbook execution failed: %s", exec.PlaybookID)
		o.notifier.Broadcast(ctx, subject, report.Summary)
	}

	o.logger.Info("report generated",
		"report_id", report.ID,
		"execution_id", exec.ID,
		"status", report.Status)
	return report
}
