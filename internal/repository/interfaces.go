// Package repository provides persistence for executions, response
// reports, access audit records, and archived events. Every store has
// an in-memory implementation for tests and single-node deployments.
package repository

import (
	"context"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/internal/playbook"
	"github.com/secops-platform/secops-core/internal/response"
	"github.com/secops-platform/secops-core/internal/zerotrust"
)

// ExecutionStore persists playbook execution snapshots.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *playbook.Execution) error
	GetExecution(ctx context.Context, id string) (*playbook.Execution, error)
	ListExecutions(ctx context.Context, limit int) ([]*playbook.Execution, error)
}

// ReportStore persists response reports. The SOAR orchestrator writes
// through this after each terminal execution.
type ReportStore interface {
	SaveReport(ctx context.Context, report *response.Report) error
	GetReport(ctx context.Context, executionID string) (*response.Report, error)
}

// AuditStore records zero-trust access decisions.
type AuditStore interface {
	RecordAccessDecision(ctx context.Context, rec *zerotrust.AuditRecord)
	Flush(ctx context.Context) error
}

// EventArchive stores processed security events for retrospective
// analysis.
type EventArchive interface {
	ArchiveEvent(ctx context.Context, event *model.SecurityEvent) error
	Flush(ctx context.Context) error
}

// HealthChecker is implemented by stores backed by external systems.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
