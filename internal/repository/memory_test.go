package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/internal/playbook"
	"github.com/secops-platform/secops-core/internal/response"
	"github.com/secops-platform/secops-core/internal/zerotrust"
	apperrors "github.com/secops-platform/secops-core/pkg/errors"
)

func storedExecution(id string, startedAt time.Time) *playbook.Execution {
	return &playbook.Execution{
		ID:         id,
		PlaybookID: "malware-response",
		Status:     playbook.ExecutionCompleted,
		StartedAt:  startedAt,
	}
}

// TestExecutionRoundTrip tests saving and fetching a single execution.
func TestExecutionRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exec := storedExecution("exec-1", time.Now())
	require.NoError(t, store.SaveExecution(ctx, exec))

	got, err := store.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, exec, got)

	_, err = store.GetExecution(ctx, "exec-missing")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

// TestListExecutionsOrdering tests that listing returns most recent
// executions first and honours the limit.
func TestListExecutionsOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		exec := storedExecution(fmt.Sprintf("exec-%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.SaveExecution(ctx, exec))
	}

	all, err := store.ListExecutions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "exec-4", all[0].ID)
	assert.Equal(t, "exec-0", all[4].ID)

	limited, err := store.ListExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "exec-4", limited[0].ID)
	assert.Equal(t, "exec-3", limited[1].ID)
}

// TestReportRoundTrip tests report persistence keyed by execution ID.
func TestReportRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	report := &response.Report{
		ExecutionID: "exec-9",
		PlaybookID:  "phishing-response",
		Status:      string(playbook.ExecutionCompleted),
		Summary:     "2/2 steps completed",
	}
	require.NoError(t, store.SaveReport(ctx, report))

	got, err := store.GetReport(ctx, "exec-9")
	require.NoError(t, err)
	assert.Equal(t, report, got)

	_, err = store.GetReport(ctx, "exec-unknown")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

// TestAuditRecords tests that access decisions accumulate in order and
// that the accessor returns a copy.
func TestAuditRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.RecordAccessDecision(ctx, &zerotrust.AuditRecord{RequestID: "req-1", Decision: "allow"})
	store.RecordAccessDecision(ctx, &zerotrust.AuditRecord{RequestID: "req-2", Decision: "deny"})

	records := store.AuditRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "req-1", records[0].RequestID)
	assert.Equal(t, "req-2", records[1].RequestID)

	records[0] = nil
	assert.Equal(t, "req-1", store.AuditRecords()[0].RequestID)
}

// TestArchivedEvents tests event archival and the no-op flush.
func TestArchivedEvents(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	event := model.NewSecurityEvent("malware_detection", "edr", model.SeverityHigh)
	require.NoError(t, store.ArchiveEvent(ctx, event))

	archived := store.ArchivedEvents()
	require.Len(t, archived, 1)
	assert.Equal(t, event.ID, archived[0].ID)

	assert.NoError(t, store.Flush(ctx))
}
