package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/internal/playbook"
	"github.com/secops-platform/secops-core/internal/response"
	"github.com/secops-platform/secops-core/internal/zerotrust"
	apperrors "github.com/secops-platform/secops-core/pkg/errors"
)

// MemoryStore implements every store interface in process.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*playbook.Execution
	reports    map[string]*response.Report
	audit      []*zerotrust.AuditRecord
	events     []*model.SecurityEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*playbook.Execution),
		reports:    make(map[string]*response.Report),
	}
}

func (s *MemoryStore) SaveExecution(_ context.Context, exec *playbook.Execution) error {
	s.mu.Lock()
	s.executions[exec.ID] = exec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*playbook.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, apperrors.NotFound("execution " + id)
	}
	return exec, nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, limit int) ([]*playbook.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*playbook.Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveReport(_ context.Context, report *response.Report) error {
	s.mu.Lock()
	s.reports[report.ExecutionID] = report
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, executionID string) (*response.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[executionID]
	if !ok {
		return nil, apperrors.NotFound("report for execution " + executionID)
	}
	return report, nil
}

func (s *MemoryStore) RecordAccessDecision(_ context.Context, rec *zerotrust.AuditRecord) {
	s.mu.Lock()
	s.audit = append(s.audit, rec)
	s.mu.Unlock()
}

// AuditRecords returns the recorded decisions, oldest first.
func (s *MemoryStore) AuditRecords() []*zerotrust.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*zerotrust.AuditRecord(nil), s.audit...)
}

func (s *MemoryStore) ArchiveEvent(_ context.Context, event *model.SecurityEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ArchivedEvents() []*model.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.SecurityEvent(nil), s.events...)
}

func (s *MemoryStore) Flush(context.Context) error { return nil }
