package intel

import (
	"sync"
	"time"

	"github.com/secops-platform/secops-core/pkg/logger"
)

// Store is the in-process IOC registry, keyed by indicator value.
// Writers go through Upsert which applies the merge rule, so repeated
// ingestion of identical records is idempotent.
type Store struct {
	mu     sync.RWMutex
	iocs   map[string]*IOC
	logger *logger.Logger
}

// NewStore creates an empty IOC store.
func NewStore(log *logger.Logger) *Store {
	return &Store{
		iocs:   make(map[string]*IOC),
		logger: log.WithComponent("intel_store"),
	}
}

// Upsert merges the record into the store. Returns true when the stored
// record changed. FirstSeen is preserved from the earliest observation.
func (s *Store) Upsert(incoming *IOC) bool {
	if incoming == nil || incoming.Value == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.iocs[incoming.Value]
	if !ok {
		record := *incoming
		if record.FirstSeen.IsZero() {
			record.FirstSeen = record.LastSeen
		}
		s.iocs[incoming.Value] = &record
		return true
	}

	if !supersedes(incoming, existing) {
		return false
	}

	record := *incoming
	if existing.FirstSeen.Before(record.FirstSeen) || record.FirstSeen.IsZero() {
		record.FirstSeen = existing.FirstSeen
	}
	s.iocs[incoming.Value] = &record
	return true
}

// Lookup returns the IOC for an indicator value, or false when absent.
func (s *Store) Lookup(value string) (*IOC, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ioc, ok := s.iocs[value]
	if !ok {
		return nil, false
	}
	copied := *ioc
	return &copied, true
}

// All returns a snapshot of every stored IOC.
func (s *Store) All() []*IOC {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*IOC, 0, len(s.iocs))
	for _, ioc := range s.iocs {
		copied := *ioc
		out = append(out, &copied)
	}
	return out
}

// Len returns the number of stored indicators.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.iocs)
}

// Expire removes indicators whose LastSeen is older than the retention
// window and returns the number removed.
func (s *Store) Expire(retention time.Duration, now time.Time) int {
	cutoff := now.Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, ioc := range s.iocs {
		if ioc.LastSeen.Before(cutoff) {
			delete(s.iocs, value)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("expired stale indicators", "removed", removed, "remaining", len(s.iocs))
	}
	return removed
}
