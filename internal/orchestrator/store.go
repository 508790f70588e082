package orchestrator

import (
	"sync"
	"time"

	"github.com/fedutinova/shopgen/internal/common"
)

// BatchStore keeps the latest snapshot of every asynchronous batch, with the
// same retention rule as the job registry.
type BatchStore struct {
	retention time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	batches map[string]*BatchResult
}

func NewBatchStore(retention time.Duration, now func() time.Time) *BatchStore {
	if now == nil {
		now = time.Now
	}
	return &BatchStore{
		retention: retention,
		now:       now,
		batches:   make(map[string]*BatchResult),
	}
}

func (s *BatchStore) Put(res BatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := res.clone()
	s.batches[res.ID] = &cp
}

func (s *BatchStore) Get(id string) (BatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return BatchResult{}, common.ErrBatchNotFound
	}
	return b.clone(), nil
}

// Sweep drops finished batches older than the retention window.
func (s *BatchStore) Sweep() int {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, b := range s.batches {
		if b.FinishedAt != nil && b.FinishedAt.Before(cutoff) {
			delete(s.batches, id)
			removed++
		}
	}
	return removed
}

func (s *BatchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches)
}
