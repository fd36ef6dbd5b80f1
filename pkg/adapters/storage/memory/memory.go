package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/agentmesh/pkg/domain"
)

// InMemoryStateStorage implements StateStorage and HandoffStore with maps.
// Records are stored as JSON so callers never share memory with the store.
type InMemoryStateStorage struct {
	runs     map[string][]byte
	handoffs map[string][]byte
	mu       sync.RWMutex
}

// NewInMemoryStateStorage creates a new in-memory state storage
func NewInMemoryStateStorage() *InMemoryStateStorage {
	return &InMemoryStateStorage{
		runs:     make(map[string][]byte),
		handoffs: make(map[string][]byte),
	}
}

// SaveRun stores the run snapshot, replacing any previous one
func (s *InMemoryStateStorage) SaveRun(ctx context.Context, run *domain.RunSnapshot) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = data
	return nil
}

// GetRun returns the stored run snapshot
func (s *InMemoryStateStorage) GetRun(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	s.mu.RLock()
	data, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}

	var run domain.RunSnapshot
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns returns every stored run id in sorted order
func (s *InMemoryStateStorage) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteRun removes a run snapshot
func (s *InMemoryStateStorage) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)
	return nil
}

// SaveHandoff stores the handoff, replacing any previous version
func (s *InMemoryStateStorage) SaveHandoff(ctx context.Context, h *domain.Handoff) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs[h.ID] = data
	return nil
}

// GetHandoff returns the stored handoff
func (s *InMemoryStateStorage) GetHandoff(ctx context.Context, id string) (*domain.Handoff, error) {
	s.mu.RLock()
	data, ok := s.handoffs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: handoff %s", domain.ErrNotFound, id)
	}

	var h domain.Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal handoff: %w", err)
	}
	return &h, nil
}
