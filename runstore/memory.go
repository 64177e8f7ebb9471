package runstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/sciflow/types"
	"github.com/BaSui01/sciflow/workflow"
)

// MemoryStore is a process-local run store. Saved states are deep
// copied so callers cannot mutate stored runs through retained
// pointers.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*workflow.PipelineState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*workflow.PipelineState)}
}

func (s *MemoryStore) Save(_ context.Context, state *workflow.PipelineState) error {
	cp, err := state.Clone()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[state.RunID] = cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, runID string) (*workflow.PipelineState, error) {
	s.mu.RLock()
	state, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrRunNotFound, fmt.Sprintf("run %s not found", runID))
	}
	return state.Clone()
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.runs[ids[i]].CreatedAt.After(s.runs[ids[j]].CreatedAt)
	})
	return ids, nil
}

func (s *MemoryStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}
