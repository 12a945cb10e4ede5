package eventlog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cahoots-org/contex/internal/model"
)

// MemoryStore is an in-process Store, used by default in tests and as a
// fallback when no database is configured. Sequencing is guarded by a
// per-project-map mutex, matching the linearizability guarantee the
// Postgres-backed store provides via row locking.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[string][]model.Event
	tenantOf map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string][]model.Event),
		tenantOf: make(map[string]string),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, projectID, tenantID string, eventType model.EventType, payload json.RawMessage) (int64, error) {
	if err := validateProjectID(projectID); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := int64(len(s.events[projectID]) + 1)
	s.events[projectID] = append(s.events[projectID], model.Event{
		ProjectID: projectID,
		TenantID:  tenantID,
		Sequence:  seq,
		EventType: eventType,
		Data:      payload,
		CreatedAt: time.Now().UTC(),
	})
	return seq, nil
}

// Read implements Store.
func (s *MemoryStore) Read(_ context.Context, projectID string, since int64, limit int) ([]model.Event, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[projectID]
	idx := sort.Search(len(all), func(i int) bool { return all[i].Sequence > since })
	if idx >= len(all) {
		return []model.Event{}, nil
	}

	end := idx + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]model.Event, end-idx)
	copy(out, all[idx:end])
	return out, nil
}

// Length implements Store.
func (s *MemoryStore) Length(_ context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events[projectID])), nil
}
