package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/model"
)

type entry struct {
	reg      model.Registration
	lastSeen time.Time
}

// MemoryRegistry is an in-process Registry, the default for tests and for
// deployments without a database.
type MemoryRegistry struct {
	mu   sync.Mutex
	regs map[string]map[string]*entry // project_id -> agent_id -> entry
}

// NewMemoryRegistry constructs an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{regs: make(map[string]map[string]*entry)}
}

// Register implements Registry.
func (r *MemoryRegistry) Register(_ context.Context, reg model.Registration) error {
	if err := validate(&reg); err != nil {
		return err
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	proj, ok := r.regs[reg.ProjectID]
	if !ok {
		proj = make(map[string]*entry)
		r.regs[reg.ProjectID] = proj
	}
	proj[reg.AgentID] = &entry{reg: reg, lastSeen: time.Now().UTC()}
	return nil
}

// Unregister implements Registry.
func (r *MemoryRegistry) Unregister(_ context.Context, projectID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if proj, ok := r.regs[projectID]; ok {
		delete(proj, agentID)
	}
	return nil
}

// Get implements Registry.
func (r *MemoryRegistry) Get(_ context.Context, projectID, agentID string) (model.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proj, ok := r.regs[projectID]
	if !ok {
		return model.Registration{}, apperrors.NotFound("agent_registration", agentID)
	}
	e, ok := proj[agentID]
	if !ok {
		return model.Registration{}, apperrors.NotFound("agent_registration", agentID)
	}
	return e.reg, nil
}

// List implements Registry.
func (r *MemoryRegistry) List(_ context.Context, projectID string) ([]model.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proj := r.regs[projectID]
	out := make([]model.Registration, 0, len(proj))
	for _, e := range proj {
		out = append(out, e.reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// MarkSeen implements Registry.
func (r *MemoryRegistry) MarkSeen(_ context.Context, projectID, agentID string, sequence int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	proj, ok := r.regs[projectID]
	if !ok {
		return apperrors.NotFound("agent_registration", agentID)
	}
	e, ok := proj[agentID]
	if !ok {
		return apperrors.NotFound("agent_registration", agentID)
	}
	e.reg.LastSeenSequence = sequence
	e.lastSeen = time.Now().UTC()
	return nil
}

// ExpireIdle implements Registry.
func (r *MemoryRegistry) ExpireIdle(_ context.Context, olderThan time.Duration) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var expired []string
	for _, proj := range r.regs {
		for agentID, e := range proj {
			if e.lastSeen.Before(cutoff) {
				expired = append(expired, agentID)
				delete(proj, agentID)
			}
		}
	}
	sort.Strings(expired)
	return expired, nil
}
