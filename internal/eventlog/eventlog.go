// Package eventlog implements the append-only, per-project monotonic
// event log: append assigns a strictly increasing sequence number per
// project, and reads are stable once durable (no history rewriting).
package eventlog

import (
	"context"
	"encoding/json"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/model"
)

// MaxReadLimit is the hard cap on events returned by a single Read call.
const MaxReadLimit = 1000

// Store is the append-only event log contract. Append must durably
// persist before returning a sequence number; Read never returns an
// error for since values beyond the current length — it returns an
// empty slice instead, since "read past the end" is not a fault.
type Store interface {
	// Append assigns the next sequence number for projectID and persists
	// the event, returning the assigned sequence.
	Append(ctx context.Context, projectID, tenantID string, eventType model.EventType, payload json.RawMessage) (int64, error)

	// Read returns events for projectID with sequence > since, oldest
	// first, bounded by limit (clamped to MaxReadLimit).
	Read(ctx context.Context, projectID string, since int64, limit int) ([]model.Event, error)

	// Length returns the highest assigned sequence for projectID, or 0
	// if the project has never been written to.
	Length(ctx context.Context, projectID string) (int64, error)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxReadLimit {
		return MaxReadLimit
	}
	return limit
}

func validateProjectID(projectID string) error {
	if projectID == "" {
		return apperrors.Validation("project_id", "must not be empty")
	}
	return nil
}
