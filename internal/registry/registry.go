// Package registry implements the Subscription Registry: agents declare
// the needs they want matched against newly published data, and how they
// want matches delivered (pub/sub channel or webhook). Re-registration by
// the same agent_id replaces the prior registration atomically.
package registry

import (
	"context"
	"time"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/model"
)

// Registry is the subscription store contract.
type Registry interface {
	// Register upserts agentID's registration, replacing any prior one
	// for the same agent atomically — a concurrent Register and
	// dispatcher read never observes a half-updated registration.
	Register(ctx context.Context, reg model.Registration) error

	// Unregister removes agentID's registration. Unregistering an unknown
	// agent is not an error.
	Unregister(ctx context.Context, projectID, agentID string) error

	// Get returns agentID's registration, or apperrors NotFound.
	Get(ctx context.Context, projectID, agentID string) (model.Registration, error)

	// List returns every live registration for projectID.
	List(ctx context.Context, projectID string) ([]model.Registration, error)

	// MarkSeen advances agentID's last-seen-sequence watermark; the engine
	// calls it after each successful delivery.
	MarkSeen(ctx context.Context, projectID, agentID string, sequence int64) error

	// ExpireIdle removes registrations whose last-seen watermark has not
	// advanced in longer than olderThan, returning the removed agent IDs.
	ExpireIdle(ctx context.Context, olderThan time.Duration) ([]string, error)
}

func validate(reg *model.Registration) error {
	if reg.ProjectID == "" {
		return apperrors.Validation("project_id", "must not be empty")
	}
	if reg.AgentID == "" {
		return apperrors.Validation("agent_id", "must not be empty")
	}
	if len(reg.Needs) == 0 {
		return apperrors.Validation("needs", "must declare at least one need")
	}
	switch reg.Delivery {
	case model.DeliveryPubSub:
		if reg.Channel == "" {
			reg.Channel = model.PubSubChannel(reg.AgentID)
		}
	case model.DeliveryWebhook:
		if reg.WebhookURL == "" {
			return apperrors.Validation("webhook_url", "required for webhook delivery")
		}
	default:
		return apperrors.Validation("delivery", "must be pubsub or webhook")
	}
	return nil
}
