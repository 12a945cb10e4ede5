package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/model"
)

// PubSubDeliverer publishes matched updates to a Redis channel, the
// delivery mode for agents that keep a live subscriber connected.
type PubSubDeliverer struct {
	client *redis.Client
}

// NewPubSubDeliverer wraps an existing Redis client.
func NewPubSubDeliverer(client *redis.Client) *PubSubDeliverer {
	return &PubSubDeliverer{client: client}
}

// Deliver implements Deliverer.
func (p *PubSubDeliverer) Deliver(ctx context.Context, reg model.Registration, payload model.UpdatePayload) error {
	channel := reg.Channel
	if channel == "" {
		channel = model.PubSubChannel(reg.AgentID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Permanent("pubsub.marshal", err)
	}

	if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
		return apperrors.Transient("pubsub.publish", err)
	}
	return nil
}
