// Package model holds the wire-stable types shared across the routing
// engine: events, context nodes, matches, and agent registrations.
package model

import (
	"encoding/json"
	"time"
)

// EventType enumerates the kinds of events the log accepts.
type EventType string

const (
	EventDataPublished    EventType = "data_published"
	EventAgentRegistered  EventType = "agent_registered"
	EventAgentUnregistered EventType = "agent_unregistered"
	EventDataDeleted      EventType = "data_deleted"
)

// Event is an immutable, per-project sequenced log record.
type Event struct {
	ProjectID string          `json:"-"`
	TenantID  string          `json:"-"`
	Sequence  int64           `json:"sequence"`
	EventType EventType       `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// DataPublishedPayload is the `data` field of a data_published event.
type DataPublishedPayload struct {
	DataKey     string          `json:"data_key"`
	NodeKeys    []string        `json:"node_keys"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
}

// ContextNode is one addressable, embeddable unit of published data.
// The Vector Index owns this type exclusively; the Event Log is the
// source of truth and the index is a materialized projection of it.
type ContextNode struct {
	ProjectID   string
	DataKey     string
	NodeKey     string
	Description string
	Payload     json.RawMessage
	Embedding   []float32
	CreatedAt   time.Time
}

// Match is an ephemeral, per-query ranked result.
type Match struct {
	NodeKey    string          `json:"node_key"`
	DataKey    string          `json:"data_key"`
	Payload    json.RawMessage `json:"data"`
	Similarity float64         `json:"similarity"`
	NeedIndex  int             `json:"-"`
}

// DeliveryMode is how an agent wants updates delivered.
type DeliveryMode string

const (
	DeliveryPubSub  DeliveryMode = "pubsub"
	DeliveryWebhook DeliveryMode = "webhook"
)

// Registration is a durable agent subscription.
type Registration struct {
	AgentID           string
	ProjectID         string
	Needs             []string
	Delivery          DeliveryMode
	Channel           string // pubsub channel override, defaults to agent:{id}:updates
	WebhookURL        string
	WebhookSecret     string
	LastSeenSequence  int64
	CreatedAt         time.Time
}

// UpdatePayload is the body delivered to an agent, via webhook or pub/sub,
// for both live updates and initial-snapshot matches.
type UpdatePayload struct {
	Type        string          `json:"type"` // "data_update" | "initial_context"
	ProjectID   string          `json:"project_id"`
	AgentID     string          `json:"agent_id"`
	Sequence    int64           `json:"sequence"`
	DataKey     string          `json:"data_key"`
	NodeKey     string          `json:"node_key"`
	Data        json.RawMessage `json:"data"`
	MatchedNeed string          `json:"matched_need"`
}

// PubSubChannel returns the channel name an agent's live updates publish on.
func PubSubChannel(agentID string) string {
	return "agent:" + agentID + ":updates"
}
