// Package engine implements the Context Engine façade: it sequences
// publish (log → index → dispatch) and register (persist → snapshot →
// subscribe), delegating ranking to the Semantic Matcher and delivery to
// the Notification Dispatcher.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/degradation"
	"github.com/cahoots-org/contex/internal/dispatcher"
	"github.com/cahoots-org/contex/internal/eventlog"
	"github.com/cahoots-org/contex/internal/keywordindex"
	"github.com/cahoots-org/contex/internal/logging"
	"github.com/cahoots-org/contex/internal/matcher"
	"github.com/cahoots-org/contex/internal/model"
	"github.com/cahoots-org/contex/internal/registry"
	"github.com/cahoots-org/contex/internal/vectorindex"
)

// Config tunes façade-level behavior not owned by the components it wires.
type Config struct {
	DecompositionMaxDepth int
	DescriptionMaxTokens  int
	SimilarityThreshold   float64
	MaxMatches            int
}

// Engine is the Context Engine. It owns no storage itself — every
// operation delegates to one of the components passed to New.
type Engine struct {
	events      eventlog.Store
	vectors     vectorindex.Index
	keywords    keywordindex.Index // nil when hybrid search is disabled
	registrar   registry.Registry
	matcher     *matcher.Matcher
	dispatcher  *dispatcher.Dispatcher
	degradation *degradation.Controller // nil disables degradation enforcement
	log         *logging.Logger
	cfg         Config

	outboxMu sync.Mutex
	outbox   []outboxEntry
}

// outboxEntry is a fan-out delivery deferred while the system is
// DEGRADED, replayed in FIFO order once the controller recovers.
type outboxEntry struct {
	projectID string
	agentID   string
	payload   model.UpdatePayload
}

// New wires an Engine from its components. keywords may be nil; Publish
// and Import then skip keyword indexing and the matcher falls back to
// KNN-only ranking. degradationCtrl may be nil, which disables degradation
// enforcement entirely (Publish/Register never fail fast and fan-out
// never defers to the outbox) — useful for tests that don't exercise it.
func New(events eventlog.Store, vectors vectorindex.Index, keywords keywordindex.Index, registrar registry.Registry, m *matcher.Matcher, d *dispatcher.Dispatcher, degradationCtrl *degradation.Controller, log *logging.Logger, cfg Config) *Engine {
	if cfg.DescriptionMaxTokens <= 0 {
		cfg.DescriptionMaxTokens = 32
	}
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = 10
	}
	e := &Engine{events: events, vectors: vectors, keywords: keywords, registrar: registrar, matcher: m, dispatcher: d, degradation: degradationCtrl, log: log, cfg: cfg}
	if d != nil {
		d.OnDelivered = e.onDelivered
	}
	if degradationCtrl != nil {
		degradationCtrl.OnStateChange = e.onDegradationStateChange
	}
	return e
}

// onDegradationStateChange drains the outbox once the controller reports
// recovery to NORMAL; entries deferred while DEGRADED (kept through any
// later UNAVAILABLE spell) replay through the normal dispatcher in the
// order they were deferred.
func (e *Engine) onDegradationStateChange(previous, current degradation.State) {
	if current != degradation.StateNormal {
		return
	}
	e.drainOutbox()
}

func (e *Engine) drainOutbox() {
	e.outboxMu.Lock()
	pending := e.outbox
	e.outbox = nil
	e.outboxMu.Unlock()

	for _, entry := range pending {
		e.dispatcher.Enqueue(entry.projectID, entry.agentID, entry.payload)
	}
}

func (e *Engine) degradationState() degradation.State {
	if e.degradation == nil {
		return degradation.StateNormal
	}
	return e.degradation.State()
}

func (e *Engine) onDelivered(projectID, agentID string, sequence int64) {
	if err := e.registrar.MarkSeen(context.Background(), projectID, agentID, sequence); err != nil && e.log != nil {
		e.log.WithField("agent_id", agentID).Debug("mark_seen after delivery failed (agent likely unregistered)")
	}
}

// PublishRequest is the input to Publish.
type PublishRequest struct {
	ProjectID   string
	TenantID    string
	DataKey     string
	Data        interface{}
	Description string
}

// PublishResult reports what a successful Publish produced.
type PublishResult struct {
	Sequence int64
	NodeKeys []string
}

// Publish normalizes and decomposes Data into one or more ContextNodes,
// appends a data_published event, upserts the nodes into the vector (and,
// if enabled, keyword) index, and fans the update out to interested
// registrations. Per spec §4.2, append is the durability boundary: a
// publish failure in the event log must not leave orphaned index
// mutations behind, so embedding/decomposition (no persistence) happens
// first, then Append, and only once Append succeeds do the index upserts
// run; once appended, dispatch failures never unwind the publish
// (publishing and delivery are decoupled).
func (e *Engine) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if req.ProjectID == "" {
		return PublishResult{}, apperrors.Validation("project_id", "must not be empty")
	}
	if req.DataKey == "" {
		return PublishResult{}, apperrors.Validation("data_key", "must not be empty")
	}
	if e.degradationState() == degradation.StateUnavailable {
		return PublishResult{}, apperrors.Unavailable("engine.publish")
	}

	raw, err := json.Marshal(req.Data)
	if err != nil {
		return PublishResult{}, apperrors.Validation("data", "must be JSON-serializable")
	}

	nodes := decompose(req.DataKey, raw, e.cfg.DecompositionMaxDepth)
	type embedded struct {
		node        decomposedNode
		description string
		vector      []float32
	}
	built := make([]embedded, 0, len(nodes))
	nodeKeys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		desc := req.Description
		if desc == "" {
			desc = describeNode(req.DataKey, n.Payload, e.cfg.DescriptionMaxTokens)
		}
		vec, err := e.matcher.Embed(ctx, desc)
		if err != nil {
			return PublishResult{}, err
		}
		built = append(built, embedded{node: n, description: desc, vector: vec})
		nodeKeys = append(nodeKeys, n.NodeKey)
	}

	payload := model.DataPublishedPayload{
		DataKey:     req.DataKey,
		NodeKeys:    nodeKeys,
		Description: req.Description,
		Data:        json.RawMessage(raw),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return PublishResult{}, apperrors.Permanent("engine.publish.marshal", err)
	}

	seq, err := e.events.Append(ctx, req.ProjectID, req.TenantID, model.EventDataPublished, payloadBytes)
	if err != nil {
		return PublishResult{}, err
	}

	for _, b := range built {
		if err := e.vectors.Upsert(ctx, model.ContextNode{
			ProjectID:   req.ProjectID,
			DataKey:     req.DataKey,
			NodeKey:     b.node.NodeKey,
			Description: b.description,
			Payload:     b.node.Payload,
			Embedding:   b.vector,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return PublishResult{}, err
		}
		if e.keywords != nil {
			if err := e.keywords.Index(ctx, req.ProjectID, b.node.NodeKey, b.description); err != nil {
				return PublishResult{}, err
			}
		}
	}

	e.fanOut(ctx, req.ProjectID, req.DataKey, seq, built)

	return PublishResult{Sequence: seq, NodeKeys: nodeKeys}, nil
}

func (e *Engine) fanOut(ctx context.Context, projectID, dataKey string, seq int64, built []struct {
	node        decomposedNode
	description string
	vector      []float32
}) {
	if e.dispatcher == nil {
		return
	}
	regs, err := e.registrar.List(ctx, projectID)
	if err != nil {
		if e.log != nil {
			e.log.WithField("project_id", projectID).Warn("fan-out: failed to list registrations")
		}
		return
	}

	for _, reg := range regs {
		for _, b := range built {
			interest, err := e.matcher.MatchNode(ctx, reg.Needs, b.vector, e.cfg.SimilarityThreshold)
			if err != nil || !interest.Matched {
				continue
			}
			e.deliverOrDefer(projectID, reg.AgentID, model.UpdatePayload{
				Type:        "data_update",
				ProjectID:   projectID,
				AgentID:     reg.AgentID,
				Sequence:    seq,
				DataKey:     dataKey,
				NodeKey:     b.node.NodeKey,
				Data:        b.node.Payload,
				MatchedNeed: interest.Need,
			})
		}
	}
}

// deliverOrDefer enqueues update for immediate dispatch, unless the system
// is currently DEGRADED, in which case it is appended to the outbox and
// replayed once the degradation controller reports recovery to NORMAL.
func (e *Engine) deliverOrDefer(projectID, agentID string, update model.UpdatePayload) {
	if e.degradationState() == degradation.StateDegraded {
		e.outboxMu.Lock()
		e.outbox = append(e.outbox, outboxEntry{projectID: projectID, agentID: agentID, payload: update})
		e.outboxMu.Unlock()
		return
	}
	e.dispatcher.Enqueue(projectID, agentID, update)
}

// Query delegates to the Semantic Matcher; it never mutates state.
func (e *Engine) Query(ctx context.Context, projectID string, queries []string) ([][]model.Match, error) {
	return e.matcher.MatchNeeds(ctx, projectID, queries)
}

// Events delegates to the Event Log.
func (e *Engine) Events(ctx context.Context, projectID string, since int64, limit int) ([]model.Event, error) {
	return e.events.Read(ctx, projectID, since, limit)
}

// RegisterResult reports what Register computed as the initial snapshot.
type RegisterResult struct {
	Channel           string
	LastSeenSequence  int64
	MatchedNeedsCount int
	InitialMatches    [][]model.Match
}

// Register persists reg, runs the matcher over the project's current
// ContextNodes for each declared need (the "initial snapshot"), and starts
// the agent's delivery worker. last_seen_sequence is set to the project's
// current length so only events strictly newer than the snapshot are
// delivered live — matching nodes already surfaced in the snapshot are not
// re-delivered as live updates.
func (e *Engine) Register(ctx context.Context, reg model.Registration) (RegisterResult, error) {
	if e.degradationState() == degradation.StateUnavailable {
		return RegisterResult{}, apperrors.Unavailable("engine.register")
	}

	length, err := e.events.Length(ctx, reg.ProjectID)
	if err != nil {
		return RegisterResult{}, err
	}
	reg.LastSeenSequence = length

	if err := e.registrar.Register(ctx, reg); err != nil {
		return RegisterResult{}, err
	}

	matches, err := e.matcher.MatchNeeds(ctx, reg.ProjectID, reg.Needs)
	if err != nil {
		return RegisterResult{}, err
	}

	matchedCount := 0
	for _, needMatches := range matches {
		if len(needMatches) > 0 {
			matchedCount++
		}
	}

	if e.dispatcher != nil {
		stored, err := e.registrar.Get(ctx, reg.ProjectID, reg.AgentID)
		if err != nil {
			return RegisterResult{}, err
		}
		e.dispatcher.Ensure(ctx, stored)

		for _, needMatches := range matches {
			for _, m := range needMatches {
				e.deliverOrDefer(reg.ProjectID, reg.AgentID, model.UpdatePayload{
					Type:      "initial_context",
					ProjectID: reg.ProjectID,
					AgentID:   reg.AgentID,
					Sequence:  length,
					DataKey:   m.DataKey,
					NodeKey:   m.NodeKey,
					Data:      m.Payload,
				})
			}
		}
	}

	channel := reg.Channel
	if channel == "" && reg.Delivery == model.DeliveryPubSub {
		channel = model.PubSubChannel(reg.AgentID)
	}

	return RegisterResult{
		Channel:           channel,
		LastSeenSequence:  length,
		MatchedNeedsCount: matchedCount,
		InitialMatches:    matches,
	}, nil
}

// Unregister removes reg's subscription and stops its delivery worker.
func (e *Engine) Unregister(ctx context.Context, projectID, agentID string) error {
	if err := e.registrar.Unregister(ctx, projectID, agentID); err != nil {
		return err
	}
	if e.dispatcher != nil {
		e.dispatcher.Remove(projectID, agentID)
	}
	return nil
}
