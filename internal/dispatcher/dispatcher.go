// Package dispatcher implements the Notification Dispatcher: on each new
// data_published event it fans the event out to every matching agent's
// per-agent delivery queue, which a dedicated worker drains in strict
// sequence order via pub/sub or webhook delivery.
package dispatcher

import (
	"context"
	"sync"

	"github.com/cahoots-org/contex/internal/logging"
	"github.com/cahoots-org/contex/internal/model"
)

// Deliverer sends a single matched update to one agent's destination.
type Deliverer interface {
	Deliver(ctx context.Context, reg model.Registration, payload model.UpdatePayload) error
}

// DefaultQueueCapacity is the per-agent delivery queue bound (spec §6).
const DefaultQueueCapacity = 1000

// Stats tracks dispatcher-wide counters, readable through
// Dispatcher.Stats. They are not exported as Prometheus metrics.
type Stats struct {
	mu        sync.Mutex
	Enqueued  int64
	Delivered int64
	Dropped   int64
	Failed    int64
}

func (s *Stats) incEnqueued()  { s.mu.Lock(); s.Enqueued++; s.mu.Unlock() }
func (s *Stats) incDelivered() { s.mu.Lock(); s.Delivered++; s.mu.Unlock() }
func (s *Stats) incDropped()   { s.mu.Lock(); s.Dropped++; s.mu.Unlock() }
func (s *Stats) incFailed()    { s.mu.Lock(); s.Failed++; s.mu.Unlock() }

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Enqueued: s.Enqueued, Delivered: s.Delivered, Dropped: s.Dropped, Failed: s.Failed}
}

type agentQueue struct {
	ch     chan model.UpdatePayload
	reg    model.Registration
	cancel context.CancelFunc
}

// Dispatcher owns one delivery queue and worker goroutine per agent,
// preserving strict sequence order for that agent regardless of how many
// events are dispatched concurrently across agents.
type Dispatcher struct {
	deliverers map[model.DeliveryMode]Deliverer
	log        *logging.Logger
	stats      Stats
	capacity   int

	// OnDelivered, if set, is invoked after each successful delivery so a
	// caller (the engine) can advance the registry's last-seen watermark.
	// It must not block; it runs on the agent's own worker goroutine.
	OnDelivered func(projectID, agentID string, sequence int64)

	mu     sync.Mutex
	queues map[string]*agentQueue // project_id:agent_id -> queue
	wg     sync.WaitGroup
}

// New constructs a Dispatcher. capacity <= 0 uses DefaultQueueCapacity.
func New(deliverers map[model.DeliveryMode]Deliverer, log *logging.Logger, capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Dispatcher{
		deliverers: deliverers,
		log:        log,
		capacity:   capacity,
		queues:     make(map[string]*agentQueue),
	}
}

func queueKey(projectID, agentID string) string { return projectID + ":" + agentID }

// Ensure registers (or re-registers) the per-agent worker for reg. Calling
// Ensure again with an updated reg (e.g. after re-registration) replaces
// the destination the running worker delivers to without losing queued,
// not-yet-delivered notifications.
func (d *Dispatcher) Ensure(ctx context.Context, reg model.Registration) {
	key := queueKey(reg.ProjectID, reg.AgentID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[key]; ok {
		q.reg = reg
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	q := &agentQueue{
		ch:     make(chan model.UpdatePayload, d.capacity),
		reg:    reg,
		cancel: cancel,
	}
	d.queues[key] = q

	d.wg.Add(1)
	go d.worker(workerCtx, key, q)
}

// Remove stops the worker for an unregistered agent and drops its queue.
func (d *Dispatcher) Remove(projectID, agentID string) {
	key := queueKey(projectID, agentID)

	d.mu.Lock()
	q, ok := d.queues[key]
	if ok {
		delete(d.queues, key)
	}
	d.mu.Unlock()

	if ok {
		q.cancel()
	}
}

// Enqueue hands a matched update to the agent's queue. If the queue is
// full, the new notification is dropped (not the oldest) so that
// already-queued, earlier-sequence notifications keep their delivery
// order; Dropped is incremented and the caller is not blocked.
func (d *Dispatcher) Enqueue(projectID, agentID string, payload model.UpdatePayload) {
	key := queueKey(projectID, agentID)

	d.mu.Lock()
	q, ok := d.queues[key]
	d.mu.Unlock()
	if !ok {
		return
	}

	d.stats.incEnqueued()
	select {
	case q.ch <- payload:
	default:
		d.stats.incDropped()
		if d.log != nil {
			d.log.WithFields(map[string]interface{}{
				"project_id": projectID,
				"agent_id":   agentID,
				"sequence":   payload.Sequence,
			}).Warn("delivery queue full, dropping notification")
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, key string, q *agentQueue) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-q.ch:
			if !ok {
				return
			}
			d.deliverOne(ctx, q, payload)
		}
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, q *agentQueue, payload model.UpdatePayload) {
	deliverer, ok := d.deliverers[q.reg.Delivery]
	if !ok {
		d.stats.incFailed()
		return
	}
	if err := deliverer.Deliver(ctx, q.reg, payload); err != nil {
		d.stats.incFailed()
		if d.log != nil {
			d.log.WithFields(map[string]interface{}{
				"agent_id": q.reg.AgentID,
				"sequence": payload.Sequence,
				"error":    err.Error(),
			}).Error("notification delivery failed")
		}
		return
	}
	d.stats.incDelivered()
	if d.OnDelivered != nil {
		d.OnDelivered(q.reg.ProjectID, q.reg.AgentID, payload.Sequence)
	}
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats { return d.stats.Snapshot() }

// Shutdown cancels every worker and waits for them to drain.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	for _, q := range d.queues {
		q.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}
