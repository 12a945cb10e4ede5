package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cahoots-org/contex/internal/model"
)

type recordingDeliverer struct {
	mu   sync.Mutex
	seen []model.UpdatePayload
	wg   *sync.WaitGroup
}

func (r *recordingDeliverer) Deliver(_ context.Context, _ model.Registration, payload model.UpdatePayload) error {
	r.mu.Lock()
	r.seen = append(r.seen, payload)
	r.mu.Unlock()
	if r.wg != nil {
		r.wg.Done()
	}
	return nil
}

func TestDispatcher_DeliversInStrictSequenceOrder(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(5)
	rec := &recordingDeliverer{wg: &wg}

	d := New(map[model.DeliveryMode]Deliverer{model.DeliveryPubSub: rec}, nil, 100)
	reg := model.Registration{ProjectID: "p1", AgentID: "a1", Delivery: model.DeliveryPubSub}
	d.Ensure(context.Background(), reg)

	for i := 1; i <= 5; i++ {
		d.Enqueue("p1", "a1", model.UpdatePayload{Sequence: int64(i)})
	}

	wg.Wait()
	d.Shutdown()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.seen, 5)
	for i, p := range rec.seen {
		assert.Equalf(t, int64(i+1), p.Sequence, "out-of-order delivery at index %d", i)
	}
}

func TestDispatcher_EnqueueBeforeEnsureIsANoop(t *testing.T) {
	d := New(map[model.DeliveryMode]Deliverer{}, nil, 10)
	// Must not panic or block when no worker exists yet for the agent.
	d.Enqueue("p1", "unknown", model.UpdatePayload{Sequence: 1})
	assert.EqualValues(t, 0, d.Stats().Enqueued, "no queue exists to accept it")
}

type blockingDeliverer struct {
	release chan struct{}
	done    chan model.UpdatePayload
}

func (b *blockingDeliverer) Deliver(_ context.Context, _ model.Registration, payload model.UpdatePayload) error {
	<-b.release
	b.done <- payload
	return nil
}

func TestDispatcher_DropsOnFullQueueWithoutBlockingCaller(t *testing.T) {
	block := &blockingDeliverer{release: make(chan struct{}), done: make(chan model.UpdatePayload, 10)}
	d := New(map[model.DeliveryMode]Deliverer{model.DeliveryPubSub: block}, nil, 2)
	reg := model.Registration{ProjectID: "p1", AgentID: "a1", Delivery: model.DeliveryPubSub}
	d.Ensure(context.Background(), reg)

	// First Enqueue is picked up by the worker immediately and blocks it
	// on `release`, so the queue (capacity 2) fills from the next two.
	d.Enqueue("p1", "a1", model.UpdatePayload{Sequence: 1})
	time.Sleep(20 * time.Millisecond)
	d.Enqueue("p1", "a1", model.UpdatePayload{Sequence: 2})
	d.Enqueue("p1", "a1", model.UpdatePayload{Sequence: 3})
	d.Enqueue("p1", "a1", model.UpdatePayload{Sequence: 4}) // should be dropped

	close(block.release)

	received := make([]int64, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case p := <-block.done:
			received = append(received, p.Sequence)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	d.Shutdown()

	assert.EqualValues(t, 1, d.Stats().Dropped)
	for i, seq := range received {
		assert.Equalf(t, int64(i+1), seq, "received[%d]", i)
	}
}

func TestDispatcher_RemoveStopsWorker(t *testing.T) {
	rec := &recordingDeliverer{}
	d := New(map[model.DeliveryMode]Deliverer{model.DeliveryPubSub: rec}, nil, 10)
	reg := model.Registration{ProjectID: "p1", AgentID: "a1", Delivery: model.DeliveryPubSub}
	d.Ensure(context.Background(), reg)
	d.Remove("p1", "a1")

	// Enqueue after Remove should be a no-op: no queue to accept it.
	d.Enqueue("p1", "a1", model.UpdatePayload{Sequence: 1})
	time.Sleep(10 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.seen, "delivered after Remove")
}
