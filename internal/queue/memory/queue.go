// Package memory provides an in-process queue.Store for local development and
// tests.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/snowball-crawler/internal/queue"
)

type broker struct {
	mu       sync.Mutex
	queues   map[string][]json.RawMessage
	inflight map[string][]json.RawMessage
}

// Queue is a consumer view over a shared in-memory broker.
type Queue struct {
	b        *broker
	consumer string
}

// NewQueue constructs an empty broker and returns its default consumer view.
func NewQueue() *Queue {
	return &Queue{
		b: &broker{
			queues:   make(map[string][]json.RawMessage),
			inflight: make(map[string][]json.RawMessage),
		},
		consumer: "default",
	}
}

// WithConsumer returns a view leasing on behalf of id.
func (q *Queue) WithConsumer(id string) queue.Store {
	return &Queue{b: q.b, consumer: id}
}

func (q *Queue) inflightKey(name string) string {
	return name + "\x00" + q.consumer
}

// Push appends items preserving order.
func (q *Queue) Push(ctx context.Context, name string, items ...any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("push canceled: %w", err)
	}
	encoded := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := queue.Encode(item)
		if err != nil {
			return err
		}
		encoded = append(encoded, raw)
	}
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.b.queues[name] = append(q.b.queues[name], encoded...)
	return nil
}

// Pop leases the head item.
func (q *Queue) Pop(ctx context.Context, name string) (*queue.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pop canceled: %w", err)
	}
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	items := q.b.queues[name]
	if len(items) == 0 {
		return nil, queue.ErrEmpty
	}
	head := items[0]
	q.b.queues[name] = items[1:]
	key := q.inflightKey(name)
	q.b.inflight[key] = append(q.b.inflight[key], head)
	return &queue.Lease{Queue: name, Payload: head}, nil
}

// Ack drops the leased item.
func (q *Queue) Ack(_ context.Context, lease *queue.Lease) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	return q.release(lease)
}

// Requeue releases the lease and appends payload (or the original) at the tail.
func (q *Queue) Requeue(_ context.Context, lease *queue.Lease, payload any) error {
	next := lease.Payload
	if payload != nil {
		raw, err := queue.Encode(payload)
		if err != nil {
			return err
		}
		next = raw
	}
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	if err := q.release(lease); err != nil {
		return err
	}
	q.b.queues[lease.Queue] = append(q.b.queues[lease.Queue], next)
	return nil
}

// release must be called with the broker lock held.
func (q *Queue) release(lease *queue.Lease) error {
	key := q.inflightKey(lease.Queue)
	parked := q.b.inflight[key]
	for i, item := range parked {
		if bytes.Equal(item, lease.Payload) {
			q.b.inflight[key] = append(parked[:i:i], parked[i+1:]...)
			return nil
		}
	}
	return queue.ErrUnknownLease
}

// Recover moves this consumer's parked items back to the head of the queue.
func (q *Queue) Recover(_ context.Context, name string) (int, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	key := q.inflightKey(name)
	parked := q.b.inflight[key]
	if len(parked) == 0 {
		return 0, nil
	}
	restored := make([]json.RawMessage, 0, len(parked)+len(q.b.queues[name]))
	restored = append(restored, parked...)
	restored = append(restored, q.b.queues[name]...)
	q.b.queues[name] = restored
	delete(q.b.inflight, key)
	return len(parked), nil
}

// List returns a copy of the requested range.
func (q *Queue) List(_ context.Context, name string, start, stop int64) ([]json.RawMessage, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	items := q.b.queues[name]
	lo, hi, ok := queue.Span(int64(len(items)), start, stop)
	if !ok {
		return []json.RawMessage{}, nil
	}
	out := make([]json.RawMessage, hi-lo)
	copy(out, items[lo:hi])
	return out, nil
}

// Len reports the queue depth, excluding in-flight items.
func (q *Queue) Len(_ context.Context, name string) (int64, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	return int64(len(q.b.queues[name])), nil
}
