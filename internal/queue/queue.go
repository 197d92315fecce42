// Package queue defines the durable FIFO work queues that link crawl stages.
//
// Pop hands an item to exactly one consumer as a Lease. Until the lease is
// settled with Ack or Requeue the item is parked in the consumer's in-flight
// list, so a lost reply or a crash never drops it: Recover returns parked
// items to the head of the queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned by Pop when the queue has no items.
	ErrEmpty = errors.New("queue empty")
	// ErrUnavailable wraps connectivity failures of the backing store.
	ErrUnavailable = errors.New("queue store unavailable")
	// ErrUnknownLease is returned when settling a lease that is not in flight.
	ErrUnknownLease = errors.New("lease not in flight")
)

// Lease is an item handed to a single consumer.
type Lease struct {
	Queue   string
	Payload json.RawMessage
}

// Decode unmarshals the leased payload into v.
func (l *Lease) Decode(v any) error {
	if err := json.Unmarshal(l.Payload, v); err != nil {
		return fmt.Errorf("decode %s item: %w", l.Queue, err)
	}
	return nil
}

// Store is a set of named FIFO queues.
type Store interface {
	// Push appends items in order; each item is JSON-encoded unless it is
	// already a json.RawMessage.
	Push(ctx context.Context, queue string, items ...any) error
	// Pop leases the head item or returns ErrEmpty.
	Pop(ctx context.Context, queue string) (*Lease, error)
	// Ack settles a lease; the item leaves the system.
	Ack(ctx context.Context, lease *Lease) error
	// Requeue settles a lease and appends payload at the tail in one atomic
	// step. A nil payload re-appends the leased item unchanged.
	Requeue(ctx context.Context, lease *Lease, payload any) error
	// Recover returns this consumer's in-flight items to the head of queue.
	Recover(ctx context.Context, queue string) (int, error)
	// List returns items between start and stop inclusive without removing
	// them. Negative indices count from the tail.
	List(ctx context.Context, queue string, start, stop int64) ([]json.RawMessage, error)
	Len(ctx context.Context, queue string) (int64, error)
	// WithConsumer returns a view of the same queues that leases on behalf of
	// another consumer. Consumer ids should be stable across restarts so that
	// Recover finds what a previous run left in flight.
	WithConsumer(id string) Store
}

// Encode turns a push argument into its wire form.
func Encode(item any) (json.RawMessage, error) {
	switch v := item.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("invalid raw JSON item")
		}
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal item: %w", err)
		}
		return b, nil
	}
}

// Span converts inclusive Redis-style indices to a half-open range over n
// items. ok is false when the range is empty.
func Span(n, start, stop int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}
