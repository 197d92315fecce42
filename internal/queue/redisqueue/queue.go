// Package redisqueue implements queue.Store on Redis lists.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/snowball-crawler/internal/queue"
	"github.com/JakeFAU/snowball-crawler/internal/redisclient"
)

// KEYS[1] queue, KEYS[2] in-flight list; ARGV[1] leased item, ARGV[2] next payload.
var requeueScript = redis.NewScript(`
if redis.call("LREM", KEYS[2], 1, ARGV[1]) == 0 then
	return 0
end
redis.call("RPUSH", KEYS[1], ARGV[2])
return 1
`)

// KEYS[1] queue, KEYS[2] in-flight list. Pops from the in-flight tail and pushes
// to the queue head so the original order is kept.
var recoverScript = redis.NewScript(`
local n = 0
local item = redis.call("RPOP", KEYS[2])
while item do
	redis.call("LPUSH", KEYS[1], item)
	n = n + 1
	item = redis.call("RPOP", KEYS[2])
end
return n
`)

// Queue is a consumer view over Redis lists.
type Queue struct {
	client   redis.UniversalClient
	consumer string
}

// New builds a Queue leasing on behalf of consumer.
func New(client redis.UniversalClient, consumer string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumer == "" {
		return nil, errors.New("consumer id is required")
	}
	return &Queue{client: client, consumer: consumer}, nil
}

// WithConsumer returns a view leasing on behalf of id.
func (q *Queue) WithConsumer(id string) queue.Store {
	return &Queue{client: q.client, consumer: id}
}

func (q *Queue) inflightKey(name string) string {
	return name + ":inflight:" + q.consumer
}

// Push appends items with a single RPUSH.
func (q *Queue) Push(ctx context.Context, name string, items ...any) error {
	if len(items) == 0 {
		return nil
	}
	args := make([]any, 0, len(items))
	for _, item := range items {
		raw, err := queue.Encode(item)
		if err != nil {
			return err
		}
		args = append(args, string(raw))
	}
	if err := q.client.RPush(ctx, name, args...).Err(); err != nil {
		return wrap("rpush "+name, err)
	}
	return nil
}

// Pop moves the head into this consumer's in-flight list.
func (q *Queue) Pop(ctx context.Context, name string) (*queue.Lease, error) {
	item, err := q.client.LMove(ctx, name, q.inflightKey(name), "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, wrap("lmove "+name, err)
	}
	return &queue.Lease{Queue: name, Payload: json.RawMessage(item)}, nil
}

// Ack removes the leased item from the in-flight list.
func (q *Queue) Ack(ctx context.Context, lease *queue.Lease) error {
	n, err := q.client.LRem(ctx, q.inflightKey(lease.Queue), 1, string(lease.Payload)).Result()
	if err != nil {
		return wrap("lrem "+lease.Queue, err)
	}
	if n == 0 {
		return queue.ErrUnknownLease
	}
	return nil
}

// Requeue atomically releases the lease and appends payload at the tail.
func (q *Queue) Requeue(ctx context.Context, lease *queue.Lease, payload any) error {
	next := lease.Payload
	if payload != nil {
		raw, err := queue.Encode(payload)
		if err != nil {
			return err
		}
		next = raw
	}
	keys := []string{lease.Queue, q.inflightKey(lease.Queue)}
	n, err := requeueScript.Run(ctx, q.client, keys, string(lease.Payload), string(next)).Int()
	if err != nil {
		return wrap("requeue "+lease.Queue, err)
	}
	if n == 0 {
		return queue.ErrUnknownLease
	}
	return nil
}

// Recover returns parked items to the head of the queue.
func (q *Queue) Recover(ctx context.Context, name string) (int, error) {
	n, err := recoverScript.Run(ctx, q.client, []string{name, q.inflightKey(name)}).Int()
	if err != nil {
		return 0, wrap("recover "+name, err)
	}
	return n, nil
}

// List returns a range without removal.
func (q *Queue) List(ctx context.Context, name string, start, stop int64) ([]json.RawMessage, error) {
	items, err := q.client.LRange(ctx, name, start, stop).Result()
	if err != nil {
		return nil, wrap("lrange "+name, err)
	}
	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		out[i] = json.RawMessage(item)
	}
	return out, nil
}

// Len reports the queue depth.
func (q *Queue) Len(ctx context.Context, name string) (int64, error) {
	n, err := q.client.LLen(ctx, name).Result()
	if err != nil {
		return 0, wrap("llen "+name, err)
	}
	return n, nil
}

func wrap(op string, err error) error {
	if redisclient.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, queue.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
