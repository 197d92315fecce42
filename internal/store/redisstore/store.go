// Package redisstore implements the versioned record store on Redis hashes.
//
// Each namespace is a hash of wire-shaped records ({k, v, t, tls, tlp}) plus a
// sibling hash holding the canonical value per key. Classification and the
// write happen inside one Lua script so concurrent producers never interleave.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/snowball-crawler/internal/redisclient"
	"github.com/JakeFAU/snowball-crawler/internal/store"
)

const valuesSuffix = ":values"

// KEYS[1] records hash, KEYS[2] values hash; ARGV is (key, value, record) triples.
var upsertScript = redis.NewScript(`
local out = {}
for i = 1, #ARGV, 3 do
	local key, value, record = ARGV[i], ARGV[i + 1], ARGV[i + 2]
	local prev = redis.call("HGET", KEYS[2], key)
	if prev == value then
		out[#out + 1] = "unchanged"
	else
		redis.call("HSET", KEYS[1], key, record)
		redis.call("HSET", KEYS[2], key, value)
		if prev then
			out[#out + 1] = "updated"
		else
			out[#out + 1] = "inserted"
		end
	end
end
return out
`)

// Store is a Redis-backed store.Store.
type Store struct {
	client redis.UniversalClient
}

// New wraps an existing client.
func New(client redis.UniversalClient) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Store{client: client}, nil
}

// Upsert writes records and returns their classification.
func (s *Store) Upsert(ctx context.Context, namespace string, records ...store.Record) ([]store.Outcome, error) {
	if len(records) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(records)*3)
	for _, rec := range records {
		n, err := store.Normalize(rec)
		if err != nil {
			return nil, err
		}
		wire, err := json.Marshal(n)
		if err != nil {
			return nil, fmt.Errorf("marshal record %q: %w", n.Key, err)
		}
		args = append(args, n.Key, string(n.Value), string(wire))
	}
	res, err := upsertScript.Run(ctx, s.client, []string{namespace, namespace + valuesSuffix}, args...).StringSlice()
	if err != nil {
		return nil, wrap(fmt.Sprintf("upsert %s", namespace), err)
	}
	outcomes := make([]store.Outcome, len(res))
	for i, r := range res {
		outcomes[i] = store.Outcome(r)
	}
	return outcomes, nil
}

// Get projects field from every record in the namespace.
func (s *Store) Get(ctx context.Context, namespace, field string) (map[string]json.RawMessage, error) {
	all, err := s.GetAll(ctx, namespace)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(all))
	for key, rec := range all {
		if v, ok := store.Project(rec.Value, field); ok {
			out[key] = v
		}
	}
	return out, nil
}

// GetAll decodes every record in the namespace.
func (s *Store) GetAll(ctx context.Context, namespace string) (map[string]store.Record, error) {
	raw, err := s.client.HGetAll(ctx, namespace).Result()
	if err != nil {
		return nil, wrap(fmt.Sprintf("hgetall %s", namespace), err)
	}
	out := make(map[string]store.Record, len(raw))
	for key, value := range raw {
		rec, err := decodeRecord(key, value)
		if err != nil {
			return nil, err
		}
		out[key] = rec
	}
	return out, nil
}

// Keys lists the namespace keys in lexical order.
func (s *Store) Keys(ctx context.Context, namespace string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, namespace).Result()
	if err != nil {
		return nil, wrap(fmt.Sprintf("hkeys %s", namespace), err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Lookup fetches a single record.
func (s *Store) Lookup(ctx context.Context, namespace, key string) (store.Record, bool, error) {
	value, err := s.client.HGet(ctx, namespace, key).Result()
	if errors.Is(err, redis.Nil) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, wrap(fmt.Sprintf("hget %s %s", namespace, key), err)
	}
	rec, err := decodeRecord(key, value)
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

// decodeRecord accepts both full wire records and bare values written by
// producers that only store v.
func decodeRecord(key, raw string) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return store.Record{}, fmt.Errorf("decode record %q: %w", key, err)
	}
	if rec.Key == "" && rec.Value == nil {
		rec = store.Record{Key: key, Value: json.RawMessage(raw)}
	}
	rec.Key = key
	return rec, nil
}

func wrap(op string, err error) error {
	if redisclient.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
