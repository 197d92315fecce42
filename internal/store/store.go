package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Outcome classifies a single versioned write.
type Outcome string

// Upsert outcomes.
const (
	Inserted  Outcome = "inserted"
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
)

var (
	// ErrUnavailable wraps connectivity failures of the backing store.
	ErrUnavailable = errors.New("record store unavailable")
	// ErrInvalidRecord rejects records without a key or with a non-object value.
	ErrInvalidRecord = errors.New("invalid record")
)

// Record is a versioned value in a namespace. The JSON tags are the wire shape
// shared with every other producer writing the same namespaces.
type Record struct {
	Key       string          `json:"k"`
	Value     json.RawMessage `json:"v"`
	Timestamp int64           `json:"t"`
	Tag       string          `json:"tls"`
	Hint      string          `json:"tlp"`
}

// Store is a namespaced key/value store with classified upserts.
type Store interface {
	// Upsert writes every record atomically per key and returns one outcome per
	// record, in input order.
	Upsert(ctx context.Context, namespace string, records ...Record) ([]Outcome, error)
	// Get projects field out of every value in the namespace. Records whose
	// value lacks the field are omitted.
	Get(ctx context.Context, namespace, field string) (map[string]json.RawMessage, error)
	GetAll(ctx context.Context, namespace string) (map[string]Record, error)
	Keys(ctx context.Context, namespace string) ([]string, error)
	Lookup(ctx context.Context, namespace, key string) (Record, bool, error)
}

// NewRecord marshals value and stamps it with ts in milliseconds.
func NewRecord(key string, value any, ts time.Time, tag, hint string) (Record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Record{}, fmt.Errorf("marshal value for %q: %w", key, err)
	}
	rec := Record{
		Key:       key,
		Value:     raw,
		Timestamp: ts.UnixMilli(),
		Tag:       tag,
		Hint:      hint,
	}
	return Normalize(rec)
}

// Normalize validates rec and rewrites its value into canonical form so that
// deep-equal values compare equal byte for byte.
func Normalize(rec Record) (Record, error) {
	if rec.Key == "" {
		return Record{}, fmt.Errorf("%w: empty key", ErrInvalidRecord)
	}
	canon, err := Canonicalize(rec.Value)
	if err != nil {
		return Record{}, fmt.Errorf("%w: key %q: %v", ErrInvalidRecord, rec.Key, err)
	}
	rec.Value = canon
	return rec, nil
}

// Canonicalize re-encodes a JSON object with sorted keys and normalized
// numbers, so deep-equal values encode to the same bytes. Integer literals are
// kept as written; see canonicalNumber for the rest.
func Canonicalize(raw json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if _, ok := value.(map[string]any); !ok {
		return nil, errors.New("value must be a JSON object")
	}
	value = canonicalValue(value)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func canonicalValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		return canonicalNumber(t)
	case map[string]any:
		for k, val := range t {
			t[k] = canonicalValue(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = canonicalValue(val)
		}
		return t
	default:
		return v
	}
}

// maxExactFloat is the largest magnitude below which every whole float64 is
// an exact integer.
const maxExactFloat = 1 << 53

// canonicalNumber rewrites literals with a fraction or exponent: whole values
// within float64's exact range become integers (1.0 and 1e0 read as 1), the
// rest take the shortest float form. Literals that overflow are kept.
func canonicalNumber(n json.Number) json.Number {
	lit := n.String()
	if !strings.ContainsAny(lit, ".eE") {
		return n
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return n
	}
	if f == math.Trunc(f) && math.Abs(f) < maxExactFloat {
		return json.Number(strconv.FormatInt(int64(f), 10))
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
}

// Project returns the named top-level field of a JSON object value.
func Project(value json.RawMessage, field string) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		return nil, false
	}
	v, ok := fields[field]
	return v, ok
}

// Decode unmarshals a record value into T.
func Decode[T any](rec Record) (T, error) {
	var out T
	if err := json.Unmarshal(rec.Value, &out); err != nil {
		return out, fmt.Errorf("decode record %q: %w", rec.Key, err)
	}
	return out, nil
}
