package join

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// EncodeChunk renders comment payloads as a YAML stream, one explicit
// document per comment, ready to append to a comment log.
func EncodeChunk(payloads []json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	for _, raw := range payloads {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode comment: %w", err)
		}
		out, err := yaml.Marshal(yamlValue(v))
		if err != nil {
			return nil, fmt.Errorf("encode comment: %w", err)
		}
		buf.WriteString("---\n")
		buf.Write(out)
		buf.WriteString("...\n")
	}
	return buf.Bytes(), nil
}

// DecodeLog reads every comment document of a log. A document repeating an
// earlier comment id is skipped, so a chunk appended twice reads once.
func DecodeLog(data []byte) ([]Comment, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var comments []Comment
	seen := make(map[int64]struct{})
	for {
		var c Comment
		err := dec.Decode(&c)
		if errors.Is(err, io.EOF) {
			return comments, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode comment log: %w", err)
		}
		if c.ID == 0 {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		comments = append(comments, c)
	}
}

// yamlValue replaces json.Number with int64 or float64 so numbers are
// written as YAML numbers.
func yamlValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, val := range t {
			t[k] = yamlValue(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = yamlValue(val)
		}
		return t
	default:
		return v
	}
}
