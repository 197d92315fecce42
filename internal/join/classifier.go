package join

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// DictionaryEntry is one line of the related-code dictionary.
type DictionaryEntry struct {
	StockName   string `json:"stock_name"`
	CompanyName string `json:"company_name"`
	Code        string `json:"code"`
}

// Classifier finds dictionary names in text and reports their codes.
type Classifier struct {
	matcher *ahocorasick.Matcher
	codes   []string
}

// NewClassifier indexes stock and company names of entries.
func NewClassifier(entries []DictionaryEntry) *Classifier {
	var (
		names []string
		codes []string
	)
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.Code == "" {
			continue
		}
		for _, name := range []string{e.StockName, e.CompanyName} {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
			codes = append(codes, e.Code)
		}
	}
	if len(names) == 0 {
		return &Classifier{}
	}
	return &Classifier{matcher: ahocorasick.NewStringMatcher(names), codes: codes}
}

// LoadDictionary reads JSON lines of DictionaryEntry.
func LoadDictionary(r io.Reader) ([]DictionaryEntry, error) {
	var entries []DictionaryEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var e DictionaryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("dictionary line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return entries, nil
}

// LoadClassifier builds a Classifier from a dictionary file. An empty path
// yields a classifier that matches nothing.
func LoadClassifier(path string) (*Classifier, error) {
	if path == "" {
		return NewClassifier(nil), nil
	}
	// #nosec G304 -- dictionary path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer func() { _ = f.Close() }()
	entries, err := LoadDictionary(f)
	if err != nil {
		return nil, err
	}
	return NewClassifier(entries), nil
}

// Classify returns the sorted distinct codes whose names occur in text.
func (c *Classifier) Classify(text string) []string {
	if c == nil || c.matcher == nil || text == "" {
		return []string{}
	}
	set := make(map[string]struct{})
	for _, idx := range c.matcher.MatchThreadSafe([]byte(text)) {
		set[c.codes[idx]] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
