// Package mock implements an in-memory stand-in for the DinORM storage
// service. It satisfies docstore.Backend with service-faithful semantics:
// server-generated keys, service-side merge on update, equality filtering
// and a subset of the aggregation stages.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dinorm/dinorm_sdk_go/internal/devseed"
	"github.com/dinorm/dinorm_sdk_go/pkg/docstore"
)

// Mock is an in-memory record store safe for concurrent use. Records keep
// insertion order so find and aggregate results are deterministic.
type Mock struct {
	mu      sync.RWMutex
	records map[string][]byte
	order   []string
	newKey  func() string
}

// Option configures the mock instance.
type Option func(*Mock)

// WithKeyFunc overrides the key generator (useful for deterministic tests).
func WithKeyFunc(fn func() string) Option {
	return func(m *Mock) {
		if fn != nil {
			m.newKey = fn
		}
	}
}

// New creates an empty mock store.
func New(opts ...Option) *Mock {
	m := &Mock{
		records: make(map[string][]byte),
		newKey:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed loads initial records from seed entries (typically decoded via
// devseed.Load).
func (m *Mock) Seed(entries []devseed.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			return fmt.Errorf("mock: seed entry missing key")
		}
		data := append([]byte(nil), e.Value...)
		if len(data) == 0 {
			data = []byte("null")
		}
		if _, exists := m.records[e.Key]; !exists {
			m.order = append(m.order, e.Key)
		}
		m.records[e.Key] = data
	}
	return nil
}

// Len reports the number of stored records.
func (m *Mock) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Add stores a new record under a generated key.
func (m *Mock) Add(ctx context.Context, value json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !json.Valid(value) {
		return "", fmt.Errorf("mock: value is not valid JSON")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.newKey()
	m.records[key] = append([]byte(nil), value...)
	m.order = append(m.order, key)
	return key, nil
}

// Get returns the record stored under key, or docstore.ErrNotFound.
func (m *Mock) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[key]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return append(json.RawMessage(nil), data...), nil
}

// Update merges the supplied fields into the stored record, the way the
// remote service does. The record must already exist.
func (m *Mock) Update(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[key]
	if !ok {
		return docstore.ErrNotFound
	}

	data, err := Merge(current, value)
	if err != nil {
		return err
	}
	m.records[key] = data
	return nil
}

// Merge overlays the top-level fields of patch onto current, the way the
// remote service applies partial updates.
func Merge(current, patch json.RawMessage) (json.RawMessage, error) {
	var patchFields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &patchFields); err != nil {
		return nil, fmt.Errorf("mock: decode update value: %w", err)
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(current, &merged); err != nil {
		return nil, fmt.Errorf("mock: decode stored record: %w", err)
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage, len(patchFields))
	}
	for field, raw := range patchFields {
		merged[field] = raw
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("mock: encode merged record: %w", err)
	}
	return data, nil
}

// Find returns the records whose top-level fields equal every condition in
// the query, in insertion order.
func (m *Mock) Find(ctx context.Context, query docstore.Query) ([]json.RawMessage, error) {
	docs, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		if Matches(doc, query) {
			raw, err := json.Marshal(doc)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

// Aggregate runs the supported pipeline stages over the stored records.
func (m *Mock) Aggregate(ctx context.Context, pipeline docstore.Pipeline) ([]json.RawMessage, error) {
	docs, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	results, err := ApplyPipeline(docs, pipeline)
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, 0, len(results))
	for _, doc := range results {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// Delete removes the record stored under key, or docstore.ErrNotFound.
func (m *Mock) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; !ok {
		return docstore.ErrNotFound
	}
	delete(m.records, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// snapshot decodes all records into generic documents, in insertion order.
func (m *Mock) snapshot(ctx context.Context) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]map[string]any, 0, len(m.order))
	for _, key := range m.order {
		var doc map[string]any
		if err := json.Unmarshal(m.records[key], &doc); err != nil {
			return nil, fmt.Errorf("mock: decode record %q: %w", key, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Matches reports whether every condition in the query equals the
// corresponding top-level field of the document.
func Matches(doc map[string]any, query docstore.Query) bool {
	for field, cond := range query {
		value, ok := doc[field]
		if !ok || !jsonEqual(value, cond) {
			return false
		}
	}
	return true
}

// ApplyPipeline evaluates the supported aggregation stages ($match, $sort,
// $skip, $limit, $count) over the documents. Unknown stages yield
// docstore.ErrUnsupportedFeature.
func ApplyPipeline(docs []map[string]any, pipeline docstore.Pipeline) ([]map[string]any, error) {
	current := docs
	for i, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("mock: stage %d must hold exactly one operator", i)
		}
		for op, spec := range stage {
			var err error
			switch op {
			case "$match":
				current, err = applyMatch(current, spec)
			case "$sort":
				current, err = applySort(current, spec)
			case "$skip":
				current, err = applySkip(current, spec)
			case "$limit":
				current, err = applyLimit(current, spec)
			case "$count":
				return applyCount(current, spec)
			default:
				err = fmt.Errorf("%w: aggregation stage %q", docstore.ErrUnsupportedFeature, op)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return current, nil
}

func applyMatch(docs []map[string]any, spec any) ([]map[string]any, error) {
	query, ok := spec.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mock: $match expects a mapping, got %T", spec)
	}
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		if Matches(doc, query) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func applySort(docs []map[string]any, spec any) ([]map[string]any, error) {
	fields, ok := spec.(map[string]any)
	if !ok || len(fields) != 1 {
		return nil, fmt.Errorf("mock: $sort expects a single-field mapping")
	}
	var field string
	var direction int
	for f, d := range fields {
		field = f
		n, ok := asInt(d)
		if !ok || (n != 1 && n != -1) {
			return nil, fmt.Errorf("mock: $sort direction for %q must be 1 or -1", f)
		}
		direction = n
	}

	out := append([]map[string]any(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		if direction < 0 {
			return lessValues(out[j][field], out[i][field])
		}
		return lessValues(out[i][field], out[j][field])
	})
	return out, nil
}

func applySkip(docs []map[string]any, spec any) ([]map[string]any, error) {
	n, ok := asInt(spec)
	if !ok || n < 0 {
		return nil, fmt.Errorf("mock: $skip expects a non-negative integer")
	}
	if n >= len(docs) {
		return nil, nil
	}
	return docs[n:], nil
}

func applyLimit(docs []map[string]any, spec any) ([]map[string]any, error) {
	n, ok := asInt(spec)
	if !ok || n < 0 {
		return nil, fmt.Errorf("mock: $limit expects a non-negative integer")
	}
	if n < len(docs) {
		return docs[:n], nil
	}
	return docs, nil
}

func applyCount(docs []map[string]any, spec any) ([]map[string]any, error) {
	name, ok := spec.(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("mock: $count expects a non-empty field name")
	}
	return []map[string]any{{name: len(docs)}}, nil
}

// jsonEqual compares two values through their canonical JSON encoding, so
// int(1), float64(1) and json.Number("1") all compare equal.
func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func lessValues(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af < bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) < string(bb)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
