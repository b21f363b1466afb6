// Package memory provides an in-memory warehouse sink with the full
// upsert semantics. It backs unit tests and the pipeline dry-run mode.
package memory

import (
	"context"
	"sync"

	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/warehouse"
)

// table holds one named table: its evolved schema plus rows keyed by
// the canonical string form of their key value, in insertion order.
type table struct {
	schema *warehouse.Schema
	rows   map[string]domain.Row
	order  []string
}

// Sink is an in-memory implementation of warehouse.Sink.
type Sink struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// NewSink creates an empty in-memory sink.
func NewSink() *Sink {
	return &Sink{tables: make(map[string]*table)}
}

// Compile-time interface check.
var _ warehouse.Sink = (*Sink)(nil)

// EnsureTable creates the table with a schema inferred from sample if
// absent. When present, the sample schema is checked for conflicts but
// the stored schema is left unchanged.
func (s *Sink) EnsureTable(_ context.Context, name string, sample domain.Batch) error {
	if len(sample) == 0 {
		return warehouse.ErrEmptyBatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inferred := warehouse.InferSchema(sample)
	t, exists := s.tables[name]
	if !exists {
		s.tables[name] = &table{
			schema: inferred,
			rows:   make(map[string]domain.Row),
		}
		return nil
	}

	// Probe for conflicts without evolving the stored schema.
	if _, err := t.schema.Clone().Merge(name, inferred); err != nil {
		return err
	}
	return nil
}

// Upsert reconciles the batch against the table, creating it first when
// missing.
func (s *Sink) Upsert(_ context.Context, name string, batch domain.Batch, keyColumn string) error {
	if len(batch) == 0 {
		return nil
	}
	if err := warehouse.ValidateKeys(batch, keyColumn); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deduped := batch.DedupeByKey(keyColumn)
	incoming := warehouse.InferSchema(deduped)

	t, exists := s.tables[name]
	if !exists {
		t = &table{
			schema: incoming,
			rows:   make(map[string]domain.Row),
		}
		s.tables[name] = t
	} else if _, err := t.schema.Merge(name, incoming); err != nil {
		return err
	}

	for _, row := range deduped {
		key := row.Key(keyColumn)
		stored, ok := t.rows[key]
		if !ok {
			t.rows[key] = row.Clone()
			t.order = append(t.order, key)
			continue
		}
		// Full overwrite of the incoming columns; stored columns absent
		// from the incoming row keep their previous value.
		for col, v := range row {
			stored[col] = v
		}
	}
	return nil
}

// FetchExistingKeys returns the stored key set; a missing table yields
// an empty set.
func (s *Sink) FetchExistingKeys(_ context.Context, name string, keyColumn string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make(map[string]struct{})
	t, exists := s.tables[name]
	if !exists {
		return keys, nil
	}
	for _, row := range t.rows {
		keys[row.Key(keyColumn)] = struct{}{}
	}
	return keys, nil
}

// Rows returns the table's rows in first-insertion order, cloned.
// Test helper; not part of the Sink contract.
func (s *Sink) Rows(name string) domain.Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tables[name]
	if !exists {
		return nil
	}
	out := make(domain.Batch, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.rows[key].Clone())
	}
	return out
}

// Schema returns a copy of the table's evolved schema, or nil when the
// table does not exist.
func (s *Sink) Schema(name string) *warehouse.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tables[name]
	if !exists {
		return nil
	}
	return t.schema.Clone()
}
