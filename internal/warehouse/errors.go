package warehouse

import (
	"errors"
	"fmt"
	"strings"

	"mezo-analytics/internal/domain"
)

// Sink errors.
var (
	// ErrMissingKey is returned when a batch row lacks a non-null value
	// in the declared key column.
	ErrMissingKey = errors.New("key column missing or null in batch row")

	// ErrEmptyBatch is returned when an operation that needs a sample
	// batch for schema inference receives no rows.
	ErrEmptyBatch = errors.New("empty batch")
)

// SchemaConflictError reports an existing column whose stored type is
// incompatible with the type inferred from an incoming batch. It is
// never retried.
type SchemaConflictError struct {
	Table    string
	Column   string
	Stored   domain.Kind
	Incoming domain.Kind
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("table %s: column %s: stored type %s conflicts with incoming %s",
		e.Table, e.Column, e.Stored, e.Incoming)
}

// UpsertError reports a partially applied batch. Failed lists, in batch
// order, exactly the keys that were not applied; keys written before the
// failure remain written.
type UpsertError struct {
	Table  string
	Failed []string
	Err    error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert into %s: %d keys not applied (%s): %v",
		e.Table, len(e.Failed), summarizeKeys(e.Failed), e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }

// summarizeKeys renders at most five keys for log lines.
func summarizeKeys(keys []string) string {
	const max = 5
	if len(keys) <= max {
		return strings.Join(keys, ",")
	}
	return strings.Join(keys[:max], ",") + ",..."
}
