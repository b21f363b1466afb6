// Package warehouse defines the idempotent table synchronization
// contract shared by the in-memory, Postgres, and ClickHouse backends.
package warehouse

import (
	"context"

	"mezo-analytics/internal/domain"
)

// Sink reconciles batches of rows against named warehouse tables
// without creating duplicate keys or losing history. Tables are created
// lazily on first sync; rows are inserted or overwritten, never deleted.
type Sink interface {
	// EnsureTable creates the table with a schema inferred from sample
	// if it does not exist, and no-ops otherwise. Calling it twice with
	// the same or a superset schema has no additional effect. Returns a
	// SchemaConflictError when an existing column's stored type is
	// incompatible with the inferred one.
	EnsureTable(ctx context.Context, table string, sample domain.Batch) error

	// Upsert makes the table reflect the batch under the given key
	// column. The batch is deduplicated by key keeping the last
	// occurrence in batch order; matched rows are fully overwritten
	// column by column (stored columns absent from the incoming row
	// keep their previous value), unmatched rows are inserted, and new
	// columns extend the table additively. Rows outside the batch's
	// keys are untouched. A partial failure is reported as an
	// UpsertError naming exactly the keys not yet applied.
	Upsert(ctx context.Context, table string, batch domain.Batch, keyColumn string) error

	// FetchExistingKeys returns the set of key values currently stored.
	// A missing table yields an empty set, not an error.
	FetchExistingKeys(ctx context.Context, table string, keyColumn string) (map[string]struct{}, error)
}

// ValidateKeys checks that every row of the batch carries a non-null
// value in the key column. Shared by all backends before any write.
func ValidateKeys(batch domain.Batch, keyColumn string) error {
	for _, row := range batch {
		v, ok := row[keyColumn]
		if !ok || v.IsNull() {
			return ErrMissingKey
		}
	}
	return nil
}
