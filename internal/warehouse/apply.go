package warehouse

import (
	"context"

	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/retry"
)

// RowWriter writes a single deduplicated row. Implementations may fail
// transiently (marked via retry.Transient) in which case the row is
// retried independently under the policy.
type RowWriter func(ctx context.Context, row domain.Row, key string) error

// ApplyRows drives a deduplicated batch through a per-row writer with
// independent retry per row. On a non-retriable failure (including
// exhausted retries) the remaining rows are not attempted and the
// returned UpsertError lists, in batch order, exactly the keys that
// were not applied. Rows written before the failure stay written.
func ApplyRows(ctx context.Context, policy retry.Policy, table string, batch domain.Batch, keyColumn string, write RowWriter) error {
	for i, row := range batch {
		key := row.Key(keyColumn)
		err := policy.Do(ctx, func(ctx context.Context) error {
			return write(ctx, row, key)
		})
		if err != nil {
			failed := make([]string, 0, len(batch)-i)
			for _, rest := range batch[i:] {
				failed = append(failed, rest.Key(keyColumn))
			}
			return &UpsertError{Table: table, Failed: failed, Err: err}
		}
	}
	return nil
}
