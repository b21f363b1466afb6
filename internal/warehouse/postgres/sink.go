// Package postgres implements the warehouse sink on PostgreSQL.
// Tables are created lazily from inferred schemas, extended additively
// via ALTER TABLE, and written with per-row keyed upserts.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/retry"
	"mezo-analytics/internal/warehouse"
)

// Sink implements warehouse.Sink using PostgreSQL.
type Sink struct {
	pool   *Pool
	policy retry.Policy
	log    *zap.Logger
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithRetryPolicy sets the per-row retry policy.
func WithRetryPolicy(p retry.Policy) SinkOption {
	return func(s *Sink) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) SinkOption {
	return func(s *Sink) { s.log = log }
}

// NewSink creates a Postgres-backed sink.
func NewSink(pool *Pool, opts ...SinkOption) *Sink {
	s := &Sink{
		pool:   pool,
		policy: retry.DefaultPolicy(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface check.
var _ warehouse.Sink = (*Sink)(nil)

// sqlType maps a value kind to its column type.
func sqlType(k domain.Kind) string {
	switch k {
	case domain.KindNumber:
		return "DOUBLE PRECISION"
	case domain.KindTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// kindOfSQLType maps an information_schema data_type back to a kind.
// Unknown types map to string, the widest kind.
func kindOfSQLType(dataType string) domain.Kind {
	switch strings.ToLower(dataType) {
	case "double precision", "real", "numeric", "integer", "bigint", "smallint":
		return domain.KindNumber
	case "timestamp with time zone", "timestamp without time zone", "date":
		return domain.KindTimestamp
	default:
		return domain.KindString
	}
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// EnsureTable creates the table from the sample's inferred schema if it
// does not exist; otherwise it verifies the stored column types are
// compatible and no-ops.
func (s *Sink) EnsureTable(ctx context.Context, table string, sample domain.Batch) error {
	if len(sample) == 0 {
		return warehouse.ErrEmptyBatch
	}

	inferred := warehouse.InferSchema(sample)
	stored, err := s.storedSchema(ctx, table)
	if err != nil {
		return err
	}
	if stored == nil {
		return s.createTable(ctx, table, inferred)
	}
	if _, err := stored.Clone().Merge(table, inferred); err != nil {
		return err
	}
	return nil
}

// storedSchema reads the table's columns from information_schema,
// returning nil when the table does not exist.
func (s *Sink) storedSchema(ctx context.Context, table string) (*warehouse.Schema, error) {
	query := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`
	rows, err := s.pool.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("query stored schema for %s: %w", table, err)
	}
	defer rows.Close()

	sample := domain.Row{}
	var order []string
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		order = append(order, name)
		switch kindOfSQLType(dataType) {
		case domain.KindNumber:
			sample[name] = domain.Number(0)
		case domain.KindTimestamp:
			sample[name] = domain.Timestamp(time.Unix(0, 0))
		default:
			sample[name] = domain.String("")
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	if len(order) == 0 {
		return nil, nil
	}

	// Rebuild in ordinal order rather than Batch column order.
	schema := warehouse.NewSchema()
	for _, name := range order {
		single := domain.Batch{domain.Row{name: sample[name]}}
		if _, err := schema.Merge("", warehouse.InferSchema(single)); err != nil {
			return nil, err
		}
	}
	return schema, nil
}

func (s *Sink) createTable(ctx context.Context, table string, schema *warehouse.Schema) error {
	cols := make([]string, 0, schema.Len())
	for _, name := range schema.Columns() {
		kind, _ := schema.Kind(name)
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(name), sqlType(kind)))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	s.log.Info("created table", zap.String("table", table), zap.Int("columns", schema.Len()))
	return nil
}

// addColumns extends the table additively.
func (s *Sink) addColumns(ctx context.Context, table string, schema *warehouse.Schema, added []string) error {
	for _, name := range added {
		kind, _ := schema.Kind(name)
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			quoteIdent(table), quoteIdent(name), sqlType(kind))
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("add column %s to %s: %w", name, table, err)
		}
		s.log.Info("added column", zap.String("table", table), zap.String("column", name))
	}
	return nil
}

// ensureKeyIndex guarantees the unique index the keyed upsert conflicts
// against.
func (s *Sink) ensureKeyIndex(ctx context.Context, table, keyColumn string) error {
	name := fmt.Sprintf("%s_%s_key", table, keyColumn)
	ddl := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(name), quoteIdent(table), quoteIdent(keyColumn))
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create key index on %s(%s): %w", table, keyColumn, err)
	}
	return nil
}

// Upsert applies the batch row by row with independent retry per row.
func (s *Sink) Upsert(ctx context.Context, table string, batch domain.Batch, keyColumn string) error {
	if len(batch) == 0 {
		return nil
	}
	if err := warehouse.ValidateKeys(batch, keyColumn); err != nil {
		return err
	}

	deduped := batch.DedupeByKey(keyColumn)
	incoming := warehouse.InferSchema(deduped)

	stored, err := s.storedSchema(ctx, table)
	if err != nil {
		return err
	}
	if stored == nil {
		if err := s.createTable(ctx, table, incoming); err != nil {
			return err
		}
	} else {
		added, err := stored.Merge(table, incoming)
		if err != nil {
			return err
		}
		if err := s.addColumns(ctx, table, stored, added); err != nil {
			return err
		}
	}
	if err := s.ensureKeyIndex(ctx, table, keyColumn); err != nil {
		return err
	}

	return warehouse.ApplyRows(ctx, s.policy, table, deduped, keyColumn,
		func(ctx context.Context, row domain.Row, key string) error {
			if err := s.writeRow(ctx, table, row, keyColumn); err != nil {
				s.log.Warn("row upsert failed",
					zap.String("table", table),
					zap.String("key", key),
					zap.Error(err))
				if isTransientError(err) {
					return retry.Transient(err)
				}
				return err
			}
			return nil
		})
}

// writeRow performs INSERT ... ON CONFLICT (key) DO UPDATE for one row.
func (s *Sink) writeRow(ctx context.Context, table string, row domain.Row, keyColumn string) error {
	cols := domain.Batch{row}.Columns()

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	var updates []string

	for i, col := range cols {
		quoted[i] = quoteIdent(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = toSQLValue(row[col])
		if col != keyColumn {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(col), quoteIdent(col)))
		}
	}

	var query string
	if len(updates) == 0 {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			quoteIdent(table), strings.Join(quoted, ", "),
			strings.Join(placeholders, ", "), quoteIdent(keyColumn))
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			quoteIdent(table), strings.Join(quoted, ", "),
			strings.Join(placeholders, ", "), quoteIdent(keyColumn),
			strings.Join(updates, ", "))
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert row: %w", err)
	}
	return nil
}

// FetchExistingKeys returns the distinct key values stored in the
// table's key column. A missing table yields an empty set.
func (s *Sink) FetchExistingKeys(ctx context.Context, table string, keyColumn string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
		quoteIdent(keyColumn), quoteIdent(table), quoteIdent(keyColumn))
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		if isUndefinedTableError(err) {
			return keys, nil
		}
		return nil, fmt.Errorf("fetch keys from %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys[canonicalKey(raw)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		// Query execution is deferred in pgx; undefined_table can
		// surface here instead of at Query.
		if isUndefinedTableError(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("iterate keys from %s: %w", table, err)
	}
	return keys, nil
}

// toSQLValue converts a domain value to a driver parameter.
func toSQLValue(v domain.Value) any {
	switch v.Kind() {
	case domain.KindString:
		return v.AsString()
	case domain.KindNumber:
		return v.AsFloat()
	case domain.KindTimestamp:
		return v.AsTime()
	default:
		return nil
	}
}

// canonicalKey renders a scanned key with the same canonical form the
// client uses, so set membership matches batch-side keys.
func canonicalKey(raw any) string {
	switch x := raw.(type) {
	case string:
		return domain.String(x).AsString()
	case float64:
		return domain.Number(x).AsString()
	case time.Time:
		return domain.Timestamp(x).AsString()
	default:
		return fmt.Sprintf("%v", x)
	}
}
