// Package clickhouse implements the warehouse sink on ClickHouse.
//
// Every synced table carries two internal columns: _key, the canonical
// string form of the row's uniqueness key, and _ver, a monotonically
// increasing version. The table engine is ReplacingMergeTree(_ver)
// ordered by _key, so the highest version per key survives merges and
// FINAL reads. Because a replacing merge swaps whole rows, matched keys
// are merged client-side with their stored row before insertion so that
// columns absent from the incoming row keep their previous value.
package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/retry"
	"mezo-analytics/internal/warehouse"
)

// Internal column names. They never collide with source columns, which
// come from GraphQL/REST field names.
const (
	keyCol = "_key"
	verCol = "_ver"
)

// Sink implements warehouse.Sink using ClickHouse.
type Sink struct {
	conn   *Conn
	policy retry.Policy
	log    *zap.Logger
	now    func() time.Time
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithRetryPolicy sets the batch retry policy.
func WithRetryPolicy(p retry.Policy) SinkOption {
	return func(s *Sink) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) SinkOption {
	return func(s *Sink) { s.log = log }
}

// NewSink creates a ClickHouse-backed sink.
func NewSink(conn *Conn, opts ...SinkOption) *Sink {
	s := &Sink{
		conn:   conn,
		policy: retry.DefaultPolicy(),
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface check.
var _ warehouse.Sink = (*Sink)(nil)

// chType maps a value kind to its column type. Data columns are
// Nullable so missing values round-trip as NULL.
func chType(k domain.Kind) string {
	switch k {
	case domain.KindNumber:
		return "Nullable(Float64)"
	case domain.KindTimestamp:
		return "Nullable(DateTime64(3, 'UTC'))"
	default:
		return "Nullable(String)"
	}
}

// kindOfCHType maps a system.columns type back to a kind.
func kindOfCHType(chTypeName string) domain.Kind {
	t := chTypeName
	if strings.HasPrefix(t, "Nullable(") {
		t = strings.TrimSuffix(strings.TrimPrefix(t, "Nullable("), ")")
	}
	switch {
	case strings.HasPrefix(t, "Float"), strings.HasPrefix(t, "Int"), strings.HasPrefix(t, "UInt"), strings.HasPrefix(t, "Decimal"):
		return domain.KindNumber
	case strings.HasPrefix(t, "DateTime"), t == "Date", t == "Date32":
		return domain.KindTimestamp
	default:
		return domain.KindString
	}
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}

// EnsureTable creates the table from the sample's inferred schema if it
// does not exist; otherwise it verifies stored column types and no-ops.
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

// storedSchema reads the table's data columns from system.columns,
// returning nil when the table does not exist. Internal columns are
// excluded.
func (s *Sink) storedSchema(ctx context.Context, table string) (*warehouse.Schema, error) {
	query := `
		SELECT name, type
		FROM system.columns
		WHERE database = currentDatabase() AND table = ?
		ORDER BY position
	`
	rows, err := s.conn.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("query stored schema for %s: %w", table, err)
	}
	defer rows.Close()

	schema := warehouse.NewSchema()
	found := false
	for rows.Next() {
		var name, typeName string
		if err := rows.Scan(&name, &typeName); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		found = true
		if name == keyCol || name == verCol {
			continue
		}
		single := domain.Batch{domain.Row{name: kindSample(kindOfCHType(typeName))}}
		if _, err := schema.Merge("", warehouse.InferSchema(single)); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	if !found {
		return nil, nil
	}
	return schema, nil
}

// kindSample returns a representative non-null value of a kind.
func kindSample(k domain.Kind) domain.Value {
	switch k {
	case domain.KindNumber:
		return domain.Number(0)
	case domain.KindTimestamp:
		return domain.Timestamp(time.Unix(0, 0))
	default:
		return domain.String("")
	}
}

func (s *Sink) createTable(ctx context.Context, table string, schema *warehouse.Schema) error {
	cols := []string{
		fmt.Sprintf("%s String", quoteIdent(keyCol)),
		fmt.Sprintf("%s UInt64", quoteIdent(verCol)),
	}
	for _, name := range schema.Columns() {
		kind, _ := schema.Kind(name)
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(name), chType(kind)))
	}
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = ReplacingMergeTree(%s) ORDER BY %s",
		quoteIdent(table), strings.Join(cols, ", "), quoteIdent(verCol), quoteIdent(keyCol))
	if err := s.conn.Exec(ctx, ddl); err != nil {
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
			quoteIdent(table), quoteIdent(name), chType(kind))
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("add column %s to %s: %w", name, table, err)
		}
		s.log.Info("added column", zap.String("table", table), zap.String("column", name))
	}
	return nil
}

// Upsert applies the whole deduplicated batch in one insert, retried as
// a unit. Re-sending the same batch is harmless: the replacing merge
// keeps one row per key.
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
		stored = incoming.Clone()
	} else {
		added, err := stored.Merge(table, incoming)
		if err != nil {
			return err
		}
		if err := s.addColumns(ctx, table, stored, added); err != nil {
			return err
		}
	}

	merged, err := s.mergeWithStored(ctx, table, stored, deduped, keyColumn)
	if err != nil {
		return err
	}

	version := uint64(s.now().UnixNano())
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		if err := s.sendBatch(ctx, table, stored, merged, keyColumn, version); err != nil {
			if isTransientError(err) {
				return retry.Transient(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		failed := make([]string, 0, len(merged))
		for _, row := range merged {
			failed = append(failed, row.Key(keyColumn))
		}
		return &warehouse.UpsertError{Table: table, Failed: failed, Err: err}
	}
	return nil
}

// mergeWithStored overlays incoming rows on their stored counterparts
// so columns absent from the incoming row keep their previous value.
func (s *Sink) mergeWithStored(ctx context.Context, table string, schema *warehouse.Schema, batch domain.Batch, keyColumn string) (domain.Batch, error) {
	keys := make([]string, 0, len(batch))
	for _, row := range batch {
		keys = append(keys, row.Key(keyColumn))
	}

	existing, err := s.fetchRowsByKey(ctx, table, schema, keys)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return batch, nil
	}

	out := make(domain.Batch, 0, len(batch))
	for _, row := range batch {
		prev, ok := existing[row.Key(keyColumn)]
		if !ok {
			out = append(out, row)
			continue
		}
		merged := prev.Clone()
		for col, v := range row {
			merged[col] = v
		}
		out = append(out, merged)
	}
	return out, nil
}

// fetchRowsByKey reads the current row per key via FINAL.
func (s *Sink) fetchRowsByKey(ctx context.Context, table string, schema *warehouse.Schema, keys []string) (map[string]domain.Row, error) {
	cols := schema.Columns()
	selected := make([]string, 0, len(cols)+1)
	selected = append(selected, quoteIdent(keyCol))
	for _, col := range cols {
		selected = append(selected, quoteIdent(col))
	}

	query := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE %s IN (?)",
		strings.Join(selected, ", "), quoteIdent(table), quoteIdent(keyCol))
	rows, err := s.conn.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch stored rows from %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]domain.Row)
	for rows.Next() {
		var key string
		dests := make([]any, 0, len(cols)+1)
		dests = append(dests, &key)

		strPtrs := make(map[string]**string)
		numPtrs := make(map[string]**float64)
		tsPtrs := make(map[string]**time.Time)
		for _, col := range cols {
			kind, _ := schema.Kind(col)
			switch kind {
			case domain.KindNumber:
				p := new(*float64)
				numPtrs[col] = p
				dests = append(dests, p)
			case domain.KindTimestamp:
				p := new(*time.Time)
				tsPtrs[col] = p
				dests = append(dests, p)
			default:
				p := new(*string)
				strPtrs[col] = p
				dests = append(dests, p)
			}
		}

		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan stored row: %w", err)
		}

		row := domain.Row{}
		for col, p := range strPtrs {
			if *p != nil {
				row[col] = domain.String(**p)
			}
		}
		for col, p := range numPtrs {
			if *p != nil {
				row[col] = domain.Number(**p)
			}
		}
		for col, p := range tsPtrs {
			if *p != nil {
				row[col] = domain.Timestamp(**p)
			}
		}
		out[key] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stored rows: %w", err)
	}
	return out, nil
}

// sendBatch inserts all rows with the given version.
func (s *Sink) sendBatch(ctx context.Context, table string, schema *warehouse.Schema, batch domain.Batch, keyColumn string, version uint64) error {
	cols := schema.Columns()
	quoted := make([]string, 0, len(cols)+2)
	quoted = append(quoted, quoteIdent(keyCol), quoteIdent(verCol))
	for _, col := range cols {
		quoted = append(quoted, quoteIdent(col))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s)", quoteIdent(table), strings.Join(quoted, ", "))
	prepared, err := s.conn.PrepareBatch(ctx, stmt)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, row := range batch {
		args := make([]any, 0, len(cols)+2)
		args = append(args, row.Key(keyColumn), version)
		for _, col := range cols {
			kind, _ := schema.Kind(col)
			args = append(args, toCHValue(row[col], kind))
		}
		if err := prepared.Append(args...); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := prepared.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// toCHValue converts a domain value to a driver parameter for a column
// of the given stored kind. Nulls and kind mismatches insert NULL.
func toCHValue(v domain.Value, kind domain.Kind) any {
	if v.IsNull() || v.Kind() != kind {
		switch kind {
		case domain.KindNumber:
			return (*float64)(nil)
		case domain.KindTimestamp:
			return (*time.Time)(nil)
		default:
			return (*string)(nil)
		}
	}
	switch kind {
	case domain.KindNumber:
		f := v.AsFloat()
		return &f
	case domain.KindTimestamp:
		t := v.AsTime()
		return &t
	default:
		s := v.AsString()
		return &s
	}
}

// FetchExistingKeys returns the distinct canonical keys of the table's
// key column. A missing table yields an empty set.
func (s *Sink) FetchExistingKeys(ctx context.Context, table string, keyColumn string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	// The canonical key is materialized in _key at write time, so read
	// it back directly instead of re-canonicalizing the key column.
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s FINAL", quoteIdent(keyCol), quoteIdent(table))
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		if isUnknownTableError(err) {
			return keys, nil
		}
		return nil, fmt.Errorf("fetch keys from %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys from %s: %w", table, err)
	}
	return keys, nil
}
