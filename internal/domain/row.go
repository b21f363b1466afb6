package domain

import "sort"

// Row maps column names to scalar values. One Row is a single observed
// on-chain event or one aggregation bucket.
type Row map[string]Value

// Clone returns a copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Batch is an ordered sequence of rows produced by one pipeline run.
// Order matters: when a batch contains repeated key values, the last
// occurrence in batch order wins during an upsert.
type Batch []Row

// Columns returns the union of column names across all rows in
// first-seen order: row order first, then lexical within a row.
func (b Batch) Columns() []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, row := range b {
		names := make([]string, 0, len(row))
		for name := range row {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			cols = append(cols, name)
		}
	}
	return cols
}

// Column returns the values of a column in row order. Rows missing the
// column contribute null.
func (b Batch) Column(name string) []Value {
	out := make([]Value, len(b))
	for i, row := range b {
		v, ok := row[name]
		if !ok {
			v = Null()
		}
		out[i] = v
	}
	return out
}

// Key returns the canonical string form of a row's key column value.
func (r Row) Key(col string) string {
	return r[col].AsString()
}

// DedupeByKey removes rows with repeated key values, keeping the last
// occurrence in batch order. Relative order of the kept rows is preserved.
func (b Batch) DedupeByKey(keyColumn string) Batch {
	if len(b) == 0 {
		return b
	}
	last := make(map[string]int, len(b))
	for i, row := range b {
		last[row.Key(keyColumn)] = i
	}
	out := make(Batch, 0, len(last))
	for i, row := range b {
		if last[row.Key(keyColumn)] == i {
			out = append(out, row)
		}
	}
	return out
}

// SortByTimestamp orders the batch by a timestamp column. Rows with a
// null or non-timestamp value in the column sort first.
func (b Batch) SortByTimestamp(col string, desc bool) Batch {
	out := make(Batch, len(b))
	copy(out, b)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i][col].AsTime(), out[j][col].AsTime()
		if desc {
			return tj.Before(ti)
		}
		return ti.Before(tj)
	})
	return out
}

// Clone returns a deep copy of the batch.
func (b Batch) Clone() Batch {
	out := make(Batch, len(b))
	for i, row := range b {
		out[i] = row.Clone()
	}
	return out
}
