package warehouse

import (
	"mezo-analytics/internal/domain"
)

// Schema is an ordered mapping of column names to value kinds. Column
// order is preserved so created tables match the shape of the first
// batch that reached them.
type Schema struct {
	names []string
	kinds map[string]domain.Kind
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{kinds: make(map[string]domain.Kind)}
}

// InferSchema derives a schema from a sample batch. Each column takes
// the kind of its first non-null value; columns that are null in every
// row default to string so the table can still be created.
func InferSchema(sample domain.Batch) *Schema {
	s := NewSchema()
	for _, col := range sample.Columns() {
		kind := domain.KindNull
		for _, v := range sample.Column(col) {
			if !v.IsNull() {
				kind = v.Kind()
				break
			}
		}
		if kind == domain.KindNull {
			kind = domain.KindString
		}
		s.add(col, kind)
	}
	return s
}

func (s *Schema) add(name string, kind domain.Kind) {
	if _, ok := s.kinds[name]; !ok {
		s.names = append(s.names, name)
	}
	s.kinds[name] = kind
}

// Columns returns the column names in schema order.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Kind returns the kind of a column and whether it exists.
func (s *Schema) Kind(name string) (domain.Kind, bool) {
	k, ok := s.kinds[name]
	return k, ok
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.names) }

// Merge evolves the schema additively with the columns of incoming.
// New columns are appended; columns present in both must agree on kind
// or a SchemaConflictError (for the given table name) is returned.
// Merge reports the names of the columns that were added.
func (s *Schema) Merge(table string, incoming *Schema) ([]string, error) {
	var added []string
	for _, col := range incoming.names {
		inKind := incoming.kinds[col]
		stored, ok := s.kinds[col]
		if !ok {
			s.add(col, inKind)
			added = append(added, col)
			continue
		}
		if stored != inKind {
			return nil, &SchemaConflictError{
				Table:    table,
				Column:   col,
				Stored:   stored,
				Incoming: inKind,
			}
		}
	}
	return added, nil
}

// Clone returns a copy of the schema.
func (s *Schema) Clone() *Schema {
	out := NewSchema()
	for _, name := range s.names {
		out.add(name, s.kinds[name])
	}
	return out
}
