package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the scalar type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindTimestamp
)

// String returns the kind name used in schema diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged scalar: one of null, string, number, or timestamp.
// Rows carry Values so columns can appear and disappear across sources
// without committing to a fixed struct per table.
type Value struct {
	kind Kind
	str  string
	num  float64
	ts   time.Time
}

// Null returns the null value.
func Null() Value {
	return Value{kind: KindNull}
}

// String returns a string value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Number returns a numeric value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Timestamp returns a timestamp value, normalized to UTC.
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, ts: t.UTC()}
}

// Kind returns the tag of the value.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// AsString returns the string form of the value. Numbers are rendered
// with minimal digits, timestamps as RFC 3339, null as the empty string.
func (v Value) AsString() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindTimestamp:
		return v.ts.Format(time.RFC3339)
	default:
		return ""
	}
}

// AsFloat returns the numeric form of the value. Null yields 0 so that
// missing numeric observations aggregate as zero rather than failing.
// Numeric strings are parsed; anything else yields 0.
func (v Value) AsFloat() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		f, err := strconv.ParseFloat(v.str, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// AsTime returns the timestamp form of the value, or the zero time for
// non-timestamp values.
func (v Value) AsTime() time.Time {
	if v.kind != KindTimestamp {
		return time.Time{}
	}
	return v.ts
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindTimestamp:
		return v.ts.Equal(o.ts)
	default:
		return true
	}
}
