package domain

import (
	"testing"
	"time"
)

func TestValueAsString(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		v    Value
		want string
	}{
		{name: "null", v: Null(), want: ""},
		{name: "string", v: String("0xabc"), want: "0xabc"},
		{name: "integer number", v: Number(42), want: "42"},
		{name: "fractional number", v: Number(1.5), want: "1.5"},
		{name: "timestamp", v: Timestamp(ts), want: "2025-03-01T12:30:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.AsString(); got != tt.want {
				t.Errorf("AsString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValueAsFloat(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want float64
	}{
		{name: "number", v: Number(3.25), want: 3.25},
		{name: "numeric string", v: String("100.5"), want: 100.5},
		{name: "non-numeric string", v: String("abc"), want: 0},
		{name: "null", v: Null(), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.AsFloat(); got != tt.want {
				t.Errorf("AsFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBatchColumns(t *testing.T) {
	b := Batch{
		{"b": Number(1), "a": Number(2)},
		{"c": Number(3), "a": Number(4)},
	}

	got := b.Columns()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Columns() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Columns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBatchColumnFillsNull(t *testing.T) {
	b := Batch{
		{"a": Number(1)},
		{"b": Number(2)},
	}

	col := b.Column("a")
	if len(col) != 2 {
		t.Fatalf("Column() length = %d, want 2", len(col))
	}
	if col[0].AsFloat() != 1 {
		t.Errorf("Column()[0] = %v, want 1", col[0].AsFloat())
	}
	if !col[1].IsNull() {
		t.Errorf("Column()[1] = %v, want null", col[1])
	}
}

func TestDedupeByKeyKeepsLast(t *testing.T) {
	b := Batch{
		{"id": String("1"), "amount": Number(10)},
		{"id": String("2"), "amount": Number(20)},
		{"id": String("1"), "amount": Number(99)},
	}

	got := b.DedupeByKey("id")
	if len(got) != 2 {
		t.Fatalf("DedupeByKey() length = %d, want 2", len(got))
	}

	// Second row is the surviving id=2; the kept id=1 appears after it
	// because the last occurrence wins and order among kept rows holds.
	if got[0].Key("id") != "2" || got[0]["amount"].AsFloat() != 20 {
		t.Errorf("row 0 = %v, want id=2 amount=20", got[0])
	}
	if got[1].Key("id") != "1" || got[1]["amount"].AsFloat() != 99 {
		t.Errorf("row 1 = %v, want id=1 amount=99", got[1])
	}
}

func TestDedupeByKeyMixedKinds(t *testing.T) {
	// Number 7 and string "7" canonicalize to the same key.
	b := Batch{
		{"id": Number(7), "v": Number(1)},
		{"id": String("7"), "v": Number(2)},
	}

	got := b.DedupeByKey("id")
	if len(got) != 1 {
		t.Fatalf("DedupeByKey() length = %d, want 1", len(got))
	}
	if got[0]["v"].AsFloat() != 2 {
		t.Errorf("kept v = %v, want 2 (last occurrence)", got[0]["v"].AsFloat())
	}
}

func TestDedupeByKeyEmpty(t *testing.T) {
	var b Batch
	if got := b.DedupeByKey("id"); len(got) != 0 {
		t.Errorf("DedupeByKey() on empty batch = %v, want empty", got)
	}
}

func TestSortByTimestamp(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)

	b := Batch{
		{"ts": Timestamp(t2), "n": Number(2)},
		{"ts": Timestamp(t3), "n": Number(3)},
		{"ts": Timestamp(t1), "n": Number(1)},
	}

	asc := b.SortByTimestamp("ts", false)
	for i, want := range []float64{1, 2, 3} {
		if asc[i]["n"].AsFloat() != want {
			t.Errorf("asc[%d] = %v, want %v", i, asc[i]["n"].AsFloat(), want)
		}
	}

	desc := b.SortByTimestamp("ts", true)
	for i, want := range []float64{3, 2, 1} {
		if desc[i]["n"].AsFloat() != want {
			t.Errorf("desc[%d] = %v, want %v", i, desc[i]["n"].AsFloat(), want)
		}
	}

	// Original batch untouched.
	if b[0]["n"].AsFloat() != 2 {
		t.Errorf("source batch mutated by sort")
	}
}

func TestRowClone(t *testing.T) {
	r := Row{"a": Number(1)}
	c := r.Clone()
	c["a"] = Number(2)
	if r["a"].AsFloat() != 1 {
		t.Errorf("Clone() shares storage with source row")
	}
}
