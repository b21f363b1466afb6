package aggregate

import (
	"testing"
	"time"

	"mezo-analytics/internal/domain"
)

func day(d int) domain.Value {
	return domain.Timestamp(time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC))
}

func TestDailyRollup(t *testing.T) {
	batch := domain.Batch{
		{"date": day(2), "amount": domain.Number(5)},
		{"date": day(1), "amount": domain.Number(10)},
		{"date": day(1), "amount": domain.Number(30)},
	}

	got := DailyRollup(batch, "date", nil, []Spec{
		{Column: "amount", As: "volume", Op: Sum},
		{Column: "amount", As: "transactions", Op: Count},
		{Column: "amount", As: "avg_amount", Op: Mean},
		{Column: "amount", As: "max_amount", Op: Max},
	})

	if len(got) != 2 {
		t.Fatalf("groups = %d, want 2", len(got))
	}
	// Output is date ascending.
	if !got[0]["date"].AsTime().Equal(day(1).AsTime()) {
		t.Errorf("first group date = %v, want day 1", got[0]["date"].AsTime())
	}
	if got[0]["volume"].AsFloat() != 40 {
		t.Errorf("day 1 volume = %v, want 40", got[0]["volume"].AsFloat())
	}
	if got[0]["transactions"].AsFloat() != 2 {
		t.Errorf("day 1 transactions = %v, want 2", got[0]["transactions"].AsFloat())
	}
	if got[0]["avg_amount"].AsFloat() != 20 {
		t.Errorf("day 1 avg = %v, want 20", got[0]["avg_amount"].AsFloat())
	}
	if got[0]["max_amount"].AsFloat() != 30 {
		t.Errorf("day 1 max = %v, want 30", got[0]["max_amount"].AsFloat())
	}
	if got[1]["volume"].AsFloat() != 5 {
		t.Errorf("day 2 volume = %v, want 5", got[1]["volume"].AsFloat())
	}
}

func TestDailyRollupGroupColumns(t *testing.T) {
	batch := domain.Batch{
		{"date": day(1), "token": domain.String("WBTC"), "amount": domain.Number(1)},
		{"date": day(1), "token": domain.String("USDC"), "amount": domain.Number(2)},
		{"date": day(1), "token": domain.String("WBTC"), "amount": domain.Number(3)},
	}

	got := DailyRollup(batch, "date", []string{"token"}, []Spec{
		{Column: "amount", Op: Sum},
	})

	if len(got) != 2 {
		t.Fatalf("groups = %d, want 2", len(got))
	}
	// Same date sorts by group column.
	if got[0]["token"].AsString() != "USDC" || got[0]["amount"].AsFloat() != 2 {
		t.Errorf("group 0 = %v, want USDC amount 2", got[0])
	}
	if got[1]["token"].AsString() != "WBTC" || got[1]["amount"].AsFloat() != 4 {
		t.Errorf("group 1 = %v, want WBTC amount 4", got[1])
	}
}

func TestCumulative(t *testing.T) {
	batch := domain.Batch{
		{"v": domain.Number(1)},
		{"v": domain.Number(2)},
		{"v": domain.Null()},
		{"v": domain.Number(4)},
	}

	got := Cumulative(batch, "v")
	wants := []float64{1, 3, 3, 7} // null counts as zero
	for i, want := range wants {
		if got[i]["cumulative_v"].AsFloat() != want {
			t.Errorf("row %d cumulative_v = %v, want %v", i, got[i]["cumulative_v"].AsFloat(), want)
		}
	}
}

func TestPctChange(t *testing.T) {
	batch := domain.Batch{
		{"v": domain.Number(100)},
		{"v": domain.Number(110)},
		{"v": domain.Number(99)},
	}

	got := PctChange(batch, []string{"v"}, 1)
	if got[0]["v_change"].AsFloat() != 0 {
		t.Errorf("row 0 change = %v, want 0 (no base)", got[0]["v_change"].AsFloat())
	}
	if c := got[1]["v_change"].AsFloat(); c < 0.0999 || c > 0.1001 {
		t.Errorf("row 1 change = %v, want 0.1", c)
	}
	if c := got[2]["v_change"].AsFloat(); c > -0.0999 || c < -0.1001 {
		t.Errorf("row 2 change = %v, want -0.1", c)
	}
}

func TestPctChangeZeroBase(t *testing.T) {
	batch := domain.Batch{
		{"v": domain.Number(0)},
		{"v": domain.Number(5)},
	}
	got := PctChange(batch, []string{"v"}, 1)
	if got[1]["v_change"].AsFloat() != 0 {
		t.Errorf("change against zero base = %v, want 0", got[1]["v_change"].AsFloat())
	}
}

func TestRolling(t *testing.T) {
	batch := domain.Batch{
		{"v": domain.Number(2)},
		{"v": domain.Number(4)},
		{"v": domain.Number(6)},
		{"v": domain.Number(8)},
	}

	got := Rolling(batch, []string{"v"}, 3)
	wants := []float64{2, 3, 4, 6} // partial windows average what is there
	for i, want := range wants {
		if got[i]["rolling_v_3"].AsFloat() != want {
			t.Errorf("row %d rolling_v_3 = %v, want %v", i, got[i]["rolling_v_3"].AsFloat(), want)
		}
	}
}
