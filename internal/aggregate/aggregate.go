// Package aggregate computes derived columns over batches: grouped
// daily rollups, cumulative sums, percent change, and rolling means.
// Null or missing numeric values aggregate as zero.
package aggregate

import (
	"sort"
	"strconv"

	"mezo-analytics/internal/domain"
)

// Op is a column aggregation within a group.
type Op uint8

const (
	Sum Op = iota
	Count
	Mean
	Max
)

// Spec names one aggregated output column.
type Spec struct {
	Column string // source column
	As     string // output column name; defaults to Column
	Op     Op
}

func (s Spec) out() string {
	if s.As != "" {
		return s.As
	}
	return s.Column
}

// DailyRollup groups the batch by the date column (optionally plus
// extra group columns) and applies the specs within each group. Output
// rows are ordered by date ascending, then by the group columns.
func DailyRollup(batch domain.Batch, dateCol string, groupCols []string, specs []Spec) domain.Batch {
	type group struct {
		key    string
		sample domain.Row
		rows   domain.Batch
	}

	groups := make(map[string]*group)
	var order []string
	for _, row := range batch {
		key := row.Key(dateCol)
		for _, col := range groupCols {
			key += "|" + row.Key(col)
		}
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, sample: row}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, row)
	}

	out := make(domain.Batch, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		row := domain.Row{dateCol: g.sample[dateCol]}
		for _, col := range groupCols {
			row[col] = g.sample[col]
		}
		for _, spec := range specs {
			row[spec.out()] = apply(spec.Op, g.rows.Column(spec.Column))
		}
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i][dateCol].AsTime(), out[j][dateCol].AsTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		for _, col := range groupCols {
			ki, kj := out[i].Key(col), out[j].Key(col)
			if ki != kj {
				return ki < kj
			}
		}
		return false
	})
	return out
}

func apply(op Op, values []domain.Value) domain.Value {
	switch op {
	case Count:
		n := 0
		for _, v := range values {
			if !v.IsNull() {
				n++
			}
		}
		return domain.Number(float64(n))
	case Mean:
		if len(values) == 0 {
			return domain.Number(0)
		}
		sum := 0.0
		for _, v := range values {
			sum += v.AsFloat()
		}
		return domain.Number(sum / float64(len(values)))
	case Max:
		best := 0.0
		first := true
		for _, v := range values {
			f := v.AsFloat()
			if first || f > best {
				best = f
				first = false
			}
		}
		return domain.Number(best)
	default:
		sum := 0.0
		for _, v := range values {
			sum += v.AsFloat()
		}
		return domain.Number(sum)
	}
}

// Cumulative adds a cumulative_<col> running sum for each column, in
// batch order.
func Cumulative(batch domain.Batch, cols ...string) domain.Batch {
	out := batch.Clone()
	for _, col := range cols {
		sum := 0.0
		for _, row := range out {
			sum += row[col].AsFloat()
			row["cumulative_"+col] = domain.Number(sum)
		}
	}
	return out
}

// PctChange adds a <col>_change column: fractional change against the
// value periods rows earlier. Rows without a base, or with a zero base,
// get 0.
func PctChange(batch domain.Batch, cols []string, periods int) domain.Batch {
	out := batch.Clone()
	for _, col := range cols {
		values := out.Column(col)
		for i, row := range out {
			change := 0.0
			if i >= periods {
				base := values[i-periods].AsFloat()
				if base != 0 {
					change = (values[i].AsFloat() - base) / base
				}
			}
			row[col+"_change"] = domain.Number(change)
		}
	}
	return out
}

// Rolling adds a rolling_<col>_<window> trailing mean for each column.
// Windows shorter than the full width still produce a value (minimum
// one period), matching a min_periods=1 rolling mean.
func Rolling(batch domain.Batch, cols []string, window int) domain.Batch {
	out := batch.Clone()
	for _, col := range cols {
		name := rollingName(col, window)
		values := out.Column(col)
		sum := 0.0
		for i, row := range out {
			sum += values[i].AsFloat()
			width := window
			if i+1 < window {
				width = i + 1
			} else if i >= window {
				sum -= values[i-window].AsFloat()
			}
			row[name] = domain.Number(sum / float64(width))
		}
	}
	return out
}

func rollingName(col string, window int) string {
	return "rolling_" + col + "_" + strconv.Itoa(window)
}
