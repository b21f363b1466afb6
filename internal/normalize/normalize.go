// Package normalize converts raw fetched rows into the canonical shape:
// fixed-point token amounts to decimals, unix timestamps to calendar
// dates, token addresses to symbols, and USD conversions.
package normalize

import (
	"time"

	"github.com/shopspring/decimal"

	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/tokens"
)

// Timestamps converts the named columns to calendar dates in UTC.
// Accepted inputs are unix timestamps (seconds or milliseconds, numeric
// or numeric string) and RFC 3339 strings as block explorers serve
// them. Values that parse as neither become null.
func Timestamps(batch domain.Batch, cols ...string) domain.Batch {
	out := batch.Clone()
	for _, row := range out {
		for _, col := range cols {
			v, ok := row[col]
			if !ok {
				continue
			}
			row[col] = toDate(v)
		}
	}
	return out
}

// Unix timestamps between 2001 and 2286 in seconds, or the same span in
// milliseconds.
const (
	minUnixSeconds = 1e9
	maxUnixMillis  = 1e13
)

func toDate(v domain.Value) domain.Value {
	if v.Kind() == domain.KindTimestamp {
		return domain.Timestamp(v.AsTime().Truncate(24 * time.Hour))
	}
	if v.Kind() == domain.KindString {
		if t, err := time.Parse(time.RFC3339, v.AsString()); err == nil {
			return domain.Timestamp(t.UTC().Truncate(24 * time.Hour))
		}
	}

	f := v.AsFloat()
	if f < minUnixSeconds || f > maxUnixMillis {
		return domain.Null()
	}
	if f > maxUnixMillis/1000 {
		f /= 1000
	}
	t := time.Unix(int64(f), 0).UTC()
	return domain.Timestamp(t.Truncate(24 * time.Hour))
}

// TokenAmounts divides the named fixed-point amount columns by each
// row's token scale. When tokenCol is empty the default 18-place scale
// applies to every row. Non-numeric amounts become 0.
func TokenAmounts(batch domain.Batch, amountCols []string, tokenCol string) domain.Batch {
	out := batch.Clone()
	for _, row := range out {
		scale := tokens.DefaultDecimals
		if tokenCol != "" {
			scale = tokens.DecimalsFor(row[tokenCol].AsString())
		}
		for _, col := range amountCols {
			v, ok := row[col]
			if !ok {
				continue
			}
			row[col] = scaleAmount(v, scale)
		}
	}
	return out
}

// scaleAmount shifts a fixed-point amount down by scale decimal places
// using exact decimal arithmetic before converting to a float.
func scaleAmount(v domain.Value, scale int32) domain.Value {
	if v.IsNull() {
		return domain.Number(0)
	}
	d, err := decimal.NewFromString(v.AsString())
	if err != nil {
		return domain.Number(0)
	}
	f, _ := d.Shift(-scale).Float64()
	return domain.Number(f)
}

// AddressesToSymbols replaces token contract addresses in the named
// column with symbols.
func AddressesToSymbols(batch domain.Batch, col string) domain.Batch {
	out := batch.Clone()
	for _, row := range out {
		v, ok := row[col]
		if !ok || v.IsNull() {
			continue
		}
		row[col] = domain.String(tokens.SymbolForAddress(v.AsString()))
	}
	return out
}

// StandardizeSymbols strips Mezo m-prefixes in the named column.
func StandardizeSymbols(batch domain.Batch, col string) domain.Batch {
	out := batch.Clone()
	for _, row := range out {
		v, ok := row[col]
		if !ok || v.IsNull() {
			continue
		}
		row[col] = domain.String(tokens.Standardize(v.AsString()))
	}
	return out
}

// USDColumns adds a <col>_usd column for each amount column, using the
// row's token symbol and the supplied symbol → USD rates. Mezo-native
// stables convert at 1.0; unknown symbols convert at 0.
func USDColumns(batch domain.Batch, tokenCol string, amountCols []string, rates map[string]float64) domain.Batch {
	out := batch.Clone()
	for _, row := range out {
		symbol := tokens.Standardize(row[tokenCol].AsString())
		rate, ok := rates[symbol]
		if !ok && tokens.Stables[symbol] {
			rate = 1.0
		}
		for _, col := range amountCols {
			v, present := row[col]
			if !present {
				continue
			}
			row[col+"_usd"] = domain.Number(v.AsFloat() * rate)
		}
	}
	return out
}

// Rename renames columns. Rows missing a source column are unchanged.
func Rename(batch domain.Batch, mapping map[string]string) domain.Batch {
	out := batch.Clone()
	for _, row := range out {
		for from, to := range mapping {
			if v, ok := row[from]; ok {
				delete(row, from)
				row[to] = v
			}
		}
	}
	return out
}

// WithConstant sets a column to the same value on every row, e.g. a
// transaction type tag when merging deposits and withdrawals.
func WithConstant(batch domain.Batch, col string, v domain.Value) domain.Batch {
	out := batch.Clone()
	for _, row := range out {
		row[col] = v
	}
	return out
}
