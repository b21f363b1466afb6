package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mezo-analytics/internal/aggregate"
	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/normalize"
	"mezo-analytics/internal/subgraph"
)

// MUSD table names within the dataset.
const (
	loansRawTable             = "musd_loans"
	loansDailyTable           = "musd_loans_daily"
	borrowSummaryTable        = "musd_borrow_summary"
	adjustmentsSummaryTable   = "musd_adjustments_summary"
	closedLoansSummaryTable   = "musd_closed_loans_summary"
	liquidationsRawTable      = "musd_liquidations"
	troveLiquidationsRawTable = "musd_trove_liquidations"
)

// Trove operation codes as emitted by the trove manager.
const (
	troveOpened   = 0
	troveClosed   = 1
	troveAdjusted = 2
)

// MUSD processes the MUSD lending protocol: trove updates from the
// borrower operations subgraph (raw loan history, daily borrow
// activity, borrow, adjustment, and closed-loan summaries) and
// liquidations from the trove manager subgraph.
type MUSD struct {
	base
	loans  Fetcher
	troves Fetcher
}

// NewMUSD creates the MUSD runner against the borrower operations and
// trove manager subgraphs.
func NewMUSD(opts Options, loans, troves Fetcher) *MUSD {
	return &MUSD{
		base:   newBase(opts, "musd"),
		loans:  loans,
		troves: troves,
	}
}

// Run executes one MUSD pipeline pass.
func (p *MUSD) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { p.observeRun("musd", start, err) }()

	rawLoans, err := p.fetch(ctx, p.loans, subgraph.Loans)
	if err != nil {
		return fmt.Errorf("fetch loans: %w", err)
	}
	rawLiquidations, err := p.fetch(ctx, p.troves, subgraph.Liquidations)
	if err != nil {
		return fmt.Errorf("fetch liquidations: %w", err)
	}
	rawTroveLiquidations, err := p.fetch(ctx, p.troves, subgraph.LiquidatedTroves)
	if err != nil {
		return fmt.Errorf("fetch trove liquidations: %w", err)
	}

	loans := cleanLoans(rawLoans)
	if err := p.sync(ctx, p.tableName(loansRawTable), loans, "transactionHash_"); err != nil {
		return err
	}

	daily := dailyLoans(loans)
	if err := p.sync(ctx, p.tableName(loansDailyTable), daily, "date"); err != nil {
		return err
	}

	now := time.Now().UTC()
	summary := borrowSnapshot(loans, now)
	if err := p.sync(ctx, p.tableName(borrowSummaryTable), summary, "date"); err != nil {
		return err
	}

	adjustments := adjustmentsSummary(loans, now)
	if err := p.sync(ctx, p.tableName(adjustmentsSummaryTable), adjustments, "date"); err != nil {
		return err
	}

	closed := closedLoansSummary(loans, now)
	if err := p.sync(ctx, p.tableName(closedLoansSummaryTable), closed, "date"); err != nil {
		return err
	}

	liquidations := cleanLiquidations(rawLiquidations)
	if err := p.sync(ctx, p.tableName(liquidationsRawTable), liquidations, "transactionHash_"); err != nil {
		return err
	}

	// A single liquidation can close several troves, so per-trove rows
	// key on the subgraph id rather than the transaction hash.
	troveLiquidations := cleanTroveLiquidations(rawTroveLiquidations)
	if err := p.sync(ctx, p.tableName(troveLiquidationsRawTable), troveLiquidations, "id"); err != nil {
		return err
	}

	p.log.Info("musd run complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// cleanLoans normalizes trove updates: dates and 18-place MUSD amounts,
// oldest first.
func cleanLoans(raw domain.Batch) domain.Batch {
	out := normalize.Timestamps(raw, "timestamp_")
	out = normalize.TokenAmounts(out, []string{"principal", "coll", "stake", "interest"}, "")
	return out.SortByTimestamp("timestamp_", false)
}

// cleanLiquidations normalizes liquidation events, oldest first.
func cleanLiquidations(raw domain.Batch) domain.Batch {
	out := normalize.Timestamps(raw, "timestamp_")
	out = normalize.TokenAmounts(out, []string{"liquidatedPrincipal", "liquidatedInterest", "liquidatedColl"}, "")
	return out.SortByTimestamp("timestamp_", false)
}

// cleanTroveLiquidations normalizes per-trove liquidation records,
// oldest first.
func cleanTroveLiquidations(raw domain.Batch) domain.Batch {
	out := normalize.Timestamps(raw, "timestamp_")
	out = normalize.TokenAmounts(out, []string{"debt", "coll"}, "")
	return out.SortByTimestamp("timestamp_", false)
}

// dailyLoans rolls loan activity up by date with cumulative borrow
// volume and weekly growth.
func dailyLoans(loans domain.Batch) domain.Batch {
	opened := filterOperation(loans, troveOpened)

	daily := aggregate.DailyRollup(opened, "timestamp_", nil, []aggregate.Spec{
		{Column: "principal", As: "musd_borrowed", Op: aggregate.Sum},
		{Column: "coll", As: "collateral_added", Op: aggregate.Sum},
		{Column: "borrower", As: "loans_opened", Op: aggregate.Count},
	})
	daily = aggregate.Cumulative(daily, "musd_borrowed", "loans_opened")
	daily = aggregate.PctChange(daily, []string{"cumulative_musd_borrowed"}, 7)
	daily = aggregate.Rolling(daily, []string{"musd_borrowed"}, 7)

	return dateKey(daily, "timestamp_", "date")
}

// borrowSnapshot reduces loans to the latest update per borrower and
// derives the current borrow state as a single dated row.
func borrowSnapshot(loans domain.Batch, now time.Time) domain.Batch {
	// Loans are sorted ascending, so keep-last dedup leaves the most
	// recent update per borrower.
	latest := loans.DedupeByKey("borrower")

	var (
		openLoans       float64
		totalPrincipal  float64
		totalCollateral float64
		borrowers       float64
	)
	for _, row := range latest {
		borrowers++
		if int(row["operation"].AsFloat()) == troveClosed {
			continue
		}
		openLoans++
		totalPrincipal += row["principal"].AsFloat()
		totalCollateral += row["coll"].AsFloat()
	}

	var borrowedAllTime float64
	for _, row := range filterOperation(loans, troveOpened) {
		borrowedAllTime += row["principal"].AsFloat()
	}

	return domain.Batch{{
		"date":                domain.String(now.Format("2006-01-02")),
		"total_borrowers":     domain.Number(borrowers),
		"open_loans":          domain.Number(openLoans),
		"musd_in_loans":       domain.Number(totalPrincipal),
		"current_collateral":  domain.Number(totalCollateral),
		"total_musd_borrowed": domain.Number(borrowedAllTime),
	}}
}

// adjustmentsSummary compares every loan adjustment to the borrower's
// first adjustment and counts principal increases, collateral changes,
// and partial repayments as a single dated row.
func adjustmentsSummary(loans domain.Batch, now time.Time) domain.Batch {
	adjusted := filterOperation(loans, troveAdjusted)

	// Loans are sorted ascending, so the first adjustment seen per
	// borrower is the comparison baseline.
	type baseline struct{ principal, coll float64 }
	first := make(map[string]baseline)
	for _, row := range adjusted {
		b := row["borrower"].AsString()
		if _, ok := first[b]; !ok {
			first[b] = baseline{row["principal"].AsFloat(), row["coll"].AsFloat()}
		}
	}

	var principalUp, collUp, collDown, repayments float64
	principalUpBy := make(map[string]bool)
	collUpBy := make(map[string]bool)
	collDownBy := make(map[string]bool)
	repaidBy := make(map[string]bool)
	for _, row := range adjusted {
		b := row["borrower"].AsString()
		base := first[b]
		principal := row["principal"].AsFloat()
		coll := row["coll"].AsFloat()

		if principal > base.principal {
			principalUp++
			principalUpBy[b] = true
		}
		if principal < base.principal {
			repayments++
			repaidBy[b] = true
		}
		if coll > base.coll {
			collUp++
			collUpBy[b] = true
		}
		if coll < base.coll {
			collDown++
			collDownBy[b] = true
		}
	}

	return domain.Batch{{
		"date":                        domain.String(now.Format("2006-01-02")),
		"total_adjustments":           domain.Number(float64(len(adjusted))),
		"principal_increases":         domain.Number(principalUp),
		"unique_principal_increases":  domain.Number(float64(len(principalUpBy))),
		"collateral_increases":        domain.Number(collUp),
		"unique_collateral_increases": domain.Number(float64(len(collUpBy))),
		"collateral_decreases":        domain.Number(collDown),
		"unique_collateral_decreases": domain.Number(float64(len(collDownBy))),
		"partial_repayments":          domain.Number(repayments),
		"unique_partial_repayments":   domain.Number(float64(len(repaidBy))),
	}}
}

// closedLoansSummary totals close events as a single dated row.
func closedLoansSummary(loans domain.Batch, now time.Time) domain.Batch {
	closed := filterOperation(loans, troveClosed)

	var repaid, coll float64
	for _, row := range closed {
		repaid += row["principal"].AsFloat()
		coll += row["coll"].AsFloat()
	}

	return domain.Batch{{
		"date":                       domain.String(now.Format("2006-01-02")),
		"total_closed_loans":         domain.Number(float64(len(closed))),
		"total_repaid":               domain.Number(repaid),
		"total_collateral_withdrawn": domain.Number(coll),
	}}
}

// filterOperation selects trove updates by operation code.
func filterOperation(batch domain.Batch, op int) domain.Batch {
	var out domain.Batch
	for _, row := range batch {
		if int(row["operation"].AsFloat()) == op {
			out = append(out, row)
		}
	}
	return out
}
