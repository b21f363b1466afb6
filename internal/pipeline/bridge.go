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

// Bridge table names within the dataset.
const (
	bridgeRawTable     = "bridge_transactions"
	bridgeDailyTable   = "bridge_daily"
	bridgeByTokenTable = "bridge_daily_by_token"
	autoBridgeRawTable = "autobridge_transactions"
)

// Bridge processes bridge deposits and withdrawals: raw transaction
// history, overall daily flows, and daily flows by token.
type Bridge struct {
	base
	bridge Fetcher
	portal Fetcher
}

// NewBridge creates the bridge runner. The bridge fetcher serves the
// mainnet bridge subgraph; the portal fetcher serves auto-bridged
// portal deposits.
func NewBridge(opts Options, bridge, portal Fetcher) *Bridge {
	return &Bridge{
		base:   newBase(opts, "bridge"),
		bridge: bridge,
		portal: portal,
	}
}

// Run executes one bridge pipeline pass.
func (p *Bridge) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { p.observeRun("bridge", start, err) }()

	deposits, err := p.fetch(ctx, p.bridge, subgraph.BridgeDeposits)
	if err != nil {
		return fmt.Errorf("fetch bridge deposits: %w", err)
	}
	withdrawals, err := p.fetch(ctx, p.bridge, subgraph.BridgeWithdrawals)
	if err != nil {
		return fmt.Errorf("fetch bridge withdrawals: %w", err)
	}
	autobridged, err := p.fetch(ctx, p.portal, subgraph.AutoBridgeDeposits)
	if err != nil {
		return fmt.Errorf("fetch autobridge deposits: %w", err)
	}

	rates, err := p.prices.TokenPrices(ctx)
	if err != nil {
		return fmt.Errorf("fetch token prices: %w", err)
	}

	deposits = p.clean(deposits, rates, "deposit")
	withdrawals = p.clean(withdrawals, rates, "withdrawal")

	// The subgraph returns newest first; ascending order makes batch
	// insertion order agree with event order so keep-last dedup keeps
	// the newest record per transaction.
	combined := append(deposits, withdrawals...).SortByTimestamp("timestamp_", false)

	if err := p.sync(ctx, p.tableName(bridgeRawTable), combined, "transactionHash_"); err != nil {
		return err
	}

	daily := p.dailyOverall(combined)
	if err := p.sync(ctx, p.tableName(bridgeDailyTable), daily, "date"); err != nil {
		return err
	}

	byToken := p.dailyByToken(combined)
	if err := p.sync(ctx, p.tableName(bridgeByTokenTable), byToken, "date_token"); err != nil {
		return err
	}

	if len(autobridged) > 0 {
		auto := p.clean(autobridged, rates, "autobridge").SortByTimestamp("timestamp_", false)
		if err := p.sync(ctx, p.tableName(autoBridgeRawTable), auto, "transactionHash_"); err != nil {
			return err
		}
	}

	p.log.Info("bridge run complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// clean normalizes one raw bridge batch: symbols, dates, token scales,
// USD conversion, and a type tag.
func (p *Bridge) clean(raw domain.Batch, rates map[string]float64, txnType string) domain.Batch {
	out := normalize.AddressesToSymbols(raw, "token")
	out = normalize.StandardizeSymbols(out, "token")
	out = normalize.Timestamps(out, "timestamp_")
	out = normalize.TokenAmounts(out, []string{"amount"}, "token")
	out = normalize.USDColumns(out, "token", []string{"amount"}, rates)
	out = normalize.WithConstant(out, "type", domain.String(txnType))
	return out
}

// dailyOverall rolls combined flows up by date: deposit and withdrawal
// volumes, counts, net flow, cumulative and derived series.
func (p *Bridge) dailyOverall(combined domain.Batch) domain.Batch {
	deposits := filterType(combined, "deposit")
	withdrawals := filterType(combined, "withdrawal")

	depositDaily := aggregate.DailyRollup(deposits, "timestamp_", nil, []aggregate.Spec{
		{Column: "amount_usd", As: "deposits_usd", Op: aggregate.Sum},
		{Column: "transactionHash_", As: "deposit_count", Op: aggregate.Count},
	})
	withdrawalDaily := aggregate.DailyRollup(withdrawals, "timestamp_", nil, []aggregate.Spec{
		{Column: "amount_usd", As: "withdrawals_usd", Op: aggregate.Sum},
		{Column: "transactionHash_", As: "withdrawal_count", Op: aggregate.Count},
	})

	daily := mergeByDate(depositDaily, withdrawalDaily, "timestamp_")
	for _, row := range daily {
		net := row["deposits_usd"].AsFloat() - row["withdrawals_usd"].AsFloat()
		row["net_flow"] = domain.Number(net)
		row["tvl_change"] = domain.Number(net)
	}

	daily = aggregate.Cumulative(daily, "deposits_usd", "withdrawals_usd", "net_flow")
	daily = normalize.Rename(daily, map[string]string{"cumulative_net_flow": "tvl"})
	daily = aggregate.PctChange(daily, []string{"tvl"}, 1)
	daily = aggregate.Rolling(daily, []string{"deposits_usd", "withdrawals_usd"}, 7)
	daily = aggregate.Rolling(daily, []string{"deposits_usd", "withdrawals_usd"}, 30)

	return dateKey(daily, "timestamp_", "date")
}

// dailyByToken rolls flows up by date and token symbol.
func (p *Bridge) dailyByToken(combined domain.Batch) domain.Batch {
	byToken := aggregate.DailyRollup(combined, "timestamp_", []string{"token"}, []aggregate.Spec{
		{Column: "amount", As: "amount", Op: aggregate.Sum},
		{Column: "amount_usd", As: "amount_usd", Op: aggregate.Sum},
		{Column: "transactionHash_", As: "transaction_count", Op: aggregate.Count},
	})
	return compositeKey(byToken, "timestamp_", "token", "date_token")
}

// filterType selects rows by the type tag.
func filterType(batch domain.Batch, txnType string) domain.Batch {
	var out domain.Batch
	for _, row := range batch {
		if row["type"].AsString() == txnType {
			out = append(out, row)
		}
	}
	return out
}

// mergeByDate outer-joins two daily batches on a date column; numeric
// columns absent on one side read as zero downstream.
func mergeByDate(a, b domain.Batch, dateCol string) domain.Batch {
	byDate := make(map[string]domain.Row)
	var order []string

	for _, row := range a {
		key := row[dateCol].AsTime().Format("2006-01-02")
		byDate[key] = row.Clone()
		order = append(order, key)
	}
	for _, row := range b {
		key := row[dateCol].AsTime().Format("2006-01-02")
		existing, ok := byDate[key]
		if !ok {
			byDate[key] = row.Clone()
			order = append(order, key)
			continue
		}
		for col, v := range row {
			existing[col] = v
		}
	}

	out := make(domain.Batch, 0, len(order))
	for _, key := range order {
		out = append(out, byDate[key])
	}
	return out.SortByTimestamp(dateCol, false)
}
