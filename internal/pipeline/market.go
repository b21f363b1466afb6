package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mezo-analytics/internal/aggregate"
	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/explorer"
	"mezo-analytics/internal/normalize"
	"mezo-analytics/internal/subgraph"
)

// Market table names within the dataset.
const (
	purchasesRawTable = "market_purchases"
	donationsRawTable = "market_donations"
	marketDailyTable  = "market_daily"
	marketFeesTable   = "market_fees"
)

// Market contract addresses on Mezo mainnet.
const (
	storeContract     = "0xB6881e8b21a3cd6D23c4F90724E26e35BB8980bE"
	donationsContract = "0x6aD9E8e5236C0E2cF6D755Bb7BE4eABCbC03f76d"
)

// feeMethods maps the contract methods that move MUSD to a transaction
// type tag; other methods carry no market activity.
var feeMethods = map[string]string{
	"orderWithPermit":  "purchase",
	"donateWithPermit": "donation",
}

// marketItems maps product ids in order calldata to item names.
var marketItems = map[string]string{
	"Brink": "Brink",
	"SheFi": "SheFi",
	"1001":  "ledger_nano_x",
	"1002":  "ledger_stax",
	"1003":  "bitrefill_25",
	"1004":  "bitrefill_50",
	"1005":  "bitrefill_100",
	"1006":  "bitrefill_200",
	"1007":  "bitrefill_1000",
}

// Market processes MUSD market activity: product purchases and
// donations from the subgraph, a daily revenue rollup, and transaction
// fees paid to the market contracts from the block explorer.
type Market struct {
	base
	market Fetcher
	txs    TxSource
}

// NewMarket creates the market runner against the market subgraph and
// the block explorer.
func NewMarket(opts Options, market Fetcher, txs TxSource) *Market {
	return &Market{
		base:   newBase(opts, "market"),
		market: market,
		txs:    txs,
	}
}

// Run executes one market pipeline pass.
func (p *Market) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { p.observeRun("market", start, err) }()

	rawPurchases, err := p.fetch(ctx, p.market, subgraph.MarketPurchases)
	if err != nil {
		return fmt.Errorf("fetch market purchases: %w", err)
	}
	rawDonations, err := p.fetch(ctx, p.market, subgraph.MarketDonations)
	if err != nil {
		return fmt.Errorf("fetch market donations: %w", err)
	}

	purchases := cleanMarket(rawPurchases, "price")
	if err := p.sync(ctx, p.tableName(purchasesRawTable), purchases, "transactionHash_"); err != nil {
		return err
	}

	donations := cleanMarket(rawDonations, "amount")
	if err := p.sync(ctx, p.tableName(donationsRawTable), donations, "transactionHash_"); err != nil {
		return err
	}

	daily := dailyMarket(purchases, donations)
	if err := p.sync(ctx, p.tableName(marketDailyTable), daily, "date"); err != nil {
		return err
	}

	fees, err := p.fetchFees(ctx)
	if err != nil {
		return fmt.Errorf("fetch market fees: %w", err)
	}
	if err := p.sync(ctx, p.tableName(marketFeesTable), fees, "transactionHash_"); err != nil {
		return err
	}

	p.log.Info("market run complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// fetchFees pulls both market contracts' transactions from the explorer
// and reduces them to the fee dataset.
func (p *Market) fetchFees(ctx context.Context) (domain.Batch, error) {
	contracts := []struct{ name, address string }{
		{"Store", storeContract},
		{"Donations", donationsContract},
	}

	var fees domain.Batch
	for _, c := range contracts {
		raw, err := p.fetchTxs(ctx, p.txs, explorer.AddressTransactionsPath(c.address))
		if err != nil {
			return nil, fmt.Errorf("%s transactions: %w", c.name, err)
		}
		fees = append(fees, cleanFees(raw, c.name)...)
	}
	return fees.SortByTimestamp("timestamp_", false), nil
}

// cleanMarket normalizes one market batch. Amounts are MUSD, always
// 18 places.
func cleanMarket(raw domain.Batch, amountCol string) domain.Batch {
	out := normalize.Timestamps(raw, "timestamp_")
	out = normalize.TokenAmounts(out, []string{amountCol}, "")
	return out.SortByTimestamp("timestamp_", false)
}

// cleanFees keeps the market transactions of one contract, tags them,
// and scales the 18-place fee to BTC.
func cleanFees(raw domain.Batch, contract string) domain.Batch {
	var kept domain.Batch
	for _, row := range raw {
		txType, ok := feeMethods[row["method"].AsString()]
		if !ok {
			continue
		}
		row = row.Clone()
		row["contract_name"] = domain.String(contract)
		row["transaction_type"] = domain.String(txType)
		row["market_item"] = marketItem(row)
		kept = append(kept, row)
	}

	// Explorer transactions carry their own field names.
	out := normalize.Rename(kept, map[string]string{
		"timestamp": "timestamp_",
		"hash":      "transactionHash_",
		"block":     "block_number",
	})
	out = normalize.Timestamps(out, "timestamp_")
	return normalize.TokenAmounts(out, []string{"fee_value"}, "")
}

// marketItem resolves the item named by the first decoded calldata
// parameter, null when the input was not decoded.
func marketItem(row domain.Row) domain.Value {
	raw := row["decoded_input_parameters"].AsString()
	if raw == "" {
		return domain.Null()
	}
	var params []struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil || len(params) == 0 {
		return domain.Null()
	}
	id := fmt.Sprintf("%v", params[0].Value)
	if name, ok := marketItems[id]; ok {
		return domain.String(name)
	}
	return domain.String(id)
}

// dailyMarket rolls purchases and donations up by date with cumulative
// revenue.
func dailyMarket(purchases, donations domain.Batch) domain.Batch {
	purchaseDaily := aggregate.DailyRollup(purchases, "timestamp_", nil, []aggregate.Spec{
		{Column: "price", As: "purchase_volume", Op: aggregate.Sum},
		{Column: "orderId", As: "orders", Op: aggregate.Count},
	})
	donationDaily := aggregate.DailyRollup(donations, "timestamp_", nil, []aggregate.Spec{
		{Column: "amount", As: "donation_volume", Op: aggregate.Sum},
		{Column: "donor", As: "donations", Op: aggregate.Count},
	})

	daily := mergeByDate(purchaseDaily, donationDaily, "timestamp_")
	for _, row := range daily {
		row["revenue"] = domain.Number(row["purchase_volume"].AsFloat() + row["donation_volume"].AsFloat())
	}
	daily = aggregate.Cumulative(daily, "revenue")
	daily = aggregate.PctChange(daily, []string{"revenue"}, 7)

	return dateKey(daily, "timestamp_", "date")
}
