package pipeline

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/subgraph"
	"mezo-analytics/internal/warehouse/memory"
)

// stubFetcher serves canned batches per entity name.
type stubFetcher struct {
	batches map[string]domain.Batch
	fail    map[string]error
}

func (f *stubFetcher) FetchAll(_ context.Context, q subgraph.Query) (domain.Batch, error) {
	if err := f.fail[q.Entity]; err != nil {
		return nil, err
	}
	return f.batches[q.Entity].Clone(), nil
}

// stubTxSource serves canned explorer batches per endpoint path.
type stubTxSource struct {
	batches map[string]domain.Batch
	fail    map[string]error
}

func (s *stubTxSource) FetchAll(_ context.Context, path string) (domain.Batch, error) {
	if err := s.fail[path]; err != nil {
		return nil, err
	}
	return s.batches[path].Clone(), nil
}

// stubPrices returns fixed rates.
type stubPrices struct {
	rates map[string]float64
	err   error
}

func (p *stubPrices) TokenPrices(context.Context) (map[string]float64, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.rates, nil
}

const wbtcAddr = "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"

// bridgeEvent builds one raw bridge subgraph row: a fixed-point WBTC
// amount at a unix-seconds timestamp.
func bridgeEvent(hash, amount, ts string) domain.Row {
	return domain.Row{
		"transactionHash_": domain.String(hash),
		"amount":           domain.String(amount),
		"token":            domain.String(wbtcAddr),
		"timestamp_":       domain.String(ts),
	}
}

func TestBridgeRun(t *testing.T) {
	sink := memory.NewSink()
	fetcher := &stubFetcher{batches: map[string]domain.Batch{
		"assetsLockeds": {
			// Newest first, as the subgraph serves them.
			bridgeEvent("0xb", "200000000", "1740873600"), // 2 WBTC on Mar 2
			bridgeEvent("0xa", "100000000", "1740787200"), // 1 WBTC on Mar 1
		},
		"withdrawns": {
			bridgeEvent("0xc", "50000000", "1740873600"), // 0.5 WBTC on Mar 2
		},
	}}
	portal := &stubFetcher{batches: map[string]domain.Batch{
		"depositAutoBridgeds": {
			bridgeEvent("0xd", "10000000", "1740873600"),
		},
	}}

	p := NewBridge(Options{
		Sink:    sink,
		Prices:  &stubPrices{rates: map[string]float64{"WBTC": 100000}},
		Dataset: "test",
	}, fetcher, portal)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	raw := sink.Rows("test_bridge_transactions")
	if len(raw) != 3 {
		t.Fatalf("raw rows = %d, want 3", len(raw))
	}
	byHash := map[string]domain.Row{}
	for _, row := range raw {
		byHash[row.Key("transactionHash_")] = row
	}
	if got := byHash["0xa"]["amount"].AsFloat(); got != 1 {
		t.Errorf("0xa amount = %v, want 1 (scaled from 8 places)", got)
	}
	if got := byHash["0xa"]["amount_usd"].AsFloat(); got != 100000 {
		t.Errorf("0xa amount_usd = %v, want 100000", got)
	}
	if got := byHash["0xa"]["token"].AsString(); got != "WBTC" {
		t.Errorf("0xa token = %q, want WBTC", got)
	}
	if got := byHash["0xc"]["type"].AsString(); got != "withdrawal" {
		t.Errorf("0xc type = %q, want withdrawal", got)
	}

	daily := sink.Rows("test_bridge_daily")
	if len(daily) != 2 {
		t.Fatalf("daily rows = %d, want 2", len(daily))
	}
	// Mar 1: 1 WBTC in, nothing out.
	if got := daily[0]["date"].AsString(); got != "2025-03-01" {
		t.Errorf("daily[0] date = %q, want 2025-03-01", got)
	}
	if got := daily[0]["net_flow"].AsFloat(); got != 100000 {
		t.Errorf("Mar 1 net_flow = %v, want 100000", got)
	}
	// Mar 2: 2 in, 0.5 out; tvl accumulates across both days.
	if got := daily[1]["net_flow"].AsFloat(); got != 150000 {
		t.Errorf("Mar 2 net_flow = %v, want 150000", got)
	}
	if got := daily[1]["tvl"].AsFloat(); got != 250000 {
		t.Errorf("Mar 2 tvl = %v, want 250000", got)
	}

	byToken := sink.Rows("test_bridge_daily_by_token")
	if len(byToken) != 2 {
		t.Fatalf("by-token rows = %d, want 2", len(byToken))
	}
	if got := byToken[0].Key("date_token"); got != "2025-03-01|WBTC" {
		t.Errorf("date_token = %q, want 2025-03-01|WBTC", got)
	}

	auto := sink.Rows("test_autobridge_transactions")
	if len(auto) != 1 {
		t.Fatalf("autobridge rows = %d, want 1", len(auto))
	}
	if got := auto[0]["type"].AsString(); got != "autobridge" {
		t.Errorf("autobridge type = %q, want autobridge", got)
	}
}

func TestBridgeRunIsIdempotent(t *testing.T) {
	sink := memory.NewSink()
	fetcher := &stubFetcher{batches: map[string]domain.Batch{
		"assetsLockeds": {bridgeEvent("0xa", "100000000", "1740787200")},
	}}
	portal := &stubFetcher{batches: map[string]domain.Batch{}}

	p := NewBridge(Options{
		Sink:   sink,
		Prices: &stubPrices{rates: map[string]float64{"WBTC": 100000}},
	}, fetcher, portal)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run() = %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second Run() = %v", err)
	}

	if n := len(sink.Rows("bridge_transactions")); n != 1 {
		t.Errorf("raw rows = %d, want 1 after repeated runs", n)
	}
	if n := len(sink.Rows("bridge_daily")); n != 1 {
		t.Errorf("daily rows = %d, want 1 after repeated runs", n)
	}
}

func TestBridgeRunFetchFailure(t *testing.T) {
	sink := memory.NewSink()
	fetcher := &stubFetcher{fail: map[string]error{
		"assetsLockeds": errors.New("subgraph down"),
	}}
	p := NewBridge(Options{Sink: sink, Prices: &stubPrices{}}, fetcher, &stubFetcher{})

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("Run() = nil, want fetch error")
	}
	if rows := sink.Rows("bridge_transactions"); rows != nil {
		t.Errorf("rows = %v, want nothing written on fetch failure", rows)
	}
}

// loanEvent builds one raw trove update row.
func loanEvent(hash, borrower string, op int, principal, ts string) domain.Row {
	return domain.Row{
		"transactionHash_": domain.String(hash),
		"borrower":         domain.String(borrower),
		"operation":        domain.String(strconv.Itoa(op)),
		"principal":        domain.String(principal),
		"coll":             domain.String("1000000000000000000"),
		"stake":            domain.String("0"),
		"interest":         domain.String("0"),
		"timestamp_":       domain.String(ts),
	}
}

func TestMUSDRun(t *testing.T) {
	sink := memory.NewSink()
	loans := &stubFetcher{batches: map[string]domain.Batch{
		"troveUpdateds": {
			// Newest first: alice adjusted, bob opened, alice opened.
			loanEvent("0x3", "alice", troveAdjusted, "7000000000000000000", "1740873600"),
			loanEvent("0x2", "bob", troveOpened, "3000000000000000000", "1740873600"),
			loanEvent("0x1", "alice", troveOpened, "5000000000000000000", "1740787200"),
		},
	}}
	troves := &stubFetcher{batches: map[string]domain.Batch{
		"liquidations": {
			{
				"transactionHash_":    domain.String("0x9"),
				"liquidatedPrincipal": domain.String("2000000000000000000"),
				"liquidatedInterest":  domain.String("0"),
				"liquidatedColl":      domain.String("1000000000000000000"),
				"timestamp_":          domain.String("1740873600"),
			},
		},
		"troveLiquidateds": {
			{
				"id":               domain.String("liq-1"),
				"transactionHash_": domain.String("0x9"),
				"borrower":         domain.String("erin"),
				"debt":             domain.String("2000000000000000000"),
				"coll":             domain.String("1000000000000000000"),
				"timestamp_":       domain.String("1740873600"),
			},
		},
	}}

	p := NewMUSD(Options{Sink: sink, Dataset: "test"}, loans, troves)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	raw := sink.Rows("test_musd_loans")
	if len(raw) != 3 {
		t.Fatalf("loan rows = %d, want 3", len(raw))
	}

	daily := sink.Rows("test_musd_loans_daily")
	if len(daily) != 2 {
		t.Fatalf("daily rows = %d, want 2", len(daily))
	}
	// Mar 1: alice opened 5. Mar 2: bob opened 3; the adjustment does
	// not count as an open.
	if got := daily[0]["musd_borrowed"].AsFloat(); got != 5 {
		t.Errorf("Mar 1 musd_borrowed = %v, want 5", got)
	}
	if got := daily[1]["musd_borrowed"].AsFloat(); got != 3 {
		t.Errorf("Mar 2 musd_borrowed = %v, want 3", got)
	}
	if got := daily[1]["cumulative_musd_borrowed"].AsFloat(); got != 8 {
		t.Errorf("cumulative = %v, want 8", got)
	}

	summary := sink.Rows("test_musd_borrow_summary")
	if len(summary) != 1 {
		t.Fatalf("summary rows = %d, want 1", len(summary))
	}
	// Latest state: alice at 7 (adjusted), bob at 3. Both open.
	if got := summary[0]["total_borrowers"].AsFloat(); got != 2 {
		t.Errorf("total_borrowers = %v, want 2", got)
	}
	if got := summary[0]["open_loans"].AsFloat(); got != 2 {
		t.Errorf("open_loans = %v, want 2", got)
	}
	if got := summary[0]["musd_in_loans"].AsFloat(); got != 10 {
		t.Errorf("musd_in_loans = %v, want 10", got)
	}
	if got := summary[0]["total_musd_borrowed"].AsFloat(); got != 8 {
		t.Errorf("total_musd_borrowed = %v, want 8", got)
	}

	liq := sink.Rows("test_musd_liquidations")
	if len(liq) != 1 {
		t.Fatalf("liquidation rows = %d, want 1", len(liq))
	}
	if got := liq[0]["liquidatedPrincipal"].AsFloat(); got != 2 {
		t.Errorf("liquidatedPrincipal = %v, want 2", got)
	}

	troveLiq := sink.Rows("test_musd_trove_liquidations")
	if len(troveLiq) != 1 {
		t.Fatalf("trove liquidation rows = %d, want 1", len(troveLiq))
	}
	if got := troveLiq[0].Key("id"); got != "liq-1" {
		t.Errorf("trove liquidation key = %q, want liq-1", got)
	}
	if got := troveLiq[0]["debt"].AsFloat(); got != 2 {
		t.Errorf("trove liquidation debt = %v, want 2", got)
	}

	// Alice's single adjustment is its own baseline, so nothing counts
	// as a change yet; no loans closed.
	adjustments := sink.Rows("test_musd_adjustments_summary")
	if len(adjustments) != 1 {
		t.Fatalf("adjustments summary rows = %d, want 1", len(adjustments))
	}
	if got := adjustments[0]["total_adjustments"].AsFloat(); got != 1 {
		t.Errorf("total_adjustments = %v, want 1", got)
	}
	if got := adjustments[0]["principal_increases"].AsFloat(); got != 0 {
		t.Errorf("principal_increases = %v, want 0", got)
	}

	closed := sink.Rows("test_musd_closed_loans_summary")
	if len(closed) != 1 {
		t.Fatalf("closed loans summary rows = %d, want 1", len(closed))
	}
	if got := closed[0]["total_closed_loans"].AsFloat(); got != 0 {
		t.Errorf("total_closed_loans = %v, want 0", got)
	}
}

func TestMUSDBorrowSnapshotClosedLoans(t *testing.T) {
	loans := cleanLoans(domain.Batch{
		loanEvent("0x2", "alice", troveClosed, "0", "1740873600"),
		loanEvent("0x1", "alice", troveOpened, "5000000000000000000", "1740787200"),
	})

	summary := borrowSnapshot(loans, mustDate("2025-03-03"))
	if got := summary[0]["total_borrowers"].AsFloat(); got != 1 {
		t.Errorf("total_borrowers = %v, want 1", got)
	}
	if got := summary[0]["open_loans"].AsFloat(); got != 0 {
		t.Errorf("open_loans = %v, want 0 (latest state is closed)", got)
	}
	if got := summary[0]["total_musd_borrowed"].AsFloat(); got != 5 {
		t.Errorf("total_musd_borrowed = %v, want 5 (all-time opens)", got)
	}
}

// adjEvent builds one raw trove adjustment row with explicit principal
// and collateral.
func adjEvent(hash, borrower, principal, coll, ts string) domain.Row {
	return domain.Row{
		"transactionHash_": domain.String(hash),
		"borrower":         domain.String(borrower),
		"operation":        domain.String(strconv.Itoa(troveAdjusted)),
		"principal":        domain.String(principal),
		"coll":             domain.String(coll),
		"stake":            domain.String("0"),
		"interest":         domain.String("0"),
		"timestamp_":       domain.String(ts),
	}
}

func TestMUSDAdjustmentsSummary(t *testing.T) {
	loans := cleanLoans(domain.Batch{
		// Newest first: alice repays to 3 and pulls collateral, after
		// raising to 8 and adding collateral; her first adjustment at
		// 5/1 is the baseline. Bob only has a baseline.
		adjEvent("0x4", "alice", "3000000000000000000", "500000000000000000", "1740960000"),
		adjEvent("0x3", "alice", "8000000000000000000", "2000000000000000000", "1740873600"),
		adjEvent("0x2", "bob", "4000000000000000000", "1000000000000000000", "1740873600"),
		adjEvent("0x1", "alice", "5000000000000000000", "1000000000000000000", "1740787200"),
	})

	summary := adjustmentsSummary(loans, mustDate("2025-03-04"))
	got := summary[0]

	wants := map[string]float64{
		"total_adjustments":           4,
		"principal_increases":         1,
		"unique_principal_increases":  1,
		"collateral_increases":        1,
		"unique_collateral_increases": 1,
		"collateral_decreases":        1,
		"unique_collateral_decreases": 1,
		"partial_repayments":          1,
		"unique_partial_repayments":   1,
	}
	for col, want := range wants {
		if got[col].AsFloat() != want {
			t.Errorf("%s = %v, want %v", col, got[col].AsFloat(), want)
		}
	}
	if got.Key("date") != "2025-03-04" {
		t.Errorf("date = %q, want 2025-03-04", got.Key("date"))
	}
}

func TestMUSDClosedLoansSummary(t *testing.T) {
	loans := cleanLoans(domain.Batch{
		loanEvent("0x2", "alice", troveClosed, "5000000000000000000", "1740873600"),
		loanEvent("0x1", "alice", troveOpened, "5000000000000000000", "1740787200"),
	})

	summary := closedLoansSummary(loans, mustDate("2025-03-03"))
	if got := summary[0]["total_closed_loans"].AsFloat(); got != 1 {
		t.Errorf("total_closed_loans = %v, want 1", got)
	}
	if got := summary[0]["total_repaid"].AsFloat(); got != 5 {
		t.Errorf("total_repaid = %v, want 5", got)
	}
	if got := summary[0]["total_collateral_withdrawn"].AsFloat(); got != 1 {
		t.Errorf("total_collateral_withdrawn = %v, want 1", got)
	}
}

func TestMarketRun(t *testing.T) {
	sink := memory.NewSink()
	fetcher := &stubFetcher{batches: map[string]domain.Batch{
		"orderPlaceds": {
			{
				"transactionHash_": domain.String("0x1"),
				"orderId":          domain.String("7"),
				"price":            domain.String("20000000000000000000"),
				"customer":         domain.String("carol"),
				"timestamp_":       domain.String("1740787200"),
			},
		},
		"donateds": {
			{
				"transactionHash_": domain.String("0x2"),
				"donor":            domain.String("dave"),
				"amount":           domain.String("5000000000000000000"),
				"timestamp_":       domain.String("1740787200"),
			},
		},
	}}

	txs := &stubTxSource{batches: map[string]domain.Batch{
		"addresses/" + storeContract + "/transactions": {
			{
				"hash":                     domain.String("0xf1"),
				"method":                   domain.String("orderWithPermit"),
				"timestamp":                domain.String("2025-03-01T12:00:00.000000Z"),
				"fee_value":                domain.String("21000000000000000"),
				"decoded_input_parameters": domain.String(`[{"name":"_productId","type":"uint256","value":"1003"}]`),
			},
			{
				// Not a market method, dropped from the fee dataset.
				"hash":      domain.String("0xf0"),
				"method":    domain.String("approve"),
				"timestamp": domain.String("2025-03-01T11:00:00.000000Z"),
				"fee_value": domain.String("1000000000000000"),
			},
		},
		"addresses/" + donationsContract + "/transactions": {
			{
				"hash":                     domain.String("0xf2"),
				"method":                   domain.String("donateWithPermit"),
				"timestamp":                domain.String("2025-03-02T09:30:00.000000Z"),
				"fee_value":                domain.String("1000000000000000"),
				"decoded_input_parameters": domain.String(`[{"name":"_cause","type":"string","value":"Brink"}]`),
			},
		},
	}}

	p := NewMarket(Options{Sink: sink, Dataset: "test"}, fetcher, txs)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	daily := sink.Rows("test_market_daily")
	if len(daily) != 1 {
		t.Fatalf("daily rows = %d, want 1", len(daily))
	}
	if got := daily[0]["purchase_volume"].AsFloat(); got != 20 {
		t.Errorf("purchase_volume = %v, want 20", got)
	}
	if got := daily[0]["donation_volume"].AsFloat(); got != 5 {
		t.Errorf("donation_volume = %v, want 5", got)
	}
	if got := daily[0]["revenue"].AsFloat(); got != 25 {
		t.Errorf("revenue = %v, want 25", got)
	}
	if got := daily[0].Key("date"); got != "2025-03-01" {
		t.Errorf("date = %q, want 2025-03-01", got)
	}

	fees := sink.Rows("test_market_fees")
	if len(fees) != 2 {
		t.Fatalf("fee rows = %d, want 2 (non-market methods dropped)", len(fees))
	}
	byHash := map[string]domain.Row{}
	for _, row := range fees {
		byHash[row.Key("transactionHash_")] = row
	}

	store := byHash["0xf1"]
	if store == nil {
		t.Fatal("store fee row 0xf1 missing")
	}
	if got := store["contract_name"].AsString(); got != "Store" {
		t.Errorf("contract_name = %q, want Store", got)
	}
	if got := store["transaction_type"].AsString(); got != "purchase" {
		t.Errorf("transaction_type = %q, want purchase", got)
	}
	if got := store["market_item"].AsString(); got != "bitrefill_25" {
		t.Errorf("market_item = %q, want bitrefill_25", got)
	}
	if got := store["fee_value"].AsFloat(); got != 0.021 {
		t.Errorf("fee_value = %v, want 0.021 (scaled from 18 places)", got)
	}
	if got := store["timestamp_"].AsTime(); !got.Equal(mustDate("2025-03-01")) {
		t.Errorf("timestamp_ = %v, want 2025-03-01", got)
	}

	donation := byHash["0xf2"]
	if donation == nil {
		t.Fatal("donation fee row 0xf2 missing")
	}
	if got := donation["transaction_type"].AsString(); got != "donation" {
		t.Errorf("transaction_type = %q, want donation", got)
	}
	if got := donation["market_item"].AsString(); got != "Brink" {
		t.Errorf("market_item = %q, want Brink", got)
	}
}

func TestMarketRunExplorerFailure(t *testing.T) {
	sink := memory.NewSink()
	fetcher := &stubFetcher{}
	txs := &stubTxSource{fail: map[string]error{
		"addresses/" + storeContract + "/transactions": errors.New("explorer down"),
	}}

	p := NewMarket(Options{Sink: sink}, fetcher, txs)
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("Run() = nil, want explorer fetch error")
	}
	if rows := sink.Rows("market_fees"); rows != nil {
		t.Errorf("fee rows = %v, want nothing written on fetch failure", rows)
	}
}

func mustDate(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}
