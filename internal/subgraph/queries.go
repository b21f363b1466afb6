package subgraph

// Goldsky subgraph endpoints for the Mezo protocol.
const (
	MUSDTroveManagerURL = "https://api.goldsky.com/api/public/project_cm6ks2x8um4aj01uj8nwg1f6r/subgraphs/musd-trove-manager/1.0.0/gn"
	BorrowerOpsURL      = "https://api.goldsky.com/api/public/project_cm6ks2x8um4aj01uj8nwg1f6r/subgraphs/borrower-operations-mezo/1.0.0/gn"
	MezoBridgeURL       = "https://api.goldsky.com/api/public/project_cm6ks2x8um4aj01uj8nwg1f6r/subgraphs/mezo-bridge-mainnet/1.0.0/gn"
	MezoPortalURL       = "https://api.goldsky.com/api/public/project_cm6ks2x8um4aj01uj8nwg1f6r/subgraphs/mezo-portal-mainnet/1.0.0/gn"
	MUSDMarketURL       = "https://api.goldsky.com/api/public/project_cm6ks2x8um4aj01uj8nwg1f6r/subgraphs/market-mezo/1.0.0/gn"
)

// Trove manager and borrower operations queries.
var (
	// Loans returns every trove update: opens, adjustments, closes.
	Loans = Query{
		Entity: "troveUpdateds",
		Document: `
			query getUpdatedMusd($skip: Int!) {
			  troveUpdateds(orderBy: timestamp_, orderDirection: desc, first: 1000, skip: $skip) {
			    timestamp_
			    borrower
			    principal
			    coll
			    stake
			    interest
			    operation
			    transactionHash_
			    block_number
			  }
			}
		`,
	}

	// Liquidations returns protocol-level liquidation events.
	Liquidations = Query{
		Entity: "liquidations",
		Document: `
			query getLiquidations($skip: Int!) {
			  liquidations(orderBy: timestamp_, orderDirection: desc, first: 1000, skip: $skip) {
			    timestamp_
			    liquidatedPrincipal
			    liquidatedInterest
			    liquidatedColl
			    transactionHash_
			  }
			}
		`,
	}

	// LiquidatedTroves returns per-trove liquidation records.
	LiquidatedTroves = Query{
		Entity: "troveLiquidateds",
		Document: `
			query getTroveLiquidated($skip: Int!) {
			  troveLiquidateds(orderBy: timestamp_, orderDirection: desc, first: 1000, skip: $skip) {
			    id
			    timestamp_
			    borrower
			    debt
			    coll
			    transactionHash_
			    block_number
			  }
			}
		`,
	}
)

// Bridge queries.
var (
	// BridgeDeposits returns assets locked into the bridge.
	BridgeDeposits = Query{
		Entity: "assetsLockeds",
		Document: `
			query getBridgedAssets($skip: Int!) {
			  assetsLockeds(orderBy: timestamp_, orderDirection: desc, first: 1000, skip: $skip) {
			    timestamp_
			    amount
			    token
			    recipient
			    transactionHash_
			  }
			}
		`,
	}

	// BridgeWithdrawals returns deposits withdrawn back out.
	BridgeWithdrawals = Query{
		Entity: "withdrawns",
		Document: `
			query withdrawnDeposits($skip: Int!) {
			  withdrawns(orderBy: timestamp_, orderDirection: desc, first: 1000, skip: $skip) {
			    timestamp_
			    amount
			    token
			    depositor
			    transactionHash_
			    block_number
			    depositId
			  }
			}
		`,
	}

	// AutoBridgeDeposits returns portal deposits auto-bridged to mainnet.
	AutoBridgeDeposits = Query{
		Entity: "depositAutoBridgeds",
		Document: `
			query autobridgeDeposits($skip: Int!) {
			  depositAutoBridgeds(orderBy: timestamp_, orderDirection: desc, first: 1000, skip: $skip) {
			    timestamp_
			    amount
			    token
			    depositor
			    transactionHash_
			    block_number
			    depositId
			  }
			}
		`,
	}
)

// Market queries.
var (
	// MarketPurchases returns product orders placed on the market.
	MarketPurchases = Query{
		Entity: "orderPlaceds",
		Document: `
			query getMarketPurchases($skip: Int!) {
			  orderPlaceds(first: 1000, orderBy: timestamp_, orderDirection: desc, skip: $skip) {
			    timestamp_
			    productId
			    price
			    customer
			    orderId
			    transactionHash_
			    block_number
			  }
			}
		`,
	}

	// MarketDonations returns donations routed through the market.
	MarketDonations = Query{
		Entity: "donateds",
		Document: `
			query getMarketDonations($skip: Int!) {
			  donateds(first: 1000, orderBy: timestamp_, orderDirection: desc, skip: $skip) {
			    timestamp_
			    recipient
			    amount
			    donor
			    transactionHash_
			    block_number
			  }
			}
		`,
	}
)
