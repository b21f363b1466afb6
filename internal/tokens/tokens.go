// Package tokens holds the token reference tables: contract addresses,
// symbols, fixed-point scales, and CoinGecko ids.
package tokens

import "strings"

// Symbols maps lowercase Ethereum token contract addresses to symbols.
var Symbols = map[string]string{
	"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599": "WBTC",
	"0x18084fba666a33d37592fa2633fd49a74dd93a88": "tBTC",
	"0xc96de26018a54d51c097160568752c4e3bd6c364": "FBTC",
	"0xd9d920aa40f578ab794426f5c90f6c731d159def": "xSolvBTC",
	"0xcbb7c0000ab88b473b1f5afd9ef808440eed33bf": "cbBTC",
	"0x7a56e1c57c7475ccf742a1832b028f0456652f97": "SolvBTC",
	"0x8db2350d78abc13f5673a411d4700bcf87864dde": "swBTC",
	"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": "USDC",
	"0x4c9edd5852cd905f086c759e8383e09bff1e68b3": "USDe",
	"0x6b175474e89094c44da98b954eedeac495271d0f": "DAI",
	"0xcdf7028ceab81fa0c6971208e83fa7872994bee5": "T",
	"0xdac17f958d2ee523a2206206994597c13d831ec7": "USDT",
}

// Decimals is the fixed-point scale per symbol, in decimal places.
// Symbols not listed use DefaultDecimals.
var Decimals = map[string]int32{
	"USDC":  6,
	"USDT":  6,
	"mUSDC": 6,
	"mUSDT": 6,

	"WBTC":  8,
	"FBTC":  8,
	"cbBTC": 8,
	"swBTC": 8,
}

// DefaultDecimals is the EVM-standard 18-place scale.
const DefaultDecimals int32 = 18

// mezoAssetNames strips the m-prefix from Mezo-wrapped assets so price
// lookups resolve against the underlying symbol.
var mezoAssetNames = map[string]string{
	"mUSDC":    "USDC",
	"mUSDT":    "USDT",
	"mDAI":     "DAI",
	"mWBTC":    "WBTC",
	"mtBTC":    "tBTC",
	"mFBTC":    "FBTC",
	"mcbBTC":   "cbBTC",
	"mswBTC":   "swBTC",
	"mSolvBTC": "SolvBTC",
	"mUSDe":    "USDe",
	"mT":       "T",
}

// Stables are Mezo-native stablecoins pinned to 1 USD.
var Stables = map[string]bool{
	"MUSD":   true,
	"upMUSD": true,
}

// CoinGeckoIDs maps symbols to CoinGecko price ids.
var CoinGeckoIDs = map[string]string{
	"BTC":      "bitcoin",
	"WBTC":     "wrapped-bitcoin",
	"tBTC":     "tbtc",
	"FBTC":     "ignition-fbtc",
	"SolvBTC":  "solv-btc",
	"xSolvBTC": "solv-protocol-solvbtc-bbn",
	"swBTC":    "swell-restaked-btc",
	"cbBTC":    "coinbase-wrapped-btc",
	"LBTC":     "lombard-staked-btc",
	"USDC":     "usd-coin",
	"USDT":     "tether",
	"USDe":     "ethena-usde",
	"crvUSD":   "crvusd",
	"thUSD":    "threshold-usd",
	"DAI":      "dai",
	"T":        "threshold-network-token",
}

// Types classifies symbols for grouped reporting.
var Types = map[string]string{
	"BTC":      "bitcoin",
	"WBTC":     "bitcoin",
	"tBTC":     "bitcoin",
	"FBTC":     "bitcoin",
	"SolvBTC":  "bitcoin",
	"xSolvBTC": "bitcoin",
	"swBTC":    "bitcoin",
	"cbBTC":    "bitcoin",
	"LBTC":     "bitcoin",
	"USDC":     "stablecoin",
	"USDT":     "stablecoin",
	"USDe":     "stablecoin",
	"crvUSD":   "stablecoin",
	"thUSD":    "stablecoin",
	"DAI":      "stablecoin",
	"T":        "ethereum",
}

// Standardize resolves a Mezo-wrapped symbol to its underlying one.
// Unknown symbols pass through unchanged.
func Standardize(symbol string) string {
	if mapped, ok := mezoAssetNames[symbol]; ok {
		return mapped
	}
	return symbol
}

// SymbolForAddress resolves a token contract address to its symbol.
// Unknown addresses pass through lowercased.
func SymbolForAddress(addr string) string {
	lower := strings.ToLower(addr)
	if symbol, ok := Symbols[lower]; ok {
		return symbol
	}
	return lower
}

// DecimalsFor returns the fixed-point scale of a symbol.
func DecimalsFor(symbol string) int32 {
	if d, ok := Decimals[Standardize(symbol)]; ok {
		return d
	}
	return DefaultDecimals
}
