package domain

import "slices"

// Currency is the denomination of a spend limit or an action amount. It mixes
// fiat, stablecoin and native token symbols.
type Currency string

const (
	CurrencyUSD  Currency = "USD"
	CurrencyETH  Currency = "ETH"
	CurrencyUSDC Currency = "USDC"
	CurrencyUSDT Currency = "USDT"
	CurrencyDAI  Currency = "DAI"
)

// ValidCurrencies is the canonical set of known currencies.
var ValidCurrencies = []Currency{ //nolint:gochecknoglobals // canonical enum list
	CurrencyUSD,
	CurrencyETH,
	CurrencyUSDC,
	CurrencyUSDT,
	CurrencyDAI,
}

func (c Currency) Valid() bool {
	return slices.Contains(ValidCurrencies, c)
}
