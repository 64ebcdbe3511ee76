// Package fx converts amounts between currencies using a fixed rate table
// declared in configuration.
package fx

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/gosuda/tether/internal/domain"
)

var ErrRateUnavailable = errors.New("fx: rate unavailable")

// Table holds the USD value of one unit of each currency.
type Table struct {
	usd map[domain.Currency]decimal.Decimal
}

// DefaultRates are used when no table is configured. Stablecoins are pegged
// at par; ETH has no default and must be configured.
func DefaultRates() map[domain.Currency]decimal.Decimal {
	one := decimal.NewFromInt(1)
	return map[domain.Currency]decimal.Decimal{
		domain.CurrencyUSD:  one,
		domain.CurrencyUSDC: one,
		domain.CurrencyUSDT: one,
		domain.CurrencyDAI:  one,
	}
}

// NewTable builds a table from USD-per-unit rates. USD is always 1.
func NewTable(rates map[domain.Currency]decimal.Decimal) (*Table, error) {
	usd := make(map[domain.Currency]decimal.Decimal, len(rates)+1)
	for c, r := range rates {
		if !c.Valid() {
			return nil, fmt.Errorf("fx.NewTable: unknown currency %q", c)
		}
		if !r.IsPositive() {
			return nil, fmt.Errorf("fx.NewTable: rate for %s must be > 0", c)
		}
		usd[c] = r
	}
	usd[domain.CurrencyUSD] = decimal.NewFromInt(1)
	return &Table{usd: usd}, nil
}

// Convert expresses amount, denominated in from, in currency to.
func (t *Table) Convert(amount decimal.Decimal, from, to domain.Currency) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rf, ok := t.usd[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateUnavailable, from)
	}
	rt, ok := t.usd[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateUnavailable, to)
	}
	return amount.Mul(rf).Div(rt), nil
}

// ToUSD is Convert with USD as the target.
func (t *Table) ToUSD(amount decimal.Decimal, from domain.Currency) (decimal.Decimal, error) {
	return t.Convert(amount, from, domain.CurrencyUSD)
}

// ParseRates parses "ETH=3000,USDC=1" into a rate map.
func ParseRates(s string) (map[domain.Currency]decimal.Decimal, error) {
	rates := make(map[domain.Currency]decimal.Decimal)
	for pair := range strings.SplitSeq(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sym, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("fx.ParseRates: %q is not SYMBOL=RATE", pair)
		}
		r, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("fx.ParseRates: %s: %w", sym, err)
		}
		rates[domain.Currency(strings.ToUpper(strings.TrimSpace(sym)))] = r
	}
	return rates, nil
}

type rateFile struct {
	Rates map[string]string `yaml:"rates"`
}

// LoadFile reads a YAML document of the form
//
//	rates:
//	  ETH: "3000"
//	  USDC: "1"
func LoadFile(path string) (map[domain.Currency]decimal.Decimal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fx.LoadFile: %w", err)
	}
	var doc rateFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("fx.LoadFile: %w", err)
	}
	rates := make(map[domain.Currency]decimal.Decimal, len(doc.Rates))
	for sym, val := range doc.Rates {
		r, err := decimal.NewFromString(val)
		if err != nil {
			return nil, fmt.Errorf("fx.LoadFile: %s: %w", sym, err)
		}
		rates[domain.Currency(strings.ToUpper(sym))] = r
	}
	return rates, nil
}
