package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"tradecore/internal/model/enum"
)

// Contract is the identity of a tradable instrument.
//
// The SecType tag closes the set of variants; constructors below build each
// variant with the fields it needs. Contracts are compared through Key.
type Contract struct {
	ConID         int64           `json:"conId,omitempty" yaml:"conId"`
	SecType       enum.SecType    `json:"secType" yaml:"secType"`
	Symbol        string          `json:"symbol" yaml:"symbol"`
	Exchange      string          `json:"exchange,omitempty" yaml:"exchange"`
	Currency      string          `json:"currency,omitempty" yaml:"currency"`
	LocalSymbol   string          `json:"localSymbol,omitempty" yaml:"localSymbol"`
	LastTradeDate string          `json:"lastTradeDate,omitempty" yaml:"lastTradeDate"`
	Strike        decimal.Decimal `json:"strike" yaml:"-"`
	Right         enum.Right      `json:"right,omitempty" yaml:"right"`
	Multiplier    string          `json:"multiplier,omitempty" yaml:"multiplier"`
}

// Stock builds an equity contract.
func Stock(symbol, exchange, currency string) Contract {
	return Contract{SecType: enum.SecTypeStock, Symbol: symbol, Exchange: exchange, Currency: currency}
}

// Forex builds a currency pair contract from a six letter pair such as EURUSD.
func Forex(pair string) Contract {
	pair = strings.ToUpper(pair)
	c := Contract{SecType: enum.SecTypeForex, Exchange: "IDEALPRO", Symbol: pair}
	if len(pair) == 6 {
		c.Symbol = pair[:3]
		c.Currency = pair[3:]
	}
	return c
}

// Future builds a futures contract.
func Future(symbol, lastTradeDate, exchange, currency string) Contract {
	return Contract{
		SecType:       enum.SecTypeFuture,
		Symbol:        symbol,
		LastTradeDate: lastTradeDate,
		Exchange:      exchange,
		Currency:      currency,
	}
}

// Option builds an option contract.
func Option(symbol, lastTradeDate string, strike decimal.Decimal, right enum.Right, exchange, currency string) Contract {
	return Contract{
		SecType:       enum.SecTypeOption,
		Symbol:        symbol,
		LastTradeDate: lastTradeDate,
		Strike:        strike,
		Right:         right,
		Exchange:      exchange,
		Currency:      currency,
	}
}

// Index builds an index contract.
func Index(symbol, exchange, currency string) Contract {
	return Contract{SecType: enum.SecTypeIndex, Symbol: symbol, Exchange: exchange, Currency: currency}
}

// Crypto builds a crypto currency contract.
func Crypto(symbol, exchange, currency string) Contract {
	return Contract{SecType: enum.SecTypeCrypto, Symbol: symbol, Exchange: exchange, Currency: currency}
}

// IsZero reports whether the contract carries no identity at all.
func (c Contract) IsZero() bool {
	return c.ConID == 0 && c.Symbol == "" && c.LocalSymbol == ""
}

// IsResolved reports whether the broker has assigned a con id.
func (c Contract) IsResolved() bool {
	return c.ConID != 0
}

// Key is the equality key: the con id once resolved, the symbolic fields otherwise.
func (c Contract) Key() string {
	if c.ConID != 0 {
		return "#" + strconv.FormatInt(c.ConID, 10)
	}
	var b strings.Builder
	b.Grow(48)
	b.WriteString(c.SecType.String())
	for _, part := range []string{c.Symbol, c.Exchange, c.Currency, c.LocalSymbol, c.LastTradeDate, c.Right.String(), c.Multiplier} {
		b.WriteByte(':')
		b.WriteString(part)
	}
	if c.SecType == enum.SecTypeOption {
		b.WriteByte(':')
		b.WriteString(c.Strike.String())
	}
	return b.String()
}

// Equal compares two contracts by Key.
func (c Contract) Equal(other Contract) bool {
	return c.Key() == other.Key()
}

// Pair returns the currency pair of a forex contract, e.g. EURUSD.
func (c Contract) Pair() string {
	if c.SecType != enum.SecTypeForex {
		return ""
	}
	return c.Symbol + c.Currency
}

func (c Contract) String() string {
	if c.SecType == enum.SecTypeForex && c.Currency != "" {
		return fmt.Sprintf("Forex(%s)", c.Pair())
	}
	if c.ConID != 0 {
		return fmt.Sprintf("%s(%s, conId=%d)", c.SecType, c.Symbol, c.ConID)
	}
	return fmt.Sprintf("%s(%s, %s, %s)", c.SecType, c.Symbol, c.Exchange, c.Currency)
}
