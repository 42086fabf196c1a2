package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument type constants
const (
	InstrumentEquity = "EQ"
	InstrumentFuture = "FUT"
	InstrumentCall   = "CE"
	InstrumentPut    = "PE"
)

// InstrumentRow is one row of the broker's instrument dump.
type InstrumentRow struct {
	InstrumentToken int             `json:"instrument_token"`
	TradingSymbol   string          `json:"tradingsymbol"`
	Name            string          `json:"name"`
	Exchange        string          `json:"exchange"`
	LastPrice       decimal.Decimal `json:"last_price"`
	InstrumentType  string          `json:"instrument_type"`
	LotSize         int             `json:"lot_size"`
	Expiry          string          `json:"expiry"` // ISO date or empty
	Strike          decimal.Decimal `json:"strike"`
}

// ExpiryDate parses the row's expiry; the zero time means no expiry.
func (r *InstrumentRow) ExpiryDate() (time.Time, bool) {
	if r.Expiry == "" {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", r.Expiry)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// OHLC is the open/high/low/close block of a quote.
type OHLC struct {
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// Quote is the broker's answer for one EXCHANGE:SYMBOL key.
type Quote struct {
	LastPrice decimal.Decimal `json:"last_price"`
	OHLC      OHLC            `json:"ohlc"`
}

// Moneyness labels for option-chain strikes
const (
	MoneynessITM = "ITM"
	MoneynessATM = "ATM"
	MoneynessOTM = "OTM"
)

// ChainStrike is one strike of an option chain with its moneyness label.
type ChainStrike struct {
	Strike decimal.Decimal `json:"strike"`
	Label  string          `json:"label"`
}

// SymbolDetails is the catalog's answer for a resolved underlying.
type SymbolDetails struct {
	Name        string          `json:"name"`
	LTP         decimal.Decimal `json:"ltp"`
	LotSize     int             `json:"lot_size"`
	FutExpiries []string        `json:"fut_expiries"`
	OptExpiries []string        `json:"opt_expiries"`
}

// IndicesSnapshot is the process-visible record published once per tick and
// read by any number of UI handlers. Timestamp is IST formatted
// "YYYY-MM-DD HH:MM:SS".
type IndicesSnapshot struct {
	Nifty     decimal.Decimal `json:"NIFTY"`
	BankNifty decimal.Decimal `json:"BANKNIFTY"`
	Timestamp string          `json:"TIMESTAMP"`
}
