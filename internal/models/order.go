package models

import "time"

// Transaction type constants
const (
	TransactionBuy  = "BUY"
	TransactionSell = "SELL"
)

// ProductMIS is the only product the engine trades.
const ProductMIS = "MIS"

// OrderIntent records that the engine asked the broker for an order. The
// broker stays authoritative for fills; this is our side of the ledger,
// reconciled out-of-band.
type OrderIntent struct {
	ID              int       `json:"id"`
	TradeID         string    `json:"trade_id"`
	UserID          string    `json:"user_id"`
	Symbol          string    `json:"symbol"`
	Exchange        string    `json:"exchange"`
	TransactionType string    `json:"transaction_type"`
	Quantity        int       `json:"quantity"`
	OrderType       string    `json:"order_type"`
	BrokerOrderID   string    `json:"broker_order_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	PlacedAt        time.Time `json:"placed_at"`
}
