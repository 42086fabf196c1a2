package broker

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/tradeassist/options-engine/internal/models"
)

// OrderParams carries everything the upstream needs to place an order.
type OrderParams struct {
	TradingSymbol   string
	Exchange        string
	TransactionType string // BUY or SELL
	Quantity        int
	OrderType       string // MARKET or LIMIT
	Product         string // MIS
	Price           decimal.Decimal
}

// Session is the result of exchanging a request token.
type Session struct {
	AccessToken string `json:"access_token"`
	PublicToken string `json:"public_token"`
	UserID      string `json:"user_id"`
}

// Broker is the upstream capability the engine is polymorphic over. Two
// implementations exist: the HTTP client below and the mock market.
// Implementations must be safe for concurrent Quote calls.
type Broker interface {
	// Quote returns quotes for a batch of EXCHANGE:SYMBOL keys.
	Quote(ctx context.Context, keys []string) (map[string]models.Quote, error)

	// Instruments returns the full instrument dump.
	Instruments(ctx context.Context) ([]models.InstrumentRow, error)

	// PlaceOrder submits an order and returns the broker's order id.
	PlaceOrder(ctx context.Context, p OrderParams) (string, error)

	// LoginURL returns the upstream's interactive login URL.
	LoginURL() string

	// GenerateSession exchanges a request token for an access token.
	GenerateSession(ctx context.Context, requestToken, apiSecret string) (*Session, error)

	// SetAccessToken installs the token used on subsequent calls.
	SetAccessToken(token string)
}
