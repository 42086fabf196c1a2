package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tradeassist/options-engine/internal/broker"
	"github.com/tradeassist/options-engine/internal/models"
)

// Market sentiment constants
const (
	SentimentNeutral = "NEUTRAL"
	SentimentBullish = "BULLISH"
	SentimentBearish = "BEARISH"
)

const (
	defaultPrice   = 100.0
	minOptionPrice = 0.05
	niftyStrikeGap = 50
)

var indexBasePrices = map[string]float64{
	"NSE:NIFTY 50":   22000.0,
	"NSE:NIFTY BANK": 48000.0,
	"BSE:SENSEX":     72000.0,
	"NSE:RELIANCE":   2400.0,
	"NSE:INFY":       1600.0,
	"NSE:TATASTEEL":  150.0,
}

// option identifies a generated contract. Strike and type live here so
// repricing never has to re-parse the trading symbol it emitted.
type option struct {
	strike float64
	typ    string // CE or PE
}

// Market is a deterministic-with-injected-randomness simulator standing in
// for the upstream brokerage. A background ticker walks the index prices and
// reprices every generated option against the NIFTY spot.
type Market struct {
	sentiment string
	vol       float64 // percent per tick
	period    time.Duration
	logger    *logrus.Logger

	mu       sync.RWMutex
	rng      *rand.Rand
	prices   map[string]float64 // quote key -> price
	options  map[string]option  // quote key -> contract identity
	rows     []models.InstrumentRow
	orderSeq int
}

// NewMarket creates a mock market. The rand source is injected so tests can
// seed it; sentiment biases the index walk.
func NewMarket(sentiment string, volatility float64, period time.Duration, rng *rand.Rand, logger *logrus.Logger) *Market {
	m := &Market{
		sentiment: sentiment,
		vol:       volatility,
		period:    period,
		logger:    logger,
		rng:       rng,
		prices:    make(map[string]float64),
		options:   make(map[string]option),
	}
	for k, p := range indexBasePrices {
		m.prices[k] = p
	}
	m.seedInstruments()
	return m
}

// seedInstruments builds the dump: indices, a few equities, and a NIFTY
// option grid around the spot for the nearest monthly expiry.
func (m *Market) seedInstruments() {
	add := func(exchange, symbol, name, typ string, lot int, strike float64, expiry string) {
		m.rows = append(m.rows, models.InstrumentRow{
			InstrumentToken: len(m.rows) + 1,
			TradingSymbol:   symbol,
			Name:            name,
			Exchange:        exchange,
			InstrumentType:  typ,
			LotSize:         lot,
			Strike:          decimal.NewFromFloat(strike),
			Expiry:          expiry,
		})
	}

	add("NSE", "NIFTY 50", "NIFTY", models.InstrumentEquity, 1, 0, "")
	add("NSE", "NIFTY BANK", "BANKNIFTY", models.InstrumentEquity, 1, 0, "")
	add("BSE", "SENSEX", "SENSEX", models.InstrumentEquity, 1, 0, "")
	add("NSE", "RELIANCE", "RELIANCE", models.InstrumentEquity, 1, 0, "")
	add("NSE", "INFY", "INFY", models.InstrumentEquity, 1, 0, "")

	expiry := nearestMonthEnd(time.Now())
	expiryISO := expiry.Format("2006-01-02")
	stamp := expiry.Format("20060102")

	add("NFO", "NIFTY"+stamp+"FUT", "NIFTY", models.InstrumentFuture, niftyLotSize, 0, expiryISO)

	spot := m.prices["NSE:NIFTY 50"]
	base := int(spot/niftyStrikeGap) * niftyStrikeGap
	for i := -5; i <= 5; i++ {
		strike := float64(base + i*niftyStrikeGap)
		for _, typ := range []string{models.InstrumentCall, models.InstrumentPut} {
			symbol := fmt.Sprintf("NIFTY%s%s%d", stamp, typ, int(strike))
			add("NFO", symbol, "NIFTY", typ, niftyLotSize, strike, expiryISO)

			key := "NFO:" + symbol
			m.options[key] = option{strike: strike, typ: typ}
			m.prices[key] = m.reprice(strike, typ, spot)
		}
	}
}

const niftyLotSize = 50

func nearestMonthEnd(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), 28, 0, 0, 0, 0, now.Location())
	if d.Before(now) {
		d = d.AddDate(0, 1, 0)
	}
	return d
}

// Run walks prices at the configured period until the context is cancelled.
func (m *Market) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("mock market stopped")
			return
		case <-ticker.C:
			m.Step()
		}
	}
}

// Step advances the simulation by one tick. Exposed so tests can drive the
// market without real time passing.
func (m *Market) Step() {
	m.mu.Lock()
	defer m.mu.Unlock()

	bias := 0.0
	switch m.sentiment {
	case SentimentBullish:
		bias = 0.5 * m.vol
	case SentimentBearish:
		bias = -0.5 * m.vol
	}

	for key := range indexBasePrices {
		drift := (m.uniform(-m.vol, m.vol) + bias) / 100
		m.prices[key] *= 1 + drift
	}

	spot := m.prices["NSE:NIFTY 50"]
	for key, opt := range m.options {
		m.prices[key] = m.reprice(opt.strike, opt.typ, spot)
	}
}

// reprice values an option as intrinsic + decaying time value + noise,
// floored at the exchange tick minimum.
func (m *Market) reprice(strike float64, typ string, spot float64) float64 {
	intrinsic := 0.0
	switch typ {
	case models.InstrumentCall:
		intrinsic = spot - strike
	case models.InstrumentPut:
		intrinsic = strike - spot
	}
	if intrinsic < 0 {
		intrinsic = 0
	}

	dist := spot - strike
	if dist < 0 {
		dist = -dist
	}
	timeValue := 150 * math.Pow(0.995, dist)
	price := intrinsic + timeValue + m.uniform(-2, 2)
	if price < minOptionPrice {
		price = minOptionPrice
	}
	return price
}

func (m *Market) uniform(lo, hi float64) float64 {
	return lo + m.rng.Float64()*(hi-lo)
}

// Quote returns quotes for the requested keys, materializing unknown keys at
// the default price so a freshly created trade always has a tick.
func (m *Market) Quote(_ context.Context, keys []string) (map[string]models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.Quote, len(keys))
	for _, key := range keys {
		price, ok := m.prices[key]
		if !ok {
			price = defaultPrice
			m.prices[key] = price
		}
		p := decimal.NewFromFloat(price).Round(2)
		out[key] = models.Quote{
			LastPrice: p,
			OHLC: models.OHLC{
				Open:  p,
				High:  p.Add(decimal.NewFromInt(5)),
				Low:   p.Sub(decimal.NewFromInt(5)),
				Close: p,
			},
		}
	}
	return out, nil
}

// Instruments returns the generated dump.
func (m *Market) Instruments(_ context.Context) ([]models.InstrumentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.InstrumentRow(nil), m.rows...), nil
}

// PlaceOrder is a no-op returning a synthetic order id.
func (m *Market) PlaceOrder(_ context.Context, p broker.OrderParams) (string, error) {
	m.mu.Lock()
	m.orderSeq++
	id := fmt.Sprintf("MOCK_ORD_%04d", m.orderSeq)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"order_id": id,
		"symbol":   p.TradingSymbol,
		"side":     p.TransactionType,
		"quantity": p.Quantity,
	}).Info("mock order placed")
	return id, nil
}

// SetPrice pins a quote key to an exact price. Test hook.
func (m *Market) SetPrice(key string, price float64) {
	m.mu.Lock()
	m.prices[key] = price
	m.mu.Unlock()
}

// LoginURL returns a placeholder link.
func (m *Market) LoginURL() string { return "/mock-login" }

// GenerateSession returns a canned session.
func (m *Market) GenerateSession(_ context.Context, requestToken, _ string) (*broker.Session, error) {
	m.logger.WithField("request_token", requestToken).Info("mock session generated")
	return &broker.Session{AccessToken: "mock-access-token", UserID: "DEMO"}, nil
}

// SetAccessToken is a no-op.
func (m *Market) SetAccessToken(string) {}

// Verify interface compliance at compile time.
var _ broker.Broker = (*Market)(nil)
