package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeassist/options-engine/internal/broker"
	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store/memory"
)

// scriptedBroker serves one quote map per Tick and records placed orders.
type scriptedBroker struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	orders []broker.OrderParams
}

func newScriptedBroker() *scriptedBroker {
	return &scriptedBroker{prices: map[string]decimal.Decimal{
		"NSE:NIFTY 50":   decimal.NewFromInt(22000),
		"NSE:NIFTY BANK": decimal.NewFromInt(48000),
	}}
}

func (b *scriptedBroker) setPrice(key string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[key] = decimal.NewFromFloat(price)
}

func (b *scriptedBroker) Quote(_ context.Context, keys []string) (map[string]models.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	out := make(map[string]models.Quote, len(keys))
	for _, k := range keys {
		if p, ok := b.prices[k]; ok {
			out[k] = models.Quote{LastPrice: p}
		}
	}
	return out, nil
}

func (b *scriptedBroker) Instruments(context.Context) ([]models.InstrumentRow, error) {
	return nil, nil
}

func (b *scriptedBroker) PlaceOrder(_ context.Context, p broker.OrderParams) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, p)
	return fmt.Sprintf("ORD%d", len(b.orders)), nil
}

func (b *scriptedBroker) LoginURL() string { return "" }
func (b *scriptedBroker) GenerateSession(context.Context, string, string) (*broker.Session, error) {
	return nil, nil
}
func (b *scriptedBroker) SetAccessToken(string) {}

// sinkNotifier records events synchronously.
type sinkNotifier struct {
	mu     sync.Mutex
	events []string
	extras []map[string]string
}

func (s *sinkNotifier) Notify(kind string, _ *models.Trade, extra map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kind)
	s.extras = append(s.extras, extra)
}

func (s *sinkNotifier) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

type fixture struct {
	engine   *Engine
	broker   *scriptedBroker
	trades   *memory.TradeStore
	notifier *sinkNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	b := newScriptedBroker()
	trades := memory.NewTradeStore()
	n := &sinkNotifier{}
	eng := New(Deps{
		Broker:   b,
		Trades:   trades,
		Notifier: n,
		Logger:   logger,
		Now:      time.Now,
	})
	return &fixture{engine: eng, broker: b, trades: trades, notifier: n}
}

func seedTrade(t *testing.T, f *fixture, trade *models.Trade) {
	t.Helper()
	if trade.TelegramMsgIDs == nil {
		trade.TelegramMsgIDs = map[int64]int64{}
	}
	require.NoError(t, f.trades.Insert(context.Background(), trade))
}

func openTrade(id string, entry, sl float64, qty, lotSize int) *models.Trade {
	return &models.Trade{
		ID:         id,
		UserID:     "u1",
		Symbol:     "NIFTY20260226CE22000",
		Exchange:   "NFO",
		Mode:       models.ModePaper,
		OrderType:  models.OrderTypeMarket,
		Status:     models.StatusOpen,
		EntryPrice: decimal.NewFromFloat(entry),
		HighestLTP: decimal.NewFromFloat(entry),
		CurrentLTP: decimal.NewFromFloat(entry),
		SL:         decimal.NewFromFloat(sl),
		Quantity:   qty,
		LotSize:    lotSize,
		EntryTime:  time.Now(),
	}
}

func tick(t *testing.T, f *fixture, trade *models.Trade, price float64) {
	t.Helper()
	f.broker.setPrice(trade.InstrumentKey(), price)
	f.engine.Tick(context.Background())
}

func TestSingleFullTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade := openTrade("t1", 100, 80, 50, 50)
	trade.Targets = []decimal.Decimal{decimal.NewFromInt(120)}
	trade.TargetControls = []models.TargetControl{{Enabled: true, Lots: 1}}
	seedTrade(t, f, trade)

	for _, price := range []float64{99, 110} {
		tick(t, f, trade, price)
		active, err := f.trades.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, models.StatusOpen, active[0].Status)
	}

	tick(t, f, trade, 120)

	active, err := f.trades.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	hist, err := f.trades.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.StatusTargetHit, hist[0].Status)
	assert.True(t, hist[0].ExitPrice.Equal(decimal.NewFromInt(120)), "exit at target price, got %s", hist[0].ExitPrice)
	assert.True(t, hist[0].PnL.Equal(decimal.NewFromInt(1000)), "pnl (120-100)*50, got %s", hist[0].PnL)
	assert.Contains(t, f.notifier.kinds(), models.EventTargetHit)
}

func TestSLPreemptsTargetAfterTrailing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade := openTrade("t1", 100, 80, 50, 50)
	trade.Targets = []decimal.Decimal{decimal.NewFromInt(140)}
	trade.TargetControls = []models.TargetControl{{Enabled: true, Lots: 1}}
	trade.TrailingSL = decimal.NewFromInt(10)
	seedTrade(t, f, trade)

	tick(t, f, trade, 100)
	tick(t, f, trade, 131)

	active, err := f.trades.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].SL.Equal(decimal.NewFromInt(121)), "sl trailed to 131-10, got %s", active[0].SL)

	tick(t, f, trade, 119)

	hist, err := f.trades.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.StatusSLHit, hist[0].Status)
	assert.True(t, hist[0].ExitPrice.Equal(decimal.NewFromInt(119)))
	assert.True(t, hist[0].PnL.Equal(decimal.NewFromInt(950)), "pnl (119-100)*50, got %s", hist[0].PnL)
	assert.NotContains(t, f.notifier.kinds(), models.EventTargetHit)
}

func TestPartialExitThenFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade := openTrade("t1", 200, 190, 100, 50)
	trade.Targets = []decimal.Decimal{decimal.NewFromInt(210), decimal.NewFromInt(220)}
	trade.TargetControls = []models.TargetControl{
		{Enabled: true, Lots: 1},
		{Enabled: true, Lots: 1},
	}
	seedTrade(t, f, trade)

	tick(t, f, trade, 215)

	active, err := f.trades.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.StatusOpen, active[0].Status)
	assert.Equal(t, 50, active[0].Quantity)
	assert.Equal(t, []int{0}, active[0].TargetsHit)

	tick(t, f, trade, 225)

	hist, err := f.trades.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.StatusTargetHit, hist[0].Status)
	assert.ElementsMatch(t, []int{0, 1}, hist[0].TargetsHit)
}

func TestTrailingCappedAtEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade := openTrade("t1", 100, 90, 50, 50)
	trade.TrailingSL = decimal.NewFromInt(5)
	trade.SLToEntry = models.TrailCapEntry
	seedTrade(t, f, trade)

	tick(t, f, trade, 104)
	active, err := f.trades.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].SL.Equal(decimal.NewFromInt(99)), "sl after 104, got %s", active[0].SL)

	tick(t, f, trade, 120)
	active, err = f.trades.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].SL.Equal(decimal.NewFromInt(100)), "sl capped at entry, got %s", active[0].SL)

	tick(t, f, trade, 99)
	hist, err := f.trades.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.StatusSLHit, hist[0].Status)
	assert.True(t, hist[0].ExitPrice.Equal(decimal.NewFromInt(99)))
}

func TestDisabledTargetMarkedWithoutExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade := openTrade("t1", 100, 90, 50, 50)
	trade.Targets = []decimal.Decimal{decimal.NewFromInt(110), decimal.NewFromInt(120)}
	trade.TargetControls = []models.TargetControl{
		{Enabled: false, Lots: 1},
		{Enabled: true, Lots: 1},
	}
	seedTrade(t, f, trade)

	tick(t, f, trade, 125)

	hist, err := f.trades.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.StatusTargetHit, hist[0].Status)
	assert.ElementsMatch(t, []int{0, 1}, hist[0].TargetsHit)
	assert.True(t, hist[0].ExitPrice.Equal(decimal.NewFromInt(120)), "exited at target 1, got %s", hist[0].ExitPrice)
}

func TestPendingLimitActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade := openTrade("t1", 105, 85, 50, 50)
	trade.Status = models.StatusPending
	trade.OrderType = models.OrderTypeLimit
	trade.TriggerDir = models.TriggerAbove
	trade.HighestLTP = decimal.Zero
	seedTrade(t, f, trade)

	tick(t, f, trade, 103)
	active, err := f.trades.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.StatusPending, active[0].Status)

	tick(t, f, trade, 106)
	active, err = f.trades.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.StatusOpen, active[0].Status)
	assert.True(t, active[0].HighestLTP.Equal(trade.EntryPrice))
	assert.Contains(t, f.notifier.kinds(), models.EventTradeTriggered)
}

func TestQuoteFailureSkipsTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade := openTrade("t1", 100, 80, 50, 50)
	seedTrade(t, f, trade)

	f.broker.mu.Lock()
	f.broker.err = fmt.Errorf("upstream down")
	f.broker.mu.Unlock()

	f.engine.Tick(ctx)

	active, err := f.trades.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].CurrentLTP.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, f.notifier.kinds())
}

// gatedPublisher blocks its first publish until released, so tests can hold
// an emit in flight.
type gatedPublisher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedPublisher) PublishTradeEvent(context.Context, string, *models.Trade, map[string]string) error {
	var first bool
	p.once.Do(func() {
		first = true
		close(p.entered)
	})
	if first {
		<-p.release
	}
	return nil
}

func TestSlowEventPublishDoesNotBlockOperations(t *testing.T) {
	f := newFixture(t)
	pub := &gatedPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	f.engine.events = pub

	hit := openTrade("hit", 100, 80, 50, 50)
	hit.Targets = []decimal.Decimal{decimal.NewFromInt(120)}
	hit.TargetControls = []models.TargetControl{{Enabled: true, Lots: 1}}
	seedTrade(t, f, hit)

	other := openTrade("other", 200, 190, 10, 1)
	other.Symbol = "BANKNIFTY20260226CE48000"
	seedTrade(t, f, other)

	f.broker.setPrice(hit.InstrumentKey(), 120)
	f.broker.setPrice(other.InstrumentKey(), 200)

	tickDone := make(chan struct{})
	go func() {
		f.engine.Tick(context.Background())
		close(tickDone)
	}()

	select {
	case <-pub.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher was never invoked")
	}

	closeDone := make(chan error, 1)
	go func() {
		_, err := f.engine.CloseTrade(context.Background(), "u1", "other")
		closeDone <- err
	}()

	select {
	case err := <-closeDone:
		require.NoError(t, err, "close must proceed while the publish is in flight")
	case <-time.After(2 * time.Second):
		t.Fatal("close stalled behind the event publish")
	}

	close(pub.release)
	<-tickDone
}

func TestIndicesSnapshotPublished(t *testing.T) {
	f := newFixture(t)

	assert.Nil(t, f.engine.Indices())
	f.engine.Tick(context.Background())

	snap := f.engine.Indices()
	require.NotNil(t, snap)
	assert.True(t, snap.Nifty.Equal(decimal.NewFromInt(22000)))
	assert.True(t, snap.BankNifty.Equal(decimal.NewFromInt(48000)))
	assert.NotEmpty(t, snap.Timestamp)
}

func TestIndicesSnapshotCarriesForwardMissingIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.Tick(ctx)
	snap := f.engine.Indices()
	require.NotNil(t, snap)
	require.True(t, snap.BankNifty.Equal(decimal.NewFromInt(48000)))

	f.broker.mu.Lock()
	delete(f.broker.prices, "NSE:NIFTY BANK")
	f.broker.prices["NSE:NIFTY 50"] = decimal.NewFromInt(22100)
	f.broker.mu.Unlock()

	f.engine.Tick(ctx)
	snap = f.engine.Indices()
	require.NotNil(t, snap)
	assert.True(t, snap.Nifty.Equal(decimal.NewFromInt(22100)), "present key updates, got %s", snap.Nifty)
	assert.True(t, snap.BankNifty.Equal(decimal.NewFromInt(48000)), "missing key keeps the prior value, got %s", snap.BankNifty)
}

func TestIndicesSnapshotWaitsForBothIndices(t *testing.T) {
	f := newFixture(t)

	f.broker.mu.Lock()
	delete(f.broker.prices, "NSE:NIFTY BANK")
	f.broker.mu.Unlock()

	f.engine.Tick(context.Background())
	assert.Nil(t, f.engine.Indices(), "no snapshot until both indices have quoted once")
}

func TestSLNeverLoosensAcrossTicks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade := openTrade("t1", 100, 90, 50, 50)
	trade.TrailingSL = decimal.NewFromInt(5)
	seedTrade(t, f, trade)

	prev := trade.SL
	for _, price := range []float64{104, 110, 102, 115, 108, 111} {
		tick(t, f, trade, price)
		active, err := f.trades.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.True(t, active[0].SL.GreaterThanOrEqual(prev),
			"sl loosened from %s to %s at price %v", prev, active[0].SL, price)
		prev = active[0].SL
	}
}

func TestLiveTradeIssuesOrders(t *testing.T) {
	f := newFixture(t)

	trade := openTrade("t1", 100, 80, 50, 50)
	trade.Mode = models.ModeLive
	trade.Targets = []decimal.Decimal{decimal.NewFromInt(120)}
	trade.TargetControls = []models.TargetControl{{Enabled: true, Lots: 1}}
	seedTrade(t, f, trade)

	tick(t, f, trade, 120)

	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	require.Len(t, f.broker.orders, 1)
	assert.Equal(t, models.TransactionSell, f.broker.orders[0].TransactionType)
	assert.Equal(t, 50, f.broker.orders[0].Quantity)
	assert.Equal(t, models.ProductMIS, f.broker.orders[0].Product)
}
