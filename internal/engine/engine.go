// Package engine runs the risk and execution loop: one serial tick per
// second that quotes every active instrument, drives each trade through
// its state machine and commits the store once per tick.
package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tradeassist/options-engine/internal/broker"
	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store"
)

const (
	keyNifty     = "NSE:NIFTY 50"
	keyBankNifty = "NSE:NIFTY BANK"

	redisIndicesKey = "indices:snapshot"
)

var istZone = time.FixedZone("IST", 5*3600+30*60)

// Notifier receives lifecycle events. Calls must not block the tick loop.
type Notifier interface {
	Notify(kind string, t *models.Trade, extra map[string]string)
}

// EventPublisher mirrors lifecycle events onto the event bus.
type EventPublisher interface {
	PublishTradeEvent(ctx context.Context, kind string, t *models.Trade, extra map[string]string) error
}

// LotSizer resolves contract lot sizes for new trades.
type LotSizer interface {
	LotSizeForSymbol(exchange, tradingSymbol string) int
}

// Deps are the engine's collaborators. Broker, Trades and Logger are
// required; the rest degrade to no-ops when nil.
type Deps struct {
	Broker       broker.Broker
	Trades       store.TradeStore
	Orders       store.OrderIntentStore
	Notifier     Notifier
	Events       EventPublisher
	Lots         LotSizer
	Redis        *redis.Client
	Logger       *logrus.Logger
	TickInterval time.Duration
	Now          func() time.Time
}

// Engine owns the tick loop and the active-trade lock. Construct once at
// process start and share the value; there is no package-level state.
type Engine struct {
	broker   broker.Broker
	trades   store.TradeStore
	orders   store.OrderIntentStore
	notifier Notifier
	events   EventPublisher
	lots     LotSizer
	redis    *redis.Client
	logger   *logrus.Logger
	interval time.Duration
	now      func() time.Time

	// mu serializes the per-tick critical section with CreateTrade,
	// CloseTrade and the other user operations.
	mu      sync.Mutex
	indices atomic.Value // *models.IndicesSnapshot

	recentMu sync.Mutex
	recent   map[string]time.Time
}

// New creates an engine from its collaborators.
func New(d Deps) *Engine {
	if d.TickInterval <= 0 {
		d.TickInterval = time.Second
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		broker:   d.Broker,
		trades:   d.Trades,
		orders:   d.Orders,
		notifier: d.Notifier,
		events:   d.Events,
		lots:     d.Lots,
		redis:    d.Redis,
		logger:   d.Logger,
		interval: d.TickInterval,
		now:      d.Now,
		recent:   make(map[string]time.Time),
	}
}

// Run executes the tick loop until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.WithField("interval", e.interval).Info("engine started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// pendingEvent is a notification collected during the per-trade step and
// emitted only after the store commit succeeds.
type pendingEvent struct {
	kind  string
	trade *models.Trade
	extra map[string]string
}

// Tick runs one iteration: quote, publish indices, step every active trade
// under the lock, commit once. Exported so tests can drive the loop with a
// scripted quote feed.
func (e *Engine) Tick(ctx context.Context) {
	active, err := e.trades.ListActive(ctx)
	if err != nil {
		e.logger.WithError(err).Error("failed to list active trades")
		return
	}

	keySet := map[string]bool{keyNifty: true, keyBankNifty: true}
	for _, t := range active {
		keySet[t.InstrumentKey()] = true
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}

	quotes, err := e.broker.Quote(ctx, keys)
	if err != nil {
		e.logger.WithError(err).Warn("quote batch failed, skipping tick")
		return
	}

	e.publishIndices(quotes)

	// Emit after stepActive returns: the events are snapshotted clones, and
	// a slow notifier queue or event bus must not stall user operations
	// waiting on e.mu.
	for _, ev := range e.stepActive(ctx, quotes) {
		e.emit(ctx, ev.kind, ev.trade, ev.extra)
	}
}

// stepActive steps every active trade under the lock and commits once,
// returning the events to emit once the lock is released.
func (e *Engine) stepActive(ctx context.Context, quotes map[string]models.Quote) []pendingEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Re-read inside the lock so trades created or closed since the
	// snapshot are not stepped with stale copies.
	active, err := e.trades.ListActive(ctx)
	if err != nil {
		e.logger.WithError(err).Error("failed to list active trades")
		return nil
	}

	var (
		updated []*models.Trade
		closed  []*models.Trade
		events  []pendingEvent
	)
	now := e.now()
	for _, t := range active {
		q, ok := quotes[t.InstrumentKey()]
		if !ok {
			continue
		}
		evs := e.step(ctx, t, q.LastPrice, now)
		if t.IsTerminal() {
			closed = append(closed, t)
		} else {
			updated = append(updated, t)
		}
		events = append(events, evs...)
	}

	if err := e.trades.Commit(ctx, updated, closed); err != nil {
		e.logger.WithError(err).Error("tick commit failed, discarding mutations")
		return nil
	}
	return events
}

// step advances one trade for one tick. Order is fixed: trigger check for
// PENDING; for open trades trail first, then SL, then the ascending target
// scan. SL pre-empts targets.
func (e *Engine) step(ctx context.Context, t *models.Trade, ltp decimal.Decimal, now time.Time) []pendingEvent {
	t.CurrentLTP = ltp

	switch {
	case t.Status == models.StatusPending:
		return e.stepPending(ctx, t, ltp, now)
	case t.IsOpen():
		return e.stepOpen(ctx, t, ltp, now)
	}
	return nil
}

func (e *Engine) stepPending(ctx context.Context, t *models.Trade, ltp decimal.Decimal, now time.Time) []pendingEvent {
	triggered := (t.TriggerDir == models.TriggerBelow && ltp.LessThanOrEqual(t.EntryPrice)) ||
		(t.TriggerDir == models.TriggerAbove && ltp.GreaterThanOrEqual(t.EntryPrice))
	if !triggered {
		return nil
	}

	t.Status = models.StatusOpen
	t.HighestLTP = t.EntryPrice
	t.AppendLog(now, "ACTIVATED at %s", ltp.StringFixed(2))
	if e.isLive(t) {
		e.placeOrder(ctx, t, models.TransactionBuy, t.Quantity, now)
	}
	return []pendingEvent{{kind: models.EventTradeTriggered, trade: t.Clone()}}
}

func (e *Engine) stepOpen(ctx context.Context, t *models.Trade, ltp decimal.Decimal, now time.Time) []pendingEvent {
	var events []pendingEvent

	if ltp.GreaterThan(t.HighestLTP) {
		t.HighestLTP = ltp
	}

	// Trail before the SL check so a tick that both trails and breaches
	// evaluates against the tightened stop.
	if t.TrailingSL.IsPositive() {
		candidate := ltp.Sub(t.TrailingSL)
		switch t.SLToEntry {
		case models.TrailCapEntry:
			candidate = decimal.Min(candidate, t.EntryPrice)
		case models.TrailCapFirstTarget:
			if len(t.Targets) > 0 {
				candidate = decimal.Min(candidate, t.Targets[0])
			}
		}
		if candidate.GreaterThan(t.SL) {
			t.SL = candidate
			t.AppendLog(now, "SL trailed to %s", t.SL.StringFixed(2))
			events = append(events, pendingEvent{kind: models.EventSLTrail, trade: t.Clone()})
		}
	}

	if ltp.LessThanOrEqual(t.SL) {
		e.exit(ctx, t, models.StatusSLHit, ltp, now)
		t.AppendLog(now, "SL hit at %s, pnl %s", ltp.StringFixed(2), t.PnL.StringFixed(2))
		events = append(events, pendingEvent{kind: models.EventSLHit, trade: t.Clone()})
		return events
	}

	for i := range t.Targets {
		if t.TargetHit(i) || ltp.LessThan(t.Targets[i]) {
			continue
		}
		t.MarkTargetHit(i)

		if i >= len(t.TargetControls) || !t.TargetControls[i].Enabled {
			t.AppendLog(now, "target %d crossed (disabled), no exit", i)
			continue
		}

		target := t.Targets[i]
		exitQty := t.TargetControls[i].Lots * t.LotSize
		extra := map[string]string{"index": strconv.Itoa(i)}

		if exitQty >= t.Quantity {
			e.exit(ctx, t, models.StatusTargetHit, target, now)
			t.AppendLog(now, "target %d hit at %s, exited fully", i, target.StringFixed(2))
			events = append(events, pendingEvent{kind: models.EventTargetHit, trade: t.Clone(), extra: extra})
			return events
		}

		t.PnL = t.PnL.Add(target.Sub(t.EntryPrice).Mul(decimal.NewFromInt(int64(exitQty))))
		t.Quantity -= exitQty
		t.AppendLog(now, "target %d hit at %s, exited %d, %d remaining", i, target.StringFixed(2), exitQty, t.Quantity)
		if e.isLive(t) {
			e.placeOrder(ctx, t, models.TransactionSell, exitQty, now)
		}
		events = append(events, pendingEvent{kind: models.EventTargetHit, trade: t.Clone(), extra: extra})
	}
	return events
}

// exit applies a terminal transition at the given price. Caller moves the
// trade to history via the tick commit or an explicit MoveToHistory.
func (e *Engine) exit(ctx context.Context, t *models.Trade, status string, price decimal.Decimal, now time.Time) {
	live := e.isLive(t)
	t.Status = status
	t.ExitPrice = price
	t.PnL = t.PnL.Add(price.Sub(t.EntryPrice).Mul(decimal.NewFromInt(int64(t.Quantity))))
	exitAt := now
	t.ExitTime = &exitAt
	if live {
		e.placeOrder(ctx, t, models.TransactionSell, t.Quantity, now)
	}
}

// isLive reports whether broker orders should be issued for this trade.
func (e *Engine) isLive(t *models.Trade) bool {
	return t.Mode == models.ModeLive || t.Status == models.StatusPromotedLive
}

// placeOrder best-effort submits a MARKET order and records the intent.
// Failures are logged on the trade and never roll back a transition.
func (e *Engine) placeOrder(ctx context.Context, t *models.Trade, txnType string, qty int, now time.Time) {
	intent := &models.OrderIntent{
		TradeID:         t.ID,
		UserID:          t.UserID,
		Symbol:          t.Symbol,
		Exchange:        t.Exchange,
		TransactionType: txnType,
		Quantity:        qty,
		OrderType:       models.OrderTypeMarket,
		PlacedAt:        now,
	}

	orderID, err := e.broker.PlaceOrder(ctx, broker.OrderParams{
		TradingSymbol:   t.Symbol,
		Exchange:        t.Exchange,
		TransactionType: txnType,
		Quantity:        qty,
		OrderType:       models.OrderTypeMarket,
		Product:         models.ProductMIS,
	})
	if err != nil {
		intent.Error = err.Error()
		t.AppendLog(now, "%s order failed: %v", txnType, err)
		e.logger.WithError(err).WithFields(logrus.Fields{
			"trade_id": t.ID,
			"symbol":   t.Symbol,
		}).Error("order placement failed")
	} else {
		intent.BrokerOrderID = orderID
		t.AppendLog(now, "%s order placed: %s", txnType, orderID)
	}

	if e.orders != nil {
		if err := e.orders.RecordOrderIntent(ctx, intent); err != nil {
			e.logger.WithError(err).Warn("failed to record order intent")
		}
	}
}

// emit fans an event out to the notifier and the event bus.
func (e *Engine) emit(ctx context.Context, kind string, t *models.Trade, extra map[string]string) {
	if e.notifier != nil {
		e.notifier.Notify(kind, t, extra)
	}
	if e.events != nil {
		if err := e.events.PublishTradeEvent(ctx, kind, t, extra); err != nil {
			e.logger.WithError(err).Warn("failed to publish trade event")
		}
	}
}

// publishIndices stores the per-tick index snapshot for UI readers and
// mirrors it into Redis without blocking the tick.
func (e *Engine) publishIndices(quotes map[string]models.Quote) {
	nifty, okN := quotes[keyNifty]
	bank, okB := quotes[keyBankNifty]
	if !okN || !okB {
		// Carry the prior value for a key the batch is missing rather than
		// publishing a zero; without a prior snapshot there is nothing
		// sound to publish yet.
		prev, _ := e.indices.Load().(*models.IndicesSnapshot)
		if prev == nil {
			return
		}
		if !okN {
			nifty.LastPrice = prev.Nifty
		}
		if !okB {
			bank.LastPrice = prev.BankNifty
		}
	}

	snap := &models.IndicesSnapshot{
		Nifty:     nifty.LastPrice,
		BankNifty: bank.LastPrice,
		Timestamp: e.now().In(istZone).Format("2006-01-02 15:04:05"),
	}
	e.indices.Store(snap)

	if e.redis == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		data, err := json.Marshal(snap)
		if err != nil {
			return
		}
		if err := e.redis.Set(ctx, redisIndicesKey, data, 0).Err(); err != nil {
			e.logger.WithError(err).Debug("failed to mirror indices to redis")
		}
	}()
}

// Indices returns the latest published snapshot, or nil before the first
// successful tick.
func (e *Engine) Indices() *models.IndicesSnapshot {
	snap, _ := e.indices.Load().(*models.IndicesSnapshot)
	return snap
}
