package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeassist/options-engine/internal/catalog"
	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store"
)

// duplicateWindow rejects a second identical create within this span.
const duplicateWindow = 5 * time.Second

// CreateTradeRequest carries the user's entry parameters.
type CreateTradeRequest struct {
	UserID         string                 `json:"user_id"`
	Mode           string                 `json:"mode"`
	Symbol         string                 `json:"symbol"`
	Exchange       string                 `json:"exchange"`
	Quantity       int                    `json:"quantity"`
	SLPoints       decimal.Decimal        `json:"sl_points"`
	Targets        []decimal.Decimal      `json:"targets"`
	OrderType      string                 `json:"order_type"`
	LimitPrice     decimal.Decimal        `json:"limit_price"`
	TargetControls []models.TargetControl `json:"target_controls"`
	TrailingSL     decimal.Decimal        `json:"trailing_sl"`
	SLToEntry      int                    `json:"sl_to_entry"`
}

func (r *CreateTradeRequest) validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id is required", store.ErrInvalidInput)
	}
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", store.ErrInvalidInput)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
	}
	if !r.SLPoints.IsPositive() {
		return fmt.Errorf("%w: sl_points must be positive", store.ErrInvalidInput)
	}
	switch r.Mode {
	case models.ModeLive, models.ModePaper, models.ModeSimulator:
	default:
		return fmt.Errorf("%w: unknown mode %q", store.ErrInvalidInput, r.Mode)
	}
	switch r.OrderType {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if !r.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit order requires a positive limit_price", store.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", store.ErrInvalidInput, r.OrderType)
	}
	switch r.SLToEntry {
	case models.TrailCapNone, models.TrailCapEntry, models.TrailCapFirstTarget:
	default:
		return fmt.Errorf("%w: sl_to_entry must be 0, 1 or 2", store.ErrInvalidInput)
	}
	if len(r.TargetControls) > 0 && len(r.Targets) > 0 && len(r.TargetControls) != len(r.Targets) {
		return fmt.Errorf("%w: target_controls length must match targets", store.ErrInvalidInput)
	}
	for i, tgt := range r.Targets {
		if !tgt.IsPositive() {
			return fmt.Errorf("%w: target %d must be positive", store.ErrInvalidInput, i)
		}
	}
	if r.TrailingSL.IsNegative() {
		return fmt.Errorf("%w: trailing_sl cannot be negative", store.ErrInvalidInput)
	}
	return nil
}

// CreateTrade validates the request, persists a new trade and, for LIVE
// MARKET entries, best-effort issues the broker BUY.
func (e *Engine) CreateTrade(ctx context.Context, req CreateTradeRequest) (*models.Trade, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := e.now()
	if e.isDuplicate(req, now) {
		return nil, fmt.Errorf("%w: identical trade submitted within %s", store.ErrDuplicateKey, duplicateWindow)
	}

	exchange := req.Exchange
	if exchange == "" {
		exchange = catalog.InferExchange(req.Symbol)
	}

	quotes, err := e.broker.Quote(ctx, []string{exchange + ":" + req.Symbol})
	if err != nil {
		return nil, fmt.Errorf("failed to quote %s: %w", req.Symbol, err)
	}
	q, ok := quotes[exchange+":"+req.Symbol]
	if !ok || !q.LastPrice.IsPositive() {
		return nil, fmt.Errorf("%w: no quote for %s:%s", store.ErrInvalidInput, exchange, req.Symbol)
	}
	ltp := q.LastPrice

	lotSize := 1
	if e.lots != nil {
		if ls := e.lots.LotSizeForSymbol(exchange, req.Symbol); ls > 0 {
			lotSize = ls
		}
	}

	t := &models.Trade{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		Exchange:       exchange,
		Mode:           req.Mode,
		OrderType:      req.OrderType,
		Quantity:       req.Quantity,
		LotSize:        lotSize,
		CurrentLTP:     ltp,
		TrailingSL:     req.TrailingSL,
		SLToEntry:      req.SLToEntry,
		EntryTime:      now,
		TelegramMsgIDs: make(map[int64]int64),
	}

	if req.OrderType == models.OrderTypeLimit {
		t.Status = models.StatusPending
		t.EntryPrice = req.LimitPrice
		if req.LimitPrice.GreaterThanOrEqual(ltp) {
			t.TriggerDir = models.TriggerAbove
		} else {
			t.TriggerDir = models.TriggerBelow
		}
		t.AppendLog(now, "created PENDING, triggers %s %s", t.TriggerDir, t.EntryPrice.StringFixed(2))
	} else {
		t.Status = models.StatusOpen
		t.EntryPrice = ltp
		t.HighestLTP = ltp
		t.AppendLog(now, "created OPEN at %s", ltp.StringFixed(2))
	}

	t.SL = t.EntryPrice.Sub(req.SLPoints)
	t.Targets = req.Targets
	if len(t.Targets) == 0 {
		t.Targets = defaultTargets(t.EntryPrice, req.SLPoints)
	}
	t.TargetControls = req.TargetControls
	for len(t.TargetControls) < len(t.Targets) {
		t.TargetControls = append(t.TargetControls, models.TargetControl{Enabled: true, Lots: 1})
	}

	e.mu.Lock()
	err = e.trades.Insert(ctx, t)
	if err == nil && t.Status == models.StatusOpen && e.isLive(t) {
		e.placeOrder(ctx, t, models.TransactionBuy, t.Quantity, now)
		err = e.trades.Update(ctx, t)
	}
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to persist trade: %w", err)
	}

	e.rememberCreate(req, now)
	e.emit(ctx, models.EventTradeAdded, t, nil)
	return t.Clone(), nil
}

// defaultTargets spaces three targets at 0.5x, 1x and 2x the stop distance
// above entry.
func defaultTargets(entry, slPoints decimal.Decimal) []decimal.Decimal {
	half := decimal.NewFromFloat(0.5)
	two := decimal.NewFromInt(2)
	return []decimal.Decimal{
		entry.Add(slPoints.Mul(half)),
		entry.Add(slPoints),
		entry.Add(slPoints.Mul(two)),
	}
}

func dupKey(req CreateTradeRequest) string {
	return fmt.Sprintf("%s|%s|%d", req.UserID, req.Symbol, req.Quantity)
}

func (e *Engine) isDuplicate(req CreateTradeRequest, now time.Time) bool {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	at, ok := e.recent[dupKey(req)]
	return ok && now.Sub(at) < duplicateWindow
}

func (e *Engine) rememberCreate(req CreateTradeRequest, now time.Time) {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	for k, at := range e.recent {
		if now.Sub(at) >= duplicateWindow {
			delete(e.recent, k)
		}
	}
	e.recent[dupKey(req)] = now
}

// CloseTrade moves a trade to history as MANUAL_EXIT at its last seen LTP,
// best-effort selling the remaining quantity when LIVE.
func (e *Engine) CloseTrade(ctx context.Context, userID, tradeID string) (*models.Trade, error) {
	t, err := e.closeLocked(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}
	e.emit(ctx, models.EventManualExit, t, nil)
	return t.Clone(), nil
}

func (e *Engine) closeLocked(ctx context.Context, userID, tradeID string) (*models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.trades.Get(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	wasOpen := t.IsOpen()
	live := e.isLive(t)
	t.Status = models.StatusManualExit
	exitAt := now
	t.ExitTime = &exitAt
	if wasOpen {
		t.ExitPrice = t.CurrentLTP
		t.PnL = t.PnL.Add(t.CurrentLTP.Sub(t.EntryPrice).Mul(decimal.NewFromInt(int64(t.Quantity))))
		if live {
			e.placeOrder(ctx, t, models.TransactionSell, t.Quantity, now)
		}
	}
	t.AppendLog(now, "closed manually at %s, pnl %s", t.CurrentLTP.StringFixed(2), t.PnL.StringFixed(2))

	if err := e.trades.MoveToHistory(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to close trade: %w", err)
	}
	return t, nil
}

// PromoteToLive converts an OPEN paper or simulator trade into a live
// position, issuing the broker BUY for the current quantity.
func (e *Engine) PromoteToLive(ctx context.Context, userID, tradeID string) (*models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.trades.Get(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusOpen {
		return nil, fmt.Errorf("%w: only OPEN trades can be promoted", store.ErrInvalidInput)
	}
	if t.Mode == models.ModeLive {
		return nil, fmt.Errorf("%w: trade is already live", store.ErrInvalidInput)
	}

	now := e.now()
	t.Status = models.StatusPromotedLive
	t.AppendLog(now, "promoted to live")
	e.placeOrder(ctx, t, models.TransactionBuy, t.Quantity, now)

	if err := e.trades.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to promote trade: %w", err)
	}
	return t.Clone(), nil
}

// UpdateProtectionRequest carries optional protection changes; nil fields
// are left untouched.
type UpdateProtectionRequest struct {
	SL         *decimal.Decimal  `json:"sl,omitempty"`
	TrailingSL *decimal.Decimal  `json:"trailing_sl,omitempty"`
	SLToEntry  *int              `json:"sl_to_entry,omitempty"`
	Targets    []decimal.Decimal `json:"targets,omitempty"`
}

// UpdateProtection adjusts a trade's stop, trailing distance, trail cap or
// targets while it is active.
func (e *Engine) UpdateProtection(ctx context.Context, userID, tradeID string, req UpdateProtectionRequest) (*models.Trade, error) {
	if req.SL != nil && !req.SL.IsPositive() {
		return nil, fmt.Errorf("%w: sl must be positive", store.ErrInvalidInput)
	}
	if req.TrailingSL != nil && req.TrailingSL.IsNegative() {
		return nil, fmt.Errorf("%w: trailing_sl cannot be negative", store.ErrInvalidInput)
	}
	if req.SLToEntry != nil {
		switch *req.SLToEntry {
		case models.TrailCapNone, models.TrailCapEntry, models.TrailCapFirstTarget:
		default:
			return nil, fmt.Errorf("%w: sl_to_entry must be 0, 1 or 2", store.ErrInvalidInput)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.trades.Get(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if req.SL != nil {
		t.SL = *req.SL
		t.AppendLog(now, "SL set to %s", t.SL.StringFixed(2))
	}
	if req.TrailingSL != nil {
		t.TrailingSL = *req.TrailingSL
	}
	if req.SLToEntry != nil {
		t.SLToEntry = *req.SLToEntry
	}
	if len(req.Targets) > 0 {
		t.Targets = req.Targets
		for len(t.TargetControls) < len(t.Targets) {
			t.TargetControls = append(t.TargetControls, models.TargetControl{Enabled: true, Lots: 1})
		}
		t.TargetControls = t.TargetControls[:len(t.Targets)]
		t.AppendLog(now, "targets updated (%d)", len(t.Targets))
	}

	if err := e.trades.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update trade: %w", err)
	}
	return t.Clone(), nil
}

// DayPnL sums a user's realized pnl for trades closed today (IST) plus the
// unrealized pnl of their open positions.
func (e *Engine) DayPnL(ctx context.Context, userID string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := decimal.Zero
	today := e.now().In(istZone).Format("2006-01-02")

	hist, err := e.trades.History(ctx, userID, 0)
	if err != nil {
		return decimal.Zero, err
	}
	for _, t := range hist {
		if t.ExitTime != nil && t.ExitTime.In(istZone).Format("2006-01-02") == today {
			total = total.Add(t.PnL)
		}
	}

	active, err := e.trades.ListActiveByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, t := range active {
		if t.IsOpen() {
			total = total.Add(t.PnL).Add(t.UnrealizedPnL())
		}
	}
	return total, nil
}
