package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade mode constants
const (
	ModeLive      = "LIVE"
	ModePaper     = "PAPER"
	ModeSimulator = "SIMULATOR"
)

// Order type constants
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Trade status constants. The first three are active; the rest are terminal
// and only ever appear on history records.
const (
	StatusPending      = "PENDING"
	StatusOpen         = "OPEN"
	StatusPromotedLive = "PROMOTED_LIVE"
	StatusSLHit        = "SL_HIT"
	StatusTargetHit    = "TARGET_HIT"
	StatusManualExit   = "MANUAL_EXIT"
)

// Trigger direction for PENDING limit entries
const (
	TriggerAbove = "ABOVE"
	TriggerBelow = "BELOW"
)

// SLToEntry policy values: how tight the trailing stop may become.
const (
	TrailCapNone        = 0
	TrailCapEntry       = 1
	TrailCapFirstTarget = 2
)

// TargetControl configures one target of a trade: whether crossing it
// executes an exit and how many lots to exit.
type TargetControl struct {
	Enabled bool `json:"enabled"`
	Lots    int  `json:"lots"`
}

// Trade is the engine's primary entity. It is mutated only by the engine
// goroutine (or by user operations holding the same lock).
type Trade struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Symbol         string            `json:"symbol"`
	Exchange       string            `json:"exchange"`
	Mode           string            `json:"mode"`
	OrderType      string            `json:"order_type"`
	Status         string            `json:"status"`
	TriggerDir     string            `json:"trigger_dir"`
	EntryPrice     decimal.Decimal   `json:"entry_price"`
	Quantity       int               `json:"quantity"`
	LotSize        int               `json:"lot_size"`
	CurrentLTP     decimal.Decimal   `json:"current_ltp"`
	HighestLTP     decimal.Decimal   `json:"highest_ltp"`
	SL             decimal.Decimal   `json:"sl"`
	TrailingSL     decimal.Decimal   `json:"trailing_sl"`
	SLToEntry      int               `json:"sl_to_entry"`
	Targets        []decimal.Decimal `json:"targets"`
	TargetControls []TargetControl   `json:"target_controls"`
	TargetsHit     []int             `json:"targets_hit_indices"`
	EntryTime      time.Time         `json:"entry_time"`
	ExitTime       *time.Time        `json:"exit_time,omitempty"`
	ExitPrice      decimal.Decimal   `json:"exit_price,omitempty"`
	PnL            decimal.Decimal   `json:"pnl,omitempty"`
	Logs           []string          `json:"logs"`
	TelegramMsgIDs map[int64]int64   `json:"telegram_msg_ids"`
}

// InstrumentKey returns the broker-addressable EXCHANGE:SYMBOL string.
func (t *Trade) InstrumentKey() string {
	return t.Exchange + ":" + t.Symbol
}

// IsTerminal reports whether the trade has reached a terminal status.
func (t *Trade) IsTerminal() bool {
	switch t.Status {
	case StatusSLHit, StatusTargetHit, StatusManualExit:
		return true
	}
	return false
}

// IsOpen reports whether the trade holds a position (OPEN or PROMOTED_LIVE).
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen || t.Status == StatusPromotedLive
}

// TargetHit reports whether target index i has already been processed.
func (t *Trade) TargetHit(i int) bool {
	for _, h := range t.TargetsHit {
		if h == i {
			return true
		}
	}
	return false
}

// MarkTargetHit records target index i as processed. The set only grows.
func (t *Trade) MarkTargetHit(i int) {
	if !t.TargetHit(i) {
		t.TargetsHit = append(t.TargetsHit, i)
	}
}

// AppendLog adds a timestamped line to the trade's audit log.
func (t *Trade) AppendLog(now time.Time, format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", now.Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
	t.Logs = append(t.Logs, line)
}

// UnrealizedPnL returns (ltp - entry) * quantity.
func (t *Trade) UnrealizedPnL() decimal.Decimal {
	return t.CurrentLTP.Sub(t.EntryPrice).Mul(decimal.NewFromInt(int64(t.Quantity)))
}

// Clone returns a deep copy so callers can hand trades across goroutines
// without sharing the slices and the msg-id map.
func (t *Trade) Clone() *Trade {
	c := *t
	c.Targets = append([]decimal.Decimal(nil), t.Targets...)
	c.TargetControls = append([]TargetControl(nil), t.TargetControls...)
	c.TargetsHit = append([]int(nil), t.TargetsHit...)
	c.Logs = append([]string(nil), t.Logs...)
	c.TelegramMsgIDs = make(map[int64]int64, len(t.TelegramMsgIDs))
	for k, v := range t.TelegramMsgIDs {
		c.TelegramMsgIDs[k] = v
	}
	if t.ExitTime != nil {
		et := *t.ExitTime
		c.ExitTime = &et
	}
	return &c
}
