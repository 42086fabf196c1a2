package models

import "time"

// Notifier event kinds
const (
	EventTradeAdded     = "TRADE_ADDED"
	EventTradeTriggered = "TRADE_TRIGGERED"
	EventTargetHit      = "TARGET_HIT"
	EventSLHit          = "SL_HIT"
	EventSLTrail        = "SL_TRAIL"
	EventManualExit     = "MANUAL_EXIT"
)

// TriggerValueAny matches every TARGET_HIT index.
const TriggerValueAny = "ANY"

// ForwardingRule copies a trade's events from a source chat into a
// destination chat. The rule fires when the source already carries the
// trade's root message, the destination does not yet, and the event kind
// matches. For TARGET_HIT rules, TriggerValue selects a specific target
// index ("0", "1", ...) or "ANY".
type ForwardingRule struct {
	ID           int           `json:"id"`
	SourceChatID int64         `json:"source_id"`
	DestChatID   int64         `json:"dest_id"`
	TriggerEvent string        `json:"trigger_event"`
	TriggerValue string        `json:"trigger_value"`
	Delay        time.Duration `json:"delay"`
	Template     string        `json:"template"`
	Enabled      bool          `json:"enabled"`
	CreatedAt    time.Time     `json:"created_at"`
}

// TradeEvent mirrors one engine transition onto the event bus.
type TradeEvent struct {
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id"`
	TradeID   string            `json:"trade_id"`
	Symbol    string            `json:"symbol"`
	Mode      string            `json:"mode"`
	Extra     map[string]string `json:"extra,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
