package store

import (
	"context"

	"github.com/tradeassist/options-engine/internal/models"
)

// TradeStore holds the ordered set of active trades and the append-only
// history, keyed by user. Implementations must make MoveToHistory and Commit
// atomic: a terminal trade is never visible in both sets.
type TradeStore interface {
	// Insert adds a new active trade. The ID must be unique per store.
	Insert(ctx context.Context, t *models.Trade) error

	// Update replaces an active trade in place.
	Update(ctx context.Context, t *models.Trade) error

	// Get returns one active trade of a user.
	Get(ctx context.Context, userID, tradeID string) (*models.Trade, error)

	// ListActive returns every non-terminal trade across all users, in
	// insertion order.
	ListActive(ctx context.Context) ([]*models.Trade, error)

	// ListActiveByUser returns a user's non-terminal trades in insertion order.
	ListActiveByUser(ctx context.Context, userID string) ([]*models.Trade, error)

	// MoveToHistory atomically removes the trade from the active set and
	// appends it to history. The trade must carry a terminal status.
	MoveToHistory(ctx context.Context, t *models.Trade) error

	// Commit applies one engine tick in a single atomic step: in-place
	// updates for still-active trades and history moves for closed ones.
	Commit(ctx context.Context, updated, closed []*models.Trade) error

	// History returns a user's closed trades, newest first.
	History(ctx context.Context, userID string, limit int) ([]*models.Trade, error)

	// UpdateMsgIDs merges chat root-message ids into a trade, looking in the
	// active set first and falling back to history. Called from notifier
	// workers, so it must be safe against a concurrent engine tick.
	UpdateMsgIDs(ctx context.Context, userID, tradeID string, msgIDs map[int64]int64) error
}

// RuleStore supplies the chat-forwarding ruleset. The engine treats rules as
// opaque configuration; only the notifier evaluates them.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]*models.ForwardingRule, error)
}

// OrderIntentStore is the audit trail of orders the engine asked for.
type OrderIntentStore interface {
	RecordOrderIntent(ctx context.Context, oi *models.OrderIntent) error
}
