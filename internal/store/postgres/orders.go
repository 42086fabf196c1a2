package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store"
)

// RecordOrderIntent appends one order-intent row to the audit trail.
func (db *DB) RecordOrderIntent(ctx context.Context, oi *models.OrderIntent) error {
	query := `
		INSERT INTO order_intents (
			trade_id, user_id, symbol, exchange, transaction_type,
			quantity, order_type, broker_order_id, error, placed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := db.conn.QueryRowContext(ctx, query,
		oi.TradeID, oi.UserID, oi.Symbol, oi.Exchange, oi.TransactionType,
		oi.Quantity, oi.OrderType, oi.BrokerOrderID, oi.Error, oi.PlacedAt,
	).Scan(&oi.ID)
	if err != nil {
		return fmt.Errorf("failed to record order intent: %w", err)
	}
	return nil
}

// OrderIntentsByTrade returns the intents recorded for one trade, oldest
// first.
func (db *DB) OrderIntentsByTrade(ctx context.Context, tradeID string) ([]*models.OrderIntent, error) {
	query := `
		SELECT id, trade_id, user_id, symbol, exchange, transaction_type,
		       quantity, order_type, broker_order_id, error, placed_at
		FROM order_intents
		WHERE trade_id = $1
		ORDER BY placed_at
	`
	rows, err := db.conn.QueryContext(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order intents: %w", err)
	}
	defer rows.Close()

	var intents []*models.OrderIntent
	for rows.Next() {
		var oi models.OrderIntent
		var brokerOrderID, orderErr sql.NullString

		err := rows.Scan(
			&oi.ID, &oi.TradeID, &oi.UserID, &oi.Symbol, &oi.Exchange, &oi.TransactionType,
			&oi.Quantity, &oi.OrderType, &brokerOrderID, &orderErr, &oi.PlacedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order intent: %w", err)
		}

		if brokerOrderID.Valid {
			oi.BrokerOrderID = brokerOrderID.String
		}
		if orderErr.Valid {
			oi.Error = orderErr.String
		}
		intents = append(intents, &oi)
	}
	return intents, rows.Err()
}

var _ store.OrderIntentStore = (*DB)(nil)
