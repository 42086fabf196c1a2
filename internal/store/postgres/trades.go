package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store"
)

const tradeColumns = `
	id, user_id, symbol, exchange, mode, order_type, status, trigger_dir,
	entry_price, quantity, lot_size, current_ltp, highest_ltp,
	sl, trailing_sl, sl_to_entry, targets, target_controls, targets_hit,
	entry_time, exit_time, exit_price, pnl, logs, telegram_msg_ids`

// Insert adds a new active trade.
func (db *DB) Insert(ctx context.Context, t *models.Trade) error {
	return db.insertTrade(ctx, db.conn, "active_trades", t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (db *DB) insertTrade(ctx context.Context, ex execer, table string, t *models.Trade) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)`, table, tradeColumns)

	targets, controls, hit, logs, msgIDs, err := marshalTradeBlobs(t)
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx, query,
		t.ID, t.UserID, t.Symbol, t.Exchange, t.Mode, t.OrderType, t.Status, t.TriggerDir,
		t.EntryPrice, t.Quantity, t.LotSize, t.CurrentLTP, t.HighestLTP,
		t.SL, t.TrailingSL, t.SLToEntry, targets, controls, hit,
		t.EntryTime, t.ExitTime, t.ExitPrice, t.PnL, logs, msgIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// Update replaces an active trade in place.
func (db *DB) Update(ctx context.Context, t *models.Trade) error {
	return db.updateTrade(ctx, db.conn, t)
}

func (db *DB) updateTrade(ctx context.Context, ex execer, t *models.Trade) error {
	query := `
		UPDATE active_trades SET
			status = $3, trigger_dir = $4, entry_price = $5, quantity = $6,
			current_ltp = $7, highest_ltp = $8, sl = $9, trailing_sl = $10,
			sl_to_entry = $11, targets = $12, target_controls = $13, targets_hit = $14,
			exit_time = $15, exit_price = $16, pnl = $17, logs = $18, telegram_msg_ids = $19
		WHERE user_id = $1 AND id = $2
	`
	targets, controls, hit, logs, msgIDs, err := marshalTradeBlobs(t)
	if err != nil {
		return err
	}

	result, err := ex.ExecContext(ctx, query,
		t.UserID, t.ID,
		t.Status, t.TriggerDir, t.EntryPrice, t.Quantity,
		t.CurrentLTP, t.HighestLTP, t.SL, t.TrailingSL,
		t.SLToEntry, targets, controls, hit,
		t.ExitTime, t.ExitPrice, t.PnL, logs, msgIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("trade %s: %w", t.ID, store.ErrNotFound)
	}
	return nil
}

// Get returns one active trade of a user.
func (db *DB) Get(ctx context.Context, userID, tradeID string) (*models.Trade, error) {
	query := fmt.Sprintf(`SELECT %s FROM active_trades WHERE user_id = $1 AND id = $2`, tradeColumns)
	t, err := scanTrade(db.conn.QueryRowContext(ctx, query, userID, tradeID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trade %s: %w", tradeID, store.ErrNotFound)
	}
	return t, err
}

// ListActive returns every active trade in insertion order.
func (db *DB) ListActive(ctx context.Context) ([]*models.Trade, error) {
	query := fmt.Sprintf(`SELECT %s FROM active_trades ORDER BY seq`, tradeColumns)
	return db.queryTrades(ctx, query)
}

// ListActiveByUser returns a user's active trades in insertion order.
func (db *DB) ListActiveByUser(ctx context.Context, userID string) ([]*models.Trade, error) {
	query := fmt.Sprintf(`SELECT %s FROM active_trades WHERE user_id = $1 ORDER BY seq`, tradeColumns)
	return db.queryTrades(ctx, query, userID)
}

// MoveToHistory removes the trade from the active set and appends it to
// history in one transaction.
func (db *DB) MoveToHistory(ctx context.Context, t *models.Trade) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.moveToHistoryTx(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) moveToHistoryTx(ctx context.Context, tx *sql.Tx, t *models.Trade) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM active_trades WHERE user_id = $1 AND id = $2`, t.UserID, t.ID)
	if err != nil {
		return fmt.Errorf("failed to remove active trade: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("trade %s: %w", t.ID, store.ErrNotFound)
	}
	return db.insertTrade(ctx, tx, "trade_history", t)
}

// Commit applies one engine tick atomically: updates for still-active
// trades and history moves for closed ones.
func (db *DB) Commit(ctx context.Context, updated, closed []*models.Trade) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range updated {
		if err := db.updateTrade(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, t := range closed {
		if err := db.moveToHistoryTx(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tick: %w", err)
	}
	return nil
}

// History returns a user's closed trades, newest first.
func (db *DB) History(ctx context.Context, userID string, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		query := fmt.Sprintf(`SELECT %s FROM trade_history WHERE user_id = $1 ORDER BY exit_time DESC`, tradeColumns)
		return db.queryTrades(ctx, query, userID)
	}
	query := fmt.Sprintf(`SELECT %s FROM trade_history WHERE user_id = $1 ORDER BY exit_time DESC LIMIT $2`, tradeColumns)
	return db.queryTrades(ctx, query, userID, limit)
}

// UpdateMsgIDs merges chat root-message ids into a trade, looking in the
// active set first and falling back to history.
func (db *DB) UpdateMsgIDs(ctx context.Context, userID, tradeID string, msgIDs map[int64]int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"active_trades", "trade_history"} {
		var raw []byte
		query := fmt.Sprintf(`SELECT telegram_msg_ids FROM %s WHERE user_id = $1 AND id = $2 FOR UPDATE`, table)
		err := tx.QueryRowContext(ctx, query, userID, tradeID).Scan(&raw)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read message ids: %w", err)
		}

		existing := make(map[int64]int64)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("failed to decode message ids: %w", err)
			}
		}
		for chat, id := range msgIDs {
			existing[chat] = id
		}
		merged, err := json.Marshal(existing)
		if err != nil {
			return fmt.Errorf("failed to encode message ids: %w", err)
		}

		update := fmt.Sprintf(`UPDATE %s SET telegram_msg_ids = $3 WHERE user_id = $1 AND id = $2`, table)
		if _, err := tx.ExecContext(ctx, update, userID, tradeID, merged); err != nil {
			return fmt.Errorf("failed to update message ids: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}
	return fmt.Errorf("trade %s: %w", tradeID, store.ErrNotFound)
}

func marshalTradeBlobs(t *models.Trade) (targets, controls, hit, logs, msgIDs []byte, err error) {
	if targets, err = json.Marshal(t.Targets); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode targets: %w", err)
	}
	if controls, err = json.Marshal(t.TargetControls); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode target controls: %w", err)
	}
	if hit, err = json.Marshal(t.TargetsHit); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode hit indices: %w", err)
	}
	if logs, err = json.Marshal(t.Logs); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode logs: %w", err)
	}
	if msgIDs, err = json.Marshal(t.TelegramMsgIDs); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode message ids: %w", err)
	}
	return targets, controls, hit, logs, msgIDs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var t models.Trade
	var triggerDir sql.NullString
	var exitTime sql.NullTime
	var exitPrice, pnl sql.NullString
	var targets, controls, hit, logs, msgIDs []byte

	err := row.Scan(
		&t.ID, &t.UserID, &t.Symbol, &t.Exchange, &t.Mode, &t.OrderType, &t.Status, &triggerDir,
		&t.EntryPrice, &t.Quantity, &t.LotSize, &t.CurrentLTP, &t.HighestLTP,
		&t.SL, &t.TrailingSL, &t.SLToEntry, &targets, &controls, &hit,
		&t.EntryTime, &exitTime, &exitPrice, &pnl, &logs, &msgIDs,
	)
	if err != nil {
		return nil, err
	}

	if triggerDir.Valid {
		t.TriggerDir = triggerDir.String
	}
	if exitTime.Valid {
		et := exitTime.Time
		t.ExitTime = &et
	}
	if exitPrice.Valid {
		t.ExitPrice, _ = decimal.NewFromString(exitPrice.String)
	}
	if pnl.Valid {
		t.PnL, _ = decimal.NewFromString(pnl.String)
	}
	if err := json.Unmarshal(targets, &t.Targets); err != nil {
		return nil, fmt.Errorf("failed to decode targets: %w", err)
	}
	if err := json.Unmarshal(controls, &t.TargetControls); err != nil {
		return nil, fmt.Errorf("failed to decode target controls: %w", err)
	}
	if err := json.Unmarshal(hit, &t.TargetsHit); err != nil {
		return nil, fmt.Errorf("failed to decode hit indices: %w", err)
	}
	if err := json.Unmarshal(logs, &t.Logs); err != nil {
		return nil, fmt.Errorf("failed to decode logs: %w", err)
	}
	t.TelegramMsgIDs = make(map[int64]int64)
	if len(msgIDs) > 0 {
		if err := json.Unmarshal(msgIDs, &t.TelegramMsgIDs); err != nil {
			return nil, fmt.Errorf("failed to decode message ids: %w", err)
		}
	}
	return &t, nil
}

func (db *DB) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*models.Trade, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

var _ store.TradeStore = (*DB)(nil)
