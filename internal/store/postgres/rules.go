package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store"
)

// CreateRule inserts a new forwarding rule.
func (db *DB) CreateRule(ctx context.Context, r *models.ForwardingRule) error {
	query := `
		INSERT INTO forwarding_rules (
			source_chat_id, dest_chat_id, trigger_event, trigger_value,
			delay_seconds, template, enabled, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		r.SourceChatID, r.DestChatID, r.TriggerEvent, r.TriggerValue,
		int(r.Delay.Seconds()), r.Template, r.Enabled, now,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to create forwarding rule: %w", err)
	}
	r.CreatedAt = now
	return nil
}

// ListEnabledRules returns every enabled forwarding rule.
func (db *DB) ListEnabledRules(ctx context.Context) ([]*models.ForwardingRule, error) {
	query := `
		SELECT id, source_chat_id, dest_chat_id, trigger_event, trigger_value,
		       delay_seconds, template, enabled, created_at
		FROM forwarding_rules
		WHERE enabled = true
		ORDER BY id
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query forwarding rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.ForwardingRule
	for rows.Next() {
		var r models.ForwardingRule
		var delaySeconds int
		var template sql.NullString

		err := rows.Scan(
			&r.ID, &r.SourceChatID, &r.DestChatID, &r.TriggerEvent, &r.TriggerValue,
			&delaySeconds, &template, &r.Enabled, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan forwarding rule: %w", err)
		}

		r.Delay = time.Duration(delaySeconds) * time.Second
		if template.Valid {
			r.Template = template.String
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// SetRuleEnabled toggles a rule.
func (db *DB) SetRuleEnabled(ctx context.Context, id int, enabled bool) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE forwarding_rules SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update forwarding rule: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("forwarding rule %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// DeleteRule removes a forwarding rule by id.
func (db *DB) DeleteRule(ctx context.Context, id int) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM forwarding_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete forwarding rule: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("forwarding rule %d: %w", id, store.ErrNotFound)
	}
	return nil
}

var _ store.RuleStore = (*DB)(nil)
