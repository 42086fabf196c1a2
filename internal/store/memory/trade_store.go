package memory

import (
	"context"
	"sync"

	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store"
)

// TradeStore is an in-memory implementation of store.TradeStore. It backs
// SIMULATOR mode and the engine tests.
type TradeStore struct {
	mu      sync.RWMutex
	active  []*models.Trade // insertion order
	history []*models.Trade // append order; read newest-first
}

// NewTradeStore creates an empty in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{}
}

func (s *TradeStore) Insert(_ context.Context, t *models.Trade) error {
	if t == nil || t.ID == "" || t.UserID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.active {
		if existing.ID == t.ID {
			return store.ErrDuplicateKey
		}
	}
	s.active = append(s.active, t.Clone())
	return nil
}

func (s *TradeStore) Update(_ context.Context, t *models.Trade) error {
	if t == nil || t.ID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.active {
		if existing.ID == t.ID {
			s.active[i] = t.Clone()
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *TradeStore) Get(_ context.Context, userID, tradeID string) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.active {
		if t.UserID == userID && t.ID == tradeID {
			return t.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *TradeStore) ListActive(_ context.Context) ([]*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Trade, 0, len(s.active))
	for _, t := range s.active {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *TradeStore) ListActiveByUser(_ context.Context, userID string) ([]*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Trade
	for _, t := range s.active {
		if t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *TradeStore) MoveToHistory(_ context.Context, t *models.Trade) error {
	if t == nil || !t.IsTerminal() {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(t)
}

func (s *TradeStore) moveLocked(t *models.Trade) error {
	for i, existing := range s.active {
		if existing.ID == t.ID {
			s.active = append(s.active[:i], s.active[i+1:]...)
			s.history = append(s.history, t.Clone())
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *TradeStore) Commit(_ context.Context, updated, closed []*models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range updated {
		found := false
		for i, existing := range s.active {
			if existing.ID == t.ID {
				s.active[i] = t.Clone()
				found = true
				break
			}
		}
		if !found {
			return store.ErrNotFound
		}
	}
	for _, t := range closed {
		if !t.IsTerminal() {
			return store.ErrInvalidInput
		}
		if err := s.moveLocked(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *TradeStore) History(_ context.Context, userID string, limit int) ([]*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Trade
	for i := len(s.history) - 1; i >= 0; i-- {
		t := s.history[i]
		if userID != "" && t.UserID != userID {
			continue
		}
		out = append(out, t.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *TradeStore) UpdateMsgIDs(_ context.Context, userID, tradeID string, msgIDs map[int64]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merge := func(t *models.Trade) {
		if t.TelegramMsgIDs == nil {
			t.TelegramMsgIDs = make(map[int64]int64, len(msgIDs))
		}
		for chat, msg := range msgIDs {
			t.TelegramMsgIDs[chat] = msg
		}
	}

	for _, t := range s.active {
		if t.UserID == userID && t.ID == tradeID {
			merge(t)
			return nil
		}
	}
	for _, t := range s.history {
		if t.UserID == userID && t.ID == tradeID {
			merge(t)
			return nil
		}
	}
	return store.ErrNotFound
}

// Verify interface compliance at compile time.
var _ store.TradeStore = (*TradeStore)(nil)
