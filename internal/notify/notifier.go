// Package notify mirrors trade lifecycle events into chat channels. The
// engine hands events over a bounded queue and never waits for delivery;
// a small worker pool does the HTTP calls and persists root-message ids
// back into the trade.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store"
)

const (
	queueSize  = 256
	numWorkers = 4
)

// Event is one lifecycle notification.
type Event struct {
	Kind  string
	Trade *models.Trade
	Extra map[string]string
}

// Sender abstracts the chat provider so tests can fake it.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error)
}

// Notifier evaluates forwarding rules per event, opens threads in new
// destination channels and replies into channels that already carry the
// trade's root message.
type Notifier struct {
	sender Sender
	rules  store.RuleStore
	trades store.TradeStore
	logger *logrus.Logger

	// defaultChat receives the very first root message for a trade that is
	// not yet present in any channel; 0 disables the bootstrap.
	defaultChat int64

	queue chan Event
	wg    sync.WaitGroup
}

// New creates a notifier. Call Start before publishing events.
func New(sender Sender, rules store.RuleStore, trades store.TradeStore, defaultChat int64, logger *logrus.Logger) *Notifier {
	return &Notifier{
		sender:      sender,
		rules:       rules,
		trades:      trades,
		logger:      logger,
		defaultChat: defaultChat,
		queue:       make(chan Event, queueSize),
	}
}

// Start launches the worker pool. Workers drain the queue until the context
// is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	for i := 0; i < numWorkers; i++ {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-n.queue:
					n.Process(ctx, ev)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Notify enqueues an event. Never blocks: when the queue is full the event
// is dropped and logged, so a slow chat provider cannot stall the engine.
func (n *Notifier) Notify(kind string, t *models.Trade, extra map[string]string) {
	select {
	case n.queue <- Event{Kind: kind, Trade: t.Clone(), Extra: extra}:
	default:
		n.logger.WithFields(logrus.Fields{
			"kind":     kind,
			"trade_id": t.ID,
		}).Warn("notifier queue full, event dropped")
	}
}

// Process delivers one event synchronously. Exported so tests can drive the
// pipeline without the pool.
func (n *Notifier) Process(ctx context.Context, ev Event) {
	t := ev.Trade

	msgIDs := make(map[int64]int64, len(t.TelegramMsgIDs))
	for chat, id := range t.TelegramMsgIDs {
		msgIDs[chat] = id
	}
	newIDs := make(map[int64]int64)

	// Bootstrap: a trade seen in no channel yet gets its root in the
	// default chat.
	if len(msgIDs) == 0 && n.defaultChat != 0 {
		text := Render(StandardTemplate(ev.Kind), t, ev.Extra)
		id, err := n.sender.SendMessage(ctx, n.defaultChat, text, 0)
		if err != nil {
			n.logger.WithError(err).WithField("chat_id", n.defaultChat).Warn("failed to send root message")
		} else {
			msgIDs[n.defaultChat] = id
			newIDs[n.defaultChat] = id
		}
	}

	rules, err := n.listRules(ctx)
	if err != nil {
		n.logger.WithError(err).Warn("failed to load forwarding rules")
	}

	// Step 1: rules whose source already carries the trade open new roots
	// in destinations that do not.
	forwarded := make(map[int64]bool)
	for _, rule := range rules {
		if rule.TriggerEvent != ev.Kind {
			continue
		}
		if _, srcOK := msgIDs[rule.SourceChatID]; !srcOK {
			continue
		}
		if _, destHas := msgIDs[rule.DestChatID]; destHas {
			continue
		}
		if ev.Kind == models.EventTargetHit && rule.TriggerValue != models.TriggerValueAny {
			if ev.Extra == nil || ev.Extra["index"] != rule.TriggerValue {
				continue
			}
		}
		if rule.Delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(rule.Delay):
			}
		}

		tmpl := rule.Template
		if tmpl == "" {
			tmpl = StandardTemplate(ev.Kind)
		}
		id, err := n.sender.SendMessage(ctx, rule.DestChatID, Render(tmpl, t, ev.Extra), 0)
		if err != nil {
			n.logger.WithError(err).WithField("chat_id", rule.DestChatID).Warn("failed to forward root message")
			continue
		}
		msgIDs[rule.DestChatID] = id
		newIDs[rule.DestChatID] = id
		forwarded[rule.DestChatID] = true
	}

	// Step 2: reply in every channel that already carried the trade, except
	// the ones whose first message just went out above.
	text := Render(StandardTemplate(ev.Kind), t, ev.Extra)
	for chat, root := range t.TelegramMsgIDs {
		if forwarded[chat] {
			continue
		}
		if _, err := n.sender.SendMessage(ctx, chat, text, root); err != nil {
			n.logger.WithError(err).WithField("chat_id", chat).Warn("failed to send reply")
		}
	}

	// Step 3: persist newly opened roots so later events thread onto them.
	if len(newIDs) > 0 {
		if err := n.trades.UpdateMsgIDs(ctx, t.UserID, t.ID, newIDs); err != nil {
			n.logger.WithError(err).WithField("trade_id", t.ID).Warn("failed to persist message ids")
		}
	}
}

func (n *Notifier) listRules(ctx context.Context) ([]*models.ForwardingRule, error) {
	if n.rules == nil {
		return nil, nil
	}
	return n.rules.ListEnabledRules(ctx)
}
