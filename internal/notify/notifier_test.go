package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeassist/options-engine/internal/models"
	"github.com/tradeassist/options-engine/internal/store/memory"
)

type sentMessage struct {
	chatID  int64
	text    string
	replyTo int64
}

// fakeSender records sends and hands out sequential message ids.
type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	nextID int64
	fail   map[int64]bool
}

func (s *fakeSender) SendMessage(_ context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[chatID] {
		return 0, fmt.Errorf("chat %d unavailable", chatID)
	}
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, replyTo: replyTo})
	s.nextID++
	return s.nextID, nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type staticRules struct {
	rules []*models.ForwardingRule
}

func (r *staticRules) ListEnabledRules(context.Context) ([]*models.ForwardingRule, error) {
	return r.rules, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testTrade(msgIDs map[int64]int64) *models.Trade {
	return &models.Trade{
		ID:             "t1",
		UserID:         "u1",
		Symbol:         "NIFTY20260226CE22000",
		Exchange:       "NFO",
		Mode:           models.ModePaper,
		Status:         models.StatusOpen,
		EntryPrice:     decimal.NewFromInt(100),
		CurrentLTP:     decimal.NewFromInt(110),
		SL:             decimal.NewFromInt(90),
		Quantity:       50,
		TelegramMsgIDs: msgIDs,
	}
}

func TestForwardingWithTriggerValue(t *testing.T) {
	sender := &fakeSender{}
	rules := &staticRules{rules: []*models.ForwardingRule{{
		ID:           1,
		SourceChatID: 100,
		DestChatID:   200,
		TriggerEvent: models.EventTargetHit,
		TriggerValue: "1",
		Enabled:      true,
	}}}
	trades := memory.NewTradeStore()
	ctx := context.Background()

	trade := testTrade(map[int64]int64{100: 42})
	require.NoError(t, trades.Insert(ctx, trade))

	n := New(sender, rules, trades, 0, quietLogger())

	// Index 0 does not match the rule: only the reply into chat 100.
	n.Process(ctx, Event{Kind: models.EventTargetHit, Trade: trade.Clone(), Extra: map[string]string{"index": "0"}})
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(100), msgs[0].chatID)
	assert.Equal(t, int64(42), msgs[0].replyTo)

	// Index 1 matches: new root in 200 plus the reply in 100.
	n.Process(ctx, Event{Kind: models.EventTargetHit, Trade: trade.Clone(), Extra: map[string]string{"index": "1"}})
	msgs = sender.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(200), msgs[1].chatID)
	assert.Zero(t, msgs[1].replyTo, "forwarded message is a new root")
	assert.Equal(t, int64(100), msgs[2].chatID)

	// The destination became a permanent recipient.
	stored, err := trades.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	rootID, ok := stored.TelegramMsgIDs[200]
	require.True(t, ok, "dest chat persisted after forward")

	// Subsequent events reply in both chats, threading onto the new root.
	next := stored.Clone()
	n.Process(ctx, Event{Kind: models.EventTargetHit, Trade: next, Extra: map[string]string{"index": "0"}})
	msgs = sender.messages()
	require.Len(t, msgs, 5)
	byChat := map[int64]int64{}
	for _, m := range msgs[3:] {
		byChat[m.chatID] = m.replyTo
	}
	assert.Equal(t, int64(42), byChat[100])
	assert.Equal(t, rootID, byChat[200])
}

func TestForwardingUsesCustomTemplate(t *testing.T) {
	sender := &fakeSender{}
	rules := &staticRules{rules: []*models.ForwardingRule{{
		SourceChatID: 100,
		DestChatID:   200,
		TriggerEvent: models.EventSLHit,
		TriggerValue: models.TriggerValueAny,
		Template:     "ALERT {symbol} stopped out",
		Enabled:      true,
	}}}
	trades := memory.NewTradeStore()
	ctx := context.Background()

	trade := testTrade(map[int64]int64{100: 42})
	require.NoError(t, trades.Insert(ctx, trade))

	n := New(sender, rules, trades, 0, quietLogger())
	n.Process(ctx, Event{Kind: models.EventSLHit, Trade: trade.Clone()})

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ALERT NIFTY20260226CE22000 stopped out", msgs[0].text)
	assert.NotEqual(t, msgs[0].text, msgs[1].text, "reply uses the standard template")
}

func TestForwardingSkipsWhenSourceAbsent(t *testing.T) {
	sender := &fakeSender{}
	rules := &staticRules{rules: []*models.ForwardingRule{{
		SourceChatID: 999,
		DestChatID:   200,
		TriggerEvent: models.EventSLHit,
		TriggerValue: models.TriggerValueAny,
		Enabled:      true,
	}}}
	trades := memory.NewTradeStore()
	trade := testTrade(map[int64]int64{100: 42})
	require.NoError(t, trades.Insert(context.Background(), trade))

	n := New(sender, rules, trades, 0, quietLogger())
	n.Process(context.Background(), Event{Kind: models.EventSLHit, Trade: trade.Clone()})

	msgs := sender.messages()
	require.Len(t, msgs, 1, "no forward, only the reply to the existing chat")
	assert.Equal(t, int64(100), msgs[0].chatID)
}

func TestBootstrapDefaultChat(t *testing.T) {
	sender := &fakeSender{}
	trades := memory.NewTradeStore()
	ctx := context.Background()

	trade := testTrade(map[int64]int64{})
	require.NoError(t, trades.Insert(ctx, trade))

	n := New(sender, &staticRules{}, trades, 777, quietLogger())
	n.Process(ctx, Event{Kind: models.EventTradeAdded, Trade: trade.Clone()})

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(777), msgs[0].chatID)
	assert.Zero(t, msgs[0].replyTo)

	stored, err := trades.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.NotZero(t, stored.TelegramMsgIDs[777], "root id persisted")
}

func TestFailedSendDoesNotPersist(t *testing.T) {
	sender := &fakeSender{fail: map[int64]bool{200: true}}
	rules := &staticRules{rules: []*models.ForwardingRule{{
		SourceChatID: 100,
		DestChatID:   200,
		TriggerEvent: models.EventSLHit,
		TriggerValue: models.TriggerValueAny,
		Enabled:      true,
	}}}
	trades := memory.NewTradeStore()
	ctx := context.Background()

	trade := testTrade(map[int64]int64{100: 42})
	require.NoError(t, trades.Insert(ctx, trade))

	n := New(sender, rules, trades, 0, quietLogger())
	n.Process(ctx, Event{Kind: models.EventSLHit, Trade: trade.Clone()})

	stored, err := trades.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	_, ok := stored.TelegramMsgIDs[200]
	assert.False(t, ok, "failed channel must not be recorded")
}

func TestQueueDropsWhenFull(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, &staticRules{}, memory.NewTradeStore(), 0, quietLogger())

	trade := testTrade(map[int64]int64{})
	for i := 0; i < queueSize+10; i++ {
		n.Notify(models.EventSLTrail, trade, nil)
	}
	assert.Len(t, n.queue, queueSize, "excess events dropped without blocking")
}

func TestWorkersDrainQueue(t *testing.T) {
	sender := &fakeSender{}
	trades := memory.NewTradeStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trade := testTrade(map[int64]int64{100: 42})
	require.NoError(t, trades.Insert(ctx, trade))

	n := New(sender, &staticRules{}, trades, 0, quietLogger())
	n.Start(ctx)

	for i := 0; i < 10; i++ {
		n.Notify(models.EventSLTrail, trade, nil)
	}

	require.Eventually(t, func() bool {
		return len(sender.messages()) == 10
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	n.Wait()
}
