package notify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/tradeassist/options-engine/internal/models"
)

func TestRenderFillsPlaceholders(t *testing.T) {
	trade := &models.Trade{
		Symbol:     "NIFTY20260226CE22000",
		Mode:       models.ModePaper,
		EntryPrice: decimal.NewFromInt(100),
		CurrentLTP: decimal.NewFromFloat(112.5),
		HighestLTP: decimal.NewFromInt(115),
		SL:         decimal.NewFromInt(95),
		Quantity:   50,
		Targets:    []decimal.Decimal{decimal.NewFromInt(110), decimal.NewFromInt(120)},
	}

	out := Render("{symbol} {mode} e={entry} sl={sl} q={qty} ltp={ltp} pnl={pnl} hi={high} t={targets} i={index}",
		trade, map[string]string{"index": "1"})

	assert.Equal(t,
		"NIFTY20260226CE22000 PAPER e=100.00 sl=95.00 q=50 ltp=112.50 pnl=625.00 hi=115.00 t=110.00 | 120.00 i=1",
		out)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	trade := &models.Trade{Symbol: "INFY"}
	out := Render("{symbol} {mystery}", trade, nil)
	assert.Equal(t, "INFY {mystery}", out)
}

func TestStandardTemplateCoversAllKinds(t *testing.T) {
	kinds := []string{
		models.EventTradeAdded,
		models.EventTradeTriggered,
		models.EventTargetHit,
		models.EventSLHit,
		models.EventSLTrail,
		models.EventManualExit,
	}
	for _, kind := range kinds {
		assert.NotEmpty(t, StandardTemplate(kind), "missing template for %s", kind)
	}
}
