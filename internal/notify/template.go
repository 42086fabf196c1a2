package notify

import (
	"strconv"
	"strings"

	"github.com/tradeassist/options-engine/internal/models"
)

// Default templates per event kind. Plain strings with brace-delimited
// placeholders; callers may override any of them via rule templates.
var defaultTemplates = map[string]string{
	models.EventTradeAdded:     "📥 <b>{symbol}</b> [{mode}]\nEntry: {entry} | SL: {sl} | Qty: {qty}\nTargets: {targets}",
	models.EventTradeTriggered: "🚀 <b>{symbol}</b> ACTIVATED @ {ltp}\nSL: {sl} | Qty: {qty}",
	models.EventTargetHit:      "🎯 <b>{symbol}</b> Target {index} hit @ {ltp}\nP/L: {pnl}",
	models.EventSLHit:          "🛑 <b>{symbol}</b> Stop-loss hit @ {ltp}\nP/L: {pnl}",
	models.EventSLTrail:        "📈 <b>{symbol}</b> SL trailed to {sl} (LTP {ltp})",
	models.EventManualExit:     "✋ <b>{symbol}</b> closed manually @ {ltp}\nP/L: {pnl}",
}

// StandardTemplate returns the built-in template for an event kind.
func StandardTemplate(kind string) string {
	return defaultTemplates[kind]
}

// Render fills a template's {placeholder} tokens from the trade snapshot and
// the event's extra data. Unknown placeholders are left as-is.
func Render(tmpl string, t *models.Trade, extra map[string]string) string {
	if tmpl == "" {
		return ""
	}

	targets := make([]string, len(t.Targets))
	for i, tgt := range t.Targets {
		targets[i] = tgt.StringFixed(2)
	}

	pairs := []string{
		"{symbol}", t.Symbol,
		"{mode}", t.Mode,
		"{entry}", t.EntryPrice.StringFixed(2),
		"{sl}", t.SL.StringFixed(2),
		"{qty}", strconv.Itoa(t.Quantity),
		"{ltp}", t.CurrentLTP.StringFixed(2),
		"{pnl}", t.UnrealizedPnL().StringFixed(2),
		"{high}", t.HighestLTP.StringFixed(2),
		"{targets}", strings.Join(targets, " | "),
	}
	for k, v := range extra {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
