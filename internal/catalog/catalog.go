// Package catalog resolves human symbol names against a periodically
// refreshed instrument reference dataset and answers option-chain lookups.
// The dataset is cached to disk with a 24 h TTL; reloads swap the whole
// table atomically so readers never see a half-built index.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tradeassist/options-engine/internal/broker"
	"github.com/tradeassist/options-engine/internal/models"
)

// DefaultTTL is how long the disk cache stays authoritative.
const DefaultTTL = 24 * time.Hour

// DefaultDerivativesExchange is where lot sizes are read from unless the
// caller prefers another one.
const DefaultDerivativesExchange = "NFO"

// Expiry days roll on the exchange's clock, not UTC.
var istZone = time.FixedZone("IST", 5*3600+30*60)

var synonyms = map[string]string{
	"NIFTY 50":          "NIFTY",
	"NIFTY BANK":        "BANKNIFTY",
	"BANK NIFTY":        "BANKNIFTY",
	"NIFTY FIN SERVICE": "FINNIFTY",
	"FIN NIFTY":         "FINNIFTY",
}

// spotKeys maps index names to their broker quote keys; anything else quotes
// as NSE:<name>.
var spotKeys = map[string]string{
	"NIFTY":     "NSE:NIFTY 50",
	"BANKNIFTY": "NSE:NIFTY BANK",
	"FINNIFTY":  "NSE:NIFTY FIN SERVICE",
	"SENSEX":    "BSE:SENSEX",
}

// currency-pair lot sizes reported as 1 by the upstream dump
var cdsLotOverrides = []struct {
	contains string
	lotSize  int
}{
	{"JPYINR", 100000},
	{"USDINR", 1000},
	{"EURINR", 1000},
	{"GBPINR", 1000},
	{"USDJPY", 1000},
	{"EURUSD", 1000},
	{"GBPUSD", 1000},
}

// table is one immutable snapshot of the instrument dump with the lookup
// indexes the catalog queries.
type table struct {
	rows     []models.InstrumentRow
	byName   map[string][]*models.InstrumentRow
	bySymbol map[string]*models.InstrumentRow // EXCHANGE:TRADINGSYMBOL
}

func buildTable(rows []models.InstrumentRow) *table {
	t := &table{
		rows:     rows,
		byName:   make(map[string][]*models.InstrumentRow),
		bySymbol: make(map[string]*models.InstrumentRow, len(rows)),
	}
	for i := range rows {
		r := &rows[i]
		t.byName[r.Name] = append(t.byName[r.Name], r)
		t.bySymbol[r.Exchange+":"+r.TradingSymbol] = r
	}
	return t
}

// Catalog answers symbol questions over the loaded table. Read-mostly; a
// refresh builds a fresh table and swaps the pointer.
type Catalog struct {
	broker    broker.Broker
	cachePath string
	ttl       time.Duration
	logger    *logrus.Logger
	now       func() time.Time

	mu    sync.RWMutex
	table *table
}

// New creates a catalog backed by the given adapter and disk cache path.
func New(b broker.Broker, cachePath string, logger *logrus.Logger) *Catalog {
	return &Catalog{
		broker:    b,
		cachePath: cachePath,
		ttl:       DefaultTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// SetTTL overrides how long the disk cache stays authoritative.
func (c *Catalog) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		c.ttl = ttl
	}
}

// Load populates the table, preferring a fresh disk cache over the adapter.
// A successful adapter fetch is written through to the cache file.
func (c *Catalog) Load(ctx context.Context) error {
	if cacheFresh(c.cachePath, c.ttl, c.now()) {
		rows, err := readCache(c.cachePath)
		if err == nil {
			c.swap(rows)
			c.logger.WithField("rows", len(rows)).Info("instrument table loaded from cache")
			return nil
		}
		c.logger.WithError(err).Warn("instrument cache unreadable, refetching")
	}
	return c.Refresh(ctx)
}

// Refresh fetches the dump from the adapter and writes through to the cache.
func (c *Catalog) Refresh(ctx context.Context) error {
	rows, err := c.broker.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh instruments: %w", err)
	}
	if err := writeCache(c.cachePath, rows); err != nil {
		// Stale cache on disk is tolerable; the in-memory table is current.
		c.logger.WithError(err).Warn("failed to write instrument cache")
	}
	c.swap(rows)
	c.logger.WithField("rows", len(rows)).Info("instrument table refreshed")
	return nil
}

func (c *Catalog) swap(rows []models.InstrumentRow) {
	t := buildTable(rows)
	c.mu.Lock()
	c.table = t
	c.mu.Unlock()
}

func (c *Catalog) snapshot() *table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table
}

// Resolve maps a common name to the canonical instrument name: uppercased,
// parenthetical exchange hints stripped, synonyms applied.
func Resolve(commonName string) string {
	name := strings.ToUpper(strings.TrimSpace(commonName))
	if i := strings.Index(name, "("); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if canonical, ok := synonyms[name]; ok {
		return canonical
	}
	return name
}

// SpotKey returns the quote key for a canonical name's spot price.
func SpotKey(name string) string {
	if key, ok := spotKeys[name]; ok {
		return key
	}
	return "NSE:" + name
}

// InferExchange guesses the trading exchange from a symbol's shape, matching
// how upstream names its contracts.
func InferExchange(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, commodity := range []string{"CRUDEOIL", "GOLD", "SILVER", "COPPER", "NATURALGAS"} {
		if strings.Contains(s, commodity) {
			return "MCX"
		}
	}
	for _, pair := range []string{"USDINR", "EURINR", "GBPINR", "JPYINR"} {
		if strings.Contains(s, pair) {
			return "CDS"
		}
	}
	if strings.Contains(s, "SENSEX") || strings.Contains(s, "BANKEX") {
		if strings.ContainsAny(s, "0123456789") {
			return "BFO"
		}
		return "BSE"
	}
	if strings.HasSuffix(s, models.InstrumentCall) || strings.HasSuffix(s, models.InstrumentPut) || strings.Contains(s, "FUT") {
		return "NFO"
	}
	return "NSE"
}

// applyLotOverride corrects currency-pair lot sizes the dump reports as 1.
func applyLotOverride(symbol string, lotSize int) int {
	if lotSize != 1 {
		return lotSize
	}
	s := strings.ToUpper(symbol)
	for _, o := range cdsLotOverrides {
		if strings.Contains(s, o.contains) {
			return o.lotSize
		}
	}
	return lotSize
}

// LotSizeForSymbol returns the lot size for an exact trading symbol, with
// the currency-pair override applied. Unknown symbols report lot size 1.
func (c *Catalog) LotSizeForSymbol(exchange, tradingSymbol string) int {
	t := c.snapshot()
	if t == nil {
		return 1
	}
	if row, ok := t.bySymbol[exchange+":"+tradingSymbol]; ok {
		return applyLotOverride(tradingSymbol, row.LotSize)
	}
	return applyLotOverride(tradingSymbol, 1)
}

// today returns the current IST calendar date as an ISO string; expiry
// columns are ISO dates so ordering is lexicographic.
func (c *Catalog) today() string {
	return c.now().In(istZone).Format("2006-01-02")
}

// futureRows returns a name's future contracts on the given exchange sorted
// by expiry, nearest first, skipping expired rows.
func (c *Catalog) futureRows(name, exchange, today string) []*models.InstrumentRow {
	t := c.snapshot()
	if t == nil {
		return nil
	}
	var futs []*models.InstrumentRow
	for _, r := range t.byName[name] {
		if r.InstrumentType != models.InstrumentFuture || r.Exchange != exchange {
			continue
		}
		if _, ok := r.ExpiryDate(); !ok || r.Expiry < today {
			continue
		}
		futs = append(futs, r)
	}
	sort.Slice(futs, func(i, j int) bool { return futs[i].Expiry < futs[j].Expiry })
	return futs
}

// Details resolves lot size, expiries and spot LTP for a canonical name.
// When the spot quote comes back zero (indices outside market hours, dumps
// without cash rows), the nearest future's LTP stands in.
func (c *Catalog) Details(ctx context.Context, name, preferredExchange string) (*models.SymbolDetails, error) {
	if preferredExchange == "" {
		preferredExchange = DefaultDerivativesExchange
	}
	t := c.snapshot()
	if t == nil {
		return nil, fmt.Errorf("instrument table not loaded")
	}

	today := c.today()
	futs := c.futureRows(name, preferredExchange, today)

	lotSize := 1
	if len(futs) > 0 {
		lotSize = applyLotOverride(futs[0].TradingSymbol, futs[0].LotSize)
	}

	var futExpiries []string
	for _, f := range futs {
		futExpiries = append(futExpiries, f.Expiry)
	}

	optSet := make(map[string]struct{})
	for _, r := range t.byName[name] {
		if r.InstrumentType != models.InstrumentCall {
			continue
		}
		if _, ok := r.ExpiryDate(); !ok || r.Expiry < today {
			continue
		}
		optSet[r.Expiry] = struct{}{}
	}
	optExpiries := make([]string, 0, len(optSet))
	for e := range optSet {
		optExpiries = append(optExpiries, e)
	}
	sort.Strings(optExpiries)

	ltp, err := c.spotLTP(ctx, name, futs)
	if err != nil {
		return nil, err
	}

	return &models.SymbolDetails{
		Name:        name,
		LTP:         ltp,
		LotSize:     lotSize,
		FutExpiries: futExpiries,
		OptExpiries: optExpiries,
	}, nil
}

func (c *Catalog) spotLTP(ctx context.Context, name string, futs []*models.InstrumentRow) (decimal.Decimal, error) {
	keys := []string{SpotKey(name)}
	if len(futs) > 0 {
		keys = append(keys, futs[0].Exchange+":"+futs[0].TradingSymbol)
	}
	quotes, err := c.broker.Quote(ctx, keys)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to quote %s: %w", name, err)
	}
	ltp := quotes[keys[0]].LastPrice
	if ltp.IsZero() && len(keys) > 1 {
		ltp = quotes[keys[1]].LastPrice
	}
	return ltp, nil
}

// Chain returns the strikes for (name, expiry, type) labeled with moneyness
// relative to ltp. ATM is the strike closest to ltp; for calls ITM means the
// spot is above the strike, for puts below.
func (c *Catalog) Chain(name, expiry, optionType string, ltp decimal.Decimal) []models.ChainStrike {
	t := c.snapshot()
	if t == nil {
		return nil
	}

	var strikes []decimal.Decimal
	for _, r := range t.byName[name] {
		if r.InstrumentType == optionType && r.Expiry == expiry {
			strikes = append(strikes, r.Strike)
		}
	}
	if len(strikes) == 0 {
		return nil
	}
	sort.Slice(strikes, func(i, j int) bool { return strikes[i].LessThan(strikes[j]) })

	atm := 0
	best := strikes[0].Sub(ltp).Abs()
	for i, s := range strikes[1:] {
		if d := s.Sub(ltp).Abs(); d.LessThan(best) {
			best = d
			atm = i + 1
		}
	}

	chain := make([]models.ChainStrike, len(strikes))
	for i, s := range strikes {
		label := models.MoneynessOTM
		switch {
		case i == atm:
			label = models.MoneynessATM
		case optionType == models.InstrumentCall && ltp.GreaterThan(s):
			label = models.MoneynessITM
		case optionType == models.InstrumentPut && ltp.LessThan(s):
			label = models.MoneynessITM
		}
		chain[i] = models.ChainStrike{Strike: s, Label: label}
	}
	return chain
}

// ExactSymbol returns the unique trading symbol for the tuple. EQ returns
// the name itself; FUT ignores the strike.
func (c *Catalog) ExactSymbol(name, expiry string, strike decimal.Decimal, instrumentType string) (string, bool) {
	if instrumentType == models.InstrumentEquity {
		return name, true
	}
	t := c.snapshot()
	if t == nil {
		return "", false
	}
	for _, r := range t.byName[name] {
		if r.InstrumentType != instrumentType || r.Expiry != expiry {
			continue
		}
		if instrumentType != models.InstrumentFuture && !r.Strike.Equal(strike) {
			continue
		}
		return r.TradingSymbol, true
	}
	return "", false
}

// NearExpiry returns the nearest non-past expiry for (name, type).
func (c *Catalog) NearExpiry(name, instrumentType string) (string, bool) {
	t := c.snapshot()
	if t == nil {
		return "", false
	}
	today := c.today()
	nearest := ""
	for _, r := range t.byName[name] {
		if r.InstrumentType != instrumentType {
			continue
		}
		if _, ok := r.ExpiryDate(); !ok || r.Expiry < today {
			continue
		}
		if nearest == "" || r.Expiry < nearest {
			nearest = r.Expiry
		}
	}
	return nearest, nearest != ""
}

// Search returns up to limit distinct names with the given prefix, taken
// from future contracts so index and stock underlyings surface first.
func (c *Catalog) Search(prefix string, limit int) []string {
	t := c.snapshot()
	if t == nil {
		return nil
	}
	prefix = strings.ToUpper(prefix)
	seen := make(map[string]struct{})
	var names []string
	for _, r := range t.rows {
		if r.InstrumentType != models.InstrumentFuture {
			continue
		}
		if !strings.HasPrefix(r.Name, prefix) {
			continue
		}
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		names = append(names, r.Name)
		if limit > 0 && len(names) >= limit {
			break
		}
	}
	sort.Strings(names)
	return names
}
