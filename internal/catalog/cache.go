package catalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeassist/options-engine/internal/models"
)

var cacheHeader = []string{
	"instrument_token", "tradingsymbol", "name", "exchange",
	"last_price", "instrument_type", "lot_size", "expiry", "strike",
}

// cacheFresh reports whether the cache file exists and its mtime is within
// the TTL.
func cacheFresh(path string, ttl time.Duration, now time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) < ttl
}

// readCache loads the denormalized instrument snapshot from disk.
func readCache(path string) ([]models.InstrumentRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instrument cache: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read instrument cache: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("instrument cache is empty")
	}

	rows := make([]models.InstrumentRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(cacheHeader) {
			return nil, fmt.Errorf("malformed instrument cache row: %v", rec)
		}
		token, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("bad instrument token %q: %w", rec[0], err)
		}
		lastPrice, err := decimal.NewFromString(rec[4])
		if err != nil {
			return nil, fmt.Errorf("bad last price %q: %w", rec[4], err)
		}
		lotSize, err := strconv.Atoi(rec[6])
		if err != nil {
			return nil, fmt.Errorf("bad lot size %q: %w", rec[6], err)
		}
		strike, err := decimal.NewFromString(rec[8])
		if err != nil {
			return nil, fmt.Errorf("bad strike %q: %w", rec[8], err)
		}
		rows = append(rows, models.InstrumentRow{
			InstrumentToken: token,
			TradingSymbol:   rec[1],
			Name:            rec[2],
			Exchange:        rec[3],
			LastPrice:       lastPrice,
			InstrumentType:  rec[5],
			LotSize:         lotSize,
			Expiry:          rec[7],
			Strike:          strike,
		})
	}
	return rows, nil
}

// writeCache writes the snapshot to a temp file and renames it into place so
// concurrent readers only ever see a complete file.
func writeCache(path string, rows []models.InstrumentRow) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "instruments-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create cache temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(cacheHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache header: %w", err)
	}
	for _, row := range rows {
		rec := []string{
			strconv.Itoa(row.InstrumentToken),
			row.TradingSymbol,
			row.Name,
			row.Exchange,
			row.LastPrice.String(),
			row.InstrumentType,
			strconv.Itoa(row.LotSize),
			row.Expiry,
			row.Strike.String(),
		}
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write cache row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace instrument cache: %w", err)
	}
	return nil
}
