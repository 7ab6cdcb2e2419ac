// Package signal loads the CSV inputs of a run: the signal table (date rows,
// symbol columns), the market-cap table of the same shape, and plain symbol
// lists.
package signal

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/gold-backtester/internal/quote"
)

// Table maps date -> symbol -> value. Blank and non-numeric cells load as 0.
type Table struct {
	dates   []time.Time // sorted ascending
	symbols []string
	rows    map[time.Time]map[string]float64
}

// dateLayouts accepted in the first CSV column.
var dateLayouts = []string{"2006-01-02", "2006_01_02", "2006/01/02"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return quote.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// LoadTable reads a date-by-symbol CSV. The header row names the symbols;
// every following row starts with a date. Rows with unparseable dates are
// skipped.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", path, err)
	}
	if len(records) < 1 || len(records[0]) < 2 {
		return nil, fmt.Errorf("table %s has no symbol columns", path)
	}

	header := records[0]
	symbols := make([]string, 0, len(header)-1)
	for _, sym := range header[1:] {
		symbols = append(symbols, strings.TrimSpace(sym))
	}

	t := &Table{
		symbols: symbols,
		rows:    make(map[time.Time]map[string]float64, len(records)-1),
	}

	for _, rec := range records[1:] {
		if len(rec) == 0 {
			continue
		}
		date, err := parseDate(rec[0])
		if err != nil {
			continue
		}

		row := make(map[string]float64, len(symbols))
		for i, sym := range symbols {
			var v float64
			if i+1 < len(rec) {
				// Blank or malformed cells count as 0.
				v, _ = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			}
			row[sym] = v
		}
		if _, dup := t.rows[date]; !dup {
			t.dates = append(t.dates, date)
		}
		t.rows[date] = row
	}

	sort.Slice(t.dates, func(i, j int) bool { return t.dates[i].Before(t.dates[j]) })
	return t, nil
}

// Dates returns all row dates in ascending order.
func (t *Table) Dates() []time.Time {
	out := make([]time.Time, len(t.dates))
	copy(out, t.dates)
	return out
}

// DatesFrom returns the row dates at or after start.
func (t *Table) DatesFrom(start time.Time) []time.Time {
	start = quote.Day(start)
	var out []time.Time
	for _, d := range t.dates {
		if !d.Before(start) {
			out = append(out, d)
		}
	}
	return out
}

// Symbols returns the column names.
func (t *Table) Symbols() []string {
	out := make([]string, len(t.symbols))
	copy(out, t.symbols)
	return out
}

// Value returns the cell for (date, symbol).
func (t *Table) Value(date time.Time, symbol string) (float64, bool) {
	row, ok := t.rows[quote.Day(date)]
	if !ok {
		return 0, false
	}
	v, ok := row[symbol]
	return v, ok
}

// Row returns a copy of the date's row.
func (t *Table) Row(date time.Time) (map[string]float64, bool) {
	row, ok := t.rows[quote.Day(date)]
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, true
}

// LoadSymbols reads a one-column CSV of symbols. A first line that does not
// look like a symbol header is kept; the conventional "symbol" header is
// skipped.
func LoadSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open symbol list %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol list %s: %w", path, err)
	}

	var symbols []string
	for i, rec := range records {
		if len(rec) == 0 {
			continue
		}
		sym := strings.TrimSpace(rec[0])
		if sym == "" {
			continue
		}
		if i == 0 && strings.EqualFold(sym, "symbol") {
			continue
		}
		symbols = append(symbols, sym)
	}
	return symbols, nil
}
