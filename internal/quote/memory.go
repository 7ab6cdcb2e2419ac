package quote

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"
)

// MemoryService keeps every symbol's full daily history in memory and
// serves lookups without touching storage again. The whole database is
// loaded once, up front.
type MemoryService struct {
	logger *log.Logger

	// bars per symbol, sorted ascending by date
	bars  map[string][]Bar
	index map[string]map[time.Time]int
}

// NewMemoryService builds a service from a flat slice of bars.
func NewMemoryService(bars []Bar, logger *log.Logger) *MemoryService {
	if logger == nil {
		logger = log.Default()
	}

	s := &MemoryService{
		logger: logger,
		bars:   make(map[string][]Bar),
		index:  make(map[string]map[time.Time]int),
	}

	for _, b := range bars {
		b.Date = Day(b.Date)
		s.bars[b.Symbol] = append(s.bars[b.Symbol], b)
	}

	for sym, series := range s.bars {
		sort.Slice(series, func(i, j int) bool {
			return series[i].Date.Before(series[j].Date)
		})
		idx := make(map[time.Time]int, len(series))
		for i, b := range series {
			idx[b.Date] = i
		}
		s.bars[sym] = series
		s.index[sym] = idx
	}

	return s
}

// LoadService reads every symbol's bars out of src and returns a
// fully-populated in-memory service.
func LoadService(ctx context.Context, src BarSource, logger *log.Logger) (*MemoryService, error) {
	symbols, err := src.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("quote service: listing symbols: %w", err)
	}

	var all []Bar
	for _, sym := range symbols {
		bars, err := src.GetBars(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("quote service: loading bars for %s: %w", sym, err)
		}
		all = append(all, bars...)
	}

	svc := NewMemoryService(all, logger)
	svc.logger.Printf("QuoteService | Loaded %d symbols (%d bars) into memory", len(symbols), len(all))
	return svc, nil
}

// Symbols returns the symbols the service has data for.
func (s *MemoryService) Symbols() []string {
	syms := make([]string, 0, len(s.bars))
	for sym := range s.bars {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// Quote returns the requested field of the symbol's bar on date.
func (s *MemoryService) Quote(symbol string, date time.Time, field Field) (float64, bool) {
	idx, ok := s.index[symbol]
	if !ok {
		s.logger.Printf("QuoteService | Quote data is not available for %s", symbol)
		return 0, false
	}
	i, ok := idx[Day(date)]
	if !ok {
		s.logger.Printf("QuoteService | Quote data is not available on %s for %s", Day(date).Format("2006-01-02"), symbol)
		return 0, false
	}
	b := s.bars[symbol][i]
	return b.Field(field), true
}

// Close is shorthand for Quote with FieldClose.
func (s *MemoryService) Close(symbol string, date time.Time) (float64, bool) {
	return s.Quote(symbol, date, FieldClose)
}

// PreviousTradingDate returns the last bar date strictly before date.
func (s *MemoryService) PreviousTradingDate(symbol string, date time.Time) (time.Time, bool) {
	series, ok := s.bars[symbol]
	if !ok || len(series) == 0 {
		return time.Time{}, false
	}

	day := Day(date)

	// First bar at or after day; the one before it is what we want.
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].Date.Before(day)
	})
	if i == 0 {
		return time.Time{}, false
	}
	return series[i-1].Date, true
}

// AverageTrueRange computes the mean true range over the trailing window
// bars ending at date. True range of a bar is
// max(high-low, |high-prevClose|, |low-prevClose|). The bar immediately
// before the window only seeds the first previous close, so window+1 bars
// of history are required.
func (s *MemoryService) AverageTrueRange(symbol string, date time.Time, window int) (float64, bool) {
	if window <= 0 {
		return 0, false
	}

	idx, ok := s.index[symbol]
	if !ok {
		return 0, false
	}
	end, ok := idx[Day(date)]
	if !ok {
		return 0, false
	}
	if end < window {
		// Fewer than window+1 bars up to and including date.
		return 0, false
	}

	series := s.bars[symbol]
	var sum float64
	for i := end - window + 1; i <= end; i++ {
		prevClose := series[i-1].Close
		tr := series[i].High - series[i].Low
		tr = math.Max(tr, math.Abs(series[i].High-prevClose))
		tr = math.Max(tr, math.Abs(series[i].Low-prevClose))
		sum += tr
	}
	return sum / float64(window), true
}
