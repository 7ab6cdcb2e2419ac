package db

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/gold-backtester/internal/journal"
	"github.com/amirphl/gold-backtester/internal/quote"
)

// MemoryStorage is an in-memory Storage used by tests and CSV-only runs.
type MemoryStorage struct {
	mu sync.RWMutex

	// Bars keyed by symbol|date
	bars map[string]quote.Bar

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		bars:   make(map[string]quote.Bar),
		events: make([]journal.Event, 0, 1024),
	}
}

// GetDB returns nil for in-memory storage (no SQL database)
func (m *MemoryStorage) GetDB() *sql.DB { return nil }

func barKey(symbol string, date time.Time) string {
	return strings.ToUpper(symbol) + "|" + quote.Day(date).Format("2006-01-02")
}

func (m *MemoryStorage) SaveBars(ctx context.Context, bars []quote.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return err
		}
		bars[i].Date = quote.Day(bars[i].Date)
		m.bars[barKey(bars[i].Symbol, bars[i].Date)] = bars[i]
	}
	return nil
}

func (m *MemoryStorage) GetBars(ctx context.Context, symbol string) ([]quote.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bars []quote.Bar
	prefix := strings.ToUpper(symbol) + "|"
	for key, b := range m.bars {
		if strings.HasPrefix(key, prefix) {
			bars = append(bars, b)
		}
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
	return bars, nil
}

func (m *MemoryStorage) GetBarsRange(ctx context.Context, symbol string, from, to time.Time) ([]quote.Bar, error) {
	bars, err := m.GetBars(ctx, symbol)
	if err != nil {
		return nil, err
	}
	from, to = quote.Day(from), quote.Day(to)

	var out []quote.Bar
	for _, b := range bars {
		if b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MemoryStorage) Symbols(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, b := range m.bars {
		seen[b.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []journal.Event
	for _, e := range m.events {
		if e.Type != eventType {
			continue
		}
		if e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
