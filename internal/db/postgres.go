package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/gold-backtester/internal/journal"
	"github.com/amirphl/gold-backtester/internal/quote"
	_ "github.com/lib/pq"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// Default is the Postgres-backed storage.
type Default struct {
	db *sql.DB
}

// New opens a Postgres connection with the given pool limits.
func New(connStr string, maxOpen, maxIdle int) (*Default, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Default{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests).
func NewWithDB(db *sql.DB) *Default {
	return &Default{db: db}
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

func (p *Default) Close() error {
	return p.db.Close()
}

// SaveBars upserts a batch of daily bars.
func (p *Default) SaveBars(ctx context.Context, bars []quote.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	// Validate all bars first
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid bar at index %d for %s at %s: %w",
				i, b.Symbol, b.Date.Format("2006-01-02"), err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_bars (symbol, date, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (symbol, date) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, b := range bars {
			_, err := stmt.ExecContext(ctx,
				b.Symbol, quote.Day(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume)
			if err != nil {
				return fmt.Errorf("failed to save bar at index %d (%s at %s): %w",
					i, b.Symbol, b.Date.Format("2006-01-02"), err)
			}
		}

		return nil
	})
}

// GetBars returns the symbol's full daily history ordered by date.
func (p *Default) GetBars(ctx context.Context, symbol string) ([]quote.Bar, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT symbol, date, open, high, low, close, volume
		FROM daily_bars
		WHERE symbol=$1
		ORDER BY date ASC`,
		symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetBarsRange returns the symbol's daily bars within [from, to].
func (p *Default) GetBarsRange(ctx context.Context, symbol string, from, to time.Time) ([]quote.Bar, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT symbol, date, open, high, low, close, volume
		FROM daily_bars
		WHERE symbol=$1 AND date >= $2 AND date <= $3
		ORDER BY date ASC`,
		symbol, quote.Day(from), quote.Day(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	return scanBars(rows)
}

func scanBars(rows *sql.Rows) ([]quote.Bar, error) {
	var bars []quote.Bar
	for rows.Next() {
		var b quote.Bar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Date = quote.Day(b.Date)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Symbols returns every symbol with at least one bar stored.
func (p *Default) Symbols(ctx context.Context) ([]string, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT DISTINCT symbol FROM daily_bars ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		data, _ := json.Marshal(event.Data)
		_, err := tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time, event.Type, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT time, type, description, data FROM events WHERE type=$1 AND time >= $2 AND time <= $3 ORDER BY time ASC`, eventType, start, end)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()
	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, err
		}
		json.Unmarshal(data, &e.Data)
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
