// Package db
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/amirphl/gold-backtester/internal/journal"
	"github.com/amirphl/gold-backtester/internal/quote"
)

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB

	// Daily bars
	SaveBars(ctx context.Context, bars []quote.Bar) error
	GetBars(ctx context.Context, symbol string) ([]quote.Bar, error)
	GetBarsRange(ctx context.Context, symbol string, from, to time.Time) ([]quote.Bar, error)
	Symbols(ctx context.Context) ([]string, error)

	journal.Journaler
}
