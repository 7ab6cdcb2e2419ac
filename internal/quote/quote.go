// Package quote
package quote

import (
	"context"
	"errors"
	"time"
)

// Field selects which column of a daily bar a quote lookup returns.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// IsValidField reports whether f is one of the supported quote fields.
func IsValidField(f Field) bool {
	switch f {
	case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume:
		return true
	default:
		return false
	}
}

// Bar is a single daily OHLCV bar for a symbol.
type Bar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Day normalizes a timestamp to midnight UTC so that bar dates compare cleanly.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Validate checks if a bar has valid data.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return errors.New("bar symbol cannot be empty")
	}
	if b.Date.IsZero() {
		return errors.New("bar date is zero")
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return errors.New("bar prices must be positive")
	}
	if b.High < b.Low {
		return errors.New("bar high cannot be less than low")
	}
	if b.Open < b.Low || b.Open > b.High {
		return errors.New("bar open price must be between high and low")
	}
	if b.Close < b.Low || b.Close > b.High {
		return errors.New("bar close price must be between high and low")
	}
	if b.Volume < 0 {
		return errors.New("bar volume cannot be negative")
	}
	return nil
}

// Field returns the requested column of the bar.
func (b *Bar) Field(f Field) float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldVolume:
		return b.Volume
	default:
		return b.Close
	}
}

// Service answers price and volatility lookups by symbol and date.
// Missing data is signaled through the ok boolean, never through NaN.
type Service interface {
	// Quote returns the requested field of the symbol's bar on date.
	Quote(symbol string, date time.Time, field Field) (float64, bool)

	// Close is shorthand for Quote with FieldClose.
	Close(symbol string, date time.Time) (float64, bool)

	// PreviousTradingDate returns the last bar date strictly before date
	// for which the symbol has data.
	PreviousTradingDate(symbol string, date time.Time) (time.Time, bool)

	// AverageTrueRange returns the mean true range over the trailing
	// window bars ending at date. It needs window+1 bars of history: the
	// extra bar only seeds the first previous close.
	AverageTrueRange(symbol string, date time.Time, window int) (float64, bool)
}

// BarSource loads bars from persistent storage. internal/db implements it.
type BarSource interface {
	Symbols(ctx context.Context) ([]string, error)
	GetBars(ctx context.Context, symbol string) ([]Bar, error)
}
