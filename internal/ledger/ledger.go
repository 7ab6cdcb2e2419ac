// Package ledger
package ledger

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/gold-backtester/internal/quote"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownSymbol is returned when removing from a symbol the ledger never traded.
	ErrUnknownSymbol = errors.New("ledger: unknown symbol")

	// ErrSignMismatch is returned when the removal quantity does not oppose the
	// held position: covers must shrink shorts, sells must shrink longs.
	ErrSignMismatch = errors.New("ledger: quantity sign matches held position")

	// ErrInsufficientPosition is returned when the removal magnitude exceeds the held magnitude.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")
)

// Position is one row of the ledger's holdings. Quantity is signed: positive
// long, negative short. AvgPrice is zero whenever Quantity is zero.
type Position struct {
	Symbol   string
	Quantity int64
	AvgPrice decimal.Decimal
}

// Ledger owns the cash balance and the symbol -> position mapping for one
// backtest run. All mutation goes through AddPosition/RemovePosition and
// DepositCash/WithdrawCash; valuations price the book through the quote
// service at an explicit date.
type Ledger struct {
	cash          decimal.Decimal
	marginPercent decimal.Decimal
	positions     map[string]Position

	quotes quote.Service
	logger *log.Logger
}

// New creates a ledger with the given starting cash and margin percent.
func New(startingCash, marginPercent decimal.Decimal, quotes quote.Service, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{
		cash:          startingCash,
		marginPercent: marginPercent,
		positions:     make(map[string]Position),
		quotes:        quotes,
		logger:        logger,
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// MarginPercent returns the configured margin percent. It is informational:
// nothing in the ledger blocks trades that exceed the implied borrowing limit.
func (l *Ledger) MarginPercent() decimal.Decimal { return l.marginPercent }

// Position returns the row for symbol, if one exists. Rows closed to zero
// quantity persist until overwritten by a later trade.
func (l *Ledger) Position(symbol string) (Position, bool) {
	p, ok := l.positions[symbol]
	return p, ok
}

// Positions returns a copy of all position rows.
func (l *Ledger) Positions() map[string]Position {
	out := make(map[string]Position, len(l.positions))
	for sym, p := range l.positions {
		out[sym] = p
	}
	return out
}

// LongPositions returns a copy of the rows with positive quantity.
func (l *Ledger) LongPositions() map[string]Position {
	out := make(map[string]Position)
	for sym, p := range l.positions {
		if p.Quantity > 0 {
			out[sym] = p
		}
	}
	return out
}

// ShortPositions returns a copy of the rows with negative quantity.
func (l *Ledger) ShortPositions() map[string]Position {
	out := make(map[string]Position)
	for sym, p := range l.positions {
		if p.Quantity < 0 {
			out[sym] = p
		}
	}
	return out
}

// AddPosition opens or extends a position. The new average price is the
// quantity-weighted mean of the existing entry and the new fill. No sign
// constraint: shorts add negative quantities.
func (l *Ledger) AddPosition(symbol string, qty int64, price decimal.Decimal) {
	held, ok := l.positions[symbol]
	if !ok || held.Quantity == 0 {
		l.positions[symbol] = Position{Symbol: symbol, Quantity: qty, AvgPrice: price}
		return
	}

	newQty := held.Quantity + qty
	if newQty == 0 {
		l.positions[symbol] = Position{Symbol: symbol}
		return
	}

	heldQty := decimal.NewFromInt(held.Quantity)
	addQty := decimal.NewFromInt(qty)
	newAvg := heldQty.Mul(held.AvgPrice).Add(addQty.Mul(price)).Div(decimal.NewFromInt(newQty))

	l.positions[symbol] = Position{Symbol: symbol, Quantity: newQty, AvgPrice: newAvg}
}

// RemovePosition shrinks a position by qty, which must oppose the held sign:
// sells pass negative qty against longs, covers pass positive qty against
// shorts. The price is accepted for symmetry with AddPosition but full closes
// always reset the average price to zero.
func (l *Ledger) RemovePosition(symbol string, qty int64, price decimal.Decimal) error {
	held, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if held.Quantity*qty >= 0 {
		return fmt.Errorf("%w: held %d, removing %d for %s", ErrSignMismatch, held.Quantity, qty, symbol)
	}
	if abs64(qty) > abs64(held.Quantity) {
		return fmt.Errorf("%w: held %d, removing %d for %s", ErrInsufficientPosition, held.Quantity, qty, symbol)
	}

	newQty := held.Quantity + qty
	avg := held.AvgPrice
	if newQty == 0 {
		avg = decimal.Zero
	}
	l.positions[symbol] = Position{Symbol: symbol, Quantity: newQty, AvgPrice: avg}
	return nil
}

// DepositCash adds amount to the cash balance. The amount is assumed non-negative.
func (l *Ledger) DepositCash(amount decimal.Decimal) {
	l.cash = l.cash.Add(amount)
}

// WithdrawCash deducts amount iff the full amount is covered. It reports
// failure instead of returning an error: callers retry with smaller amounts
// as a matter of course.
func (l *Ledger) WithdrawCash(amount decimal.Decimal) bool {
	if l.cash.LessThan(amount) {
		return false
	}
	l.cash = l.cash.Sub(amount)
	return true
}

// AccountValue is cash plus the sum of |quantity| * quote over all positions.
// Both long and short exposure contribute positively: this is a gross-exposure
// figure, not mark-to-market equity. Symbols without a quote on the date are
// skipped with a log line.
func (l *Ledger) AccountValue(date time.Time) decimal.Decimal {
	value := l.cash
	for sym, p := range l.positions {
		if p.Quantity == 0 {
			continue
		}
		q, ok := l.quotes.Close(sym, date)
		if !ok {
			l.logger.Printf("Ledger | No quote for held symbol %s on %s, skipping in valuation", sym, date.Format("2006-01-02"))
			continue
		}
		value = value.Add(decimal.NewFromInt(abs64(p.Quantity)).Mul(decimal.NewFromFloat(q)))
	}
	return value
}

// MarginValue is the account value scaled by the margin percent.
func (l *Ledger) MarginValue(date time.Time) decimal.Decimal {
	return l.AccountValue(date).Mul(l.marginPercent).Div(decimal.NewFromInt(100))
}

// PositionValue is |quantity| * quote for one symbol on the date.
func (l *Ledger) PositionValue(symbol string, date time.Time) (decimal.Decimal, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return decimal.Zero, false
	}
	q, ok := l.quotes.Close(symbol, date)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(abs64(p.Quantity)).Mul(decimal.NewFromFloat(q)), true
}

// LongValue sums quantity * quote over the long positions.
func (l *Ledger) LongValue(date time.Time) decimal.Decimal {
	value := decimal.Zero
	for sym, p := range l.positions {
		if p.Quantity <= 0 {
			continue
		}
		q, ok := l.quotes.Close(sym, date)
		if !ok {
			l.logger.Printf("Ledger | No quote for held symbol %s on %s, skipping in valuation", sym, date.Format("2006-01-02"))
			continue
		}
		value = value.Add(decimal.NewFromInt(p.Quantity).Mul(decimal.NewFromFloat(q)))
	}
	return value
}

// ShortValue revalues the short book through per-position returns:
//
//	original = entryPrice * quantity        (negative)
//	return   = -((price * quantity / original) - 1)
//	value    = (1 + return) * original
//
// This is deliberately not a plain quantity * price mark; the return-based
// form is the canonical one for short exposure here.
func (l *Ledger) ShortValue(date time.Time) decimal.Decimal {
	value := decimal.Zero
	one := decimal.NewFromInt(1)
	for sym, p := range l.positions {
		if p.Quantity >= 0 {
			continue
		}
		q, ok := l.quotes.Close(sym, date)
		if !ok {
			l.logger.Printf("Ledger | No quote for held symbol %s on %s, skipping in valuation", sym, date.Format("2006-01-02"))
			continue
		}

		qty := decimal.NewFromInt(p.Quantity)
		original := p.AvgPrice.Mul(qty)
		if original.IsZero() {
			continue
		}
		ret := decimal.NewFromFloat(q).Mul(qty).Div(original).Sub(one).Neg()
		value = value.Add(one.Add(ret).Mul(original))
	}
	return value
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
