// Package executor
package executor

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/gold-backtester/internal/ledger"
	"github.com/amirphl/gold-backtester/internal/quote"
	"github.com/shopspring/decimal"
)

// OrderType is one of the four simulated order types.
type OrderType string

const (
	Buy   OrderType = "buy"
	Sell  OrderType = "sell"
	Short OrderType = "short"
	Cover OrderType = "cover"
)

var (
	// ErrUnknownOrderType indicates a programming error in the caller.
	ErrUnknownOrderType = errors.New("executor: unknown order type")

	// ErrMissingQuote is returned when the symbol has no quote on the order date.
	ErrMissingQuote = errors.New("executor: missing quote")
)

// Config carries the simulation costs. Slippage is an absolute price offset
// applied against the trader; commission is per share with a floor and, above
// 1.00, a cap expressed as a fraction of the shares value.
type Config struct {
	Slippage              decimal.Decimal
	CommissionPerShare    decimal.Decimal
	CommissionMin         decimal.Decimal
	CommissionMaxFraction decimal.Decimal
}

// Result reports what a simulated order actually did. A fully failed order
// has Quantity 0 and zero amounts; it is not an error.
type Result struct {
	Symbol         string
	Type           OrderType
	Date           time.Time
	Quantity       int64 // signed: negative for short positions opened
	FillPrice      decimal.Decimal
	TransferAmount decimal.Decimal
	Commission     decimal.Decimal
}

// Executor turns desired trades into ledger mutations, fitting the share
// count to the available cash and the requested dollar amount.
type Executor struct {
	cfg    Config
	ledger *ledger.Ledger
	quotes quote.Service
	logger *log.Logger
}

// New creates an executor bound to one ledger and quote service.
func New(cfg Config, l *ledger.Ledger, quotes quote.Service, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{cfg: cfg, ledger: l, quotes: quotes, logger: logger}
}

// orderSpec is the fixed per-type table: how the order moves stock and cash,
// which way slippage leans, and whether commission is added to or taken out
// of the transfer.
type orderSpec struct {
	addsPosition bool // true: AddPosition, false: RemovePosition
	depositsCash bool // true: DepositCash, false: WithdrawCash
	slipSign     int64
	feeSign      int64
	qtySign      int64 // sign applied to the fitted quantity before mutating the ledger
}

func specFor(typ OrderType) (orderSpec, error) {
	switch typ {
	case Buy:
		return orderSpec{addsPosition: true, depositsCash: false, slipSign: 1, feeSign: 1, qtySign: 1}, nil
	case Sell:
		return orderSpec{addsPosition: false, depositsCash: true, slipSign: -1, feeSign: -1, qtySign: -1}, nil
	case Short:
		return orderSpec{addsPosition: true, depositsCash: false, slipSign: -1, feeSign: -1, qtySign: -1}, nil
	case Cover:
		return orderSpec{addsPosition: false, depositsCash: true, slipSign: 1, feeSign: -1, qtySign: 1}, nil
	default:
		return orderSpec{}, fmt.Errorf("%w: %q", ErrUnknownOrderType, typ)
	}
}

// Buy spends up to amount on the symbol at the date's close plus slippage.
func (e *Executor) Buy(amount decimal.Decimal, symbol string, date time.Time) (Result, error) {
	return e.postAmount(symbol, date, Buy, amount)
}

// Sell liquidates up to amount of an existing long position.
func (e *Executor) Sell(amount decimal.Decimal, symbol string, date time.Time) (Result, error) {
	return e.postAmount(symbol, date, Sell, amount)
}

// Short opens a short position worth up to amount.
func (e *Executor) Short(amount decimal.Decimal, symbol string, date time.Time) (Result, error) {
	return e.postAmount(symbol, date, Short, amount)
}

// Cover buys back up to amount of an existing short position.
func (e *Executor) Cover(amount decimal.Decimal, symbol string, date time.Time) (Result, error) {
	return e.postAmount(symbol, date, Cover, amount)
}

// SellAll closes the symbol's entire long position.
func (e *Executor) SellAll(symbol string, date time.Time) (Result, error) {
	return e.postAll(symbol, date, Sell)
}

// CoverAll closes the symbol's entire short position.
func (e *Executor) CoverAll(symbol string, date time.Time) (Result, error) {
	return e.postAll(symbol, date, Cover)
}

func (e *Executor) postAmount(symbol string, date time.Time, typ OrderType, amount decimal.Decimal) (Result, error) {
	spec, err := specFor(typ)
	if err != nil {
		return Result{Symbol: symbol, Type: typ, Date: date}, err
	}

	fill, ok := e.fillPrice(symbol, date, spec)
	if !ok {
		return Result{Symbol: symbol, Type: typ, Date: date},
			fmt.Errorf("%w: %s on %s", ErrMissingQuote, symbol, date.Format("2006-01-02"))
	}
	if !fill.IsPositive() {
		e.logger.Printf("Executor | %s %s fully failed on %s: slippage-adjusted fill %s is not positive",
			typ, symbol, date.Format("2006-01-02"), fill)
		return Result{Symbol: symbol, Type: typ, Date: date, FillPrice: fill}, nil
	}

	qty := amount.Div(fill).IntPart()
	return e.fit(symbol, date, typ, spec, fill, qty, &amount)
}

func (e *Executor) postAll(symbol string, date time.Time, typ OrderType) (Result, error) {
	spec, err := specFor(typ)
	if err != nil {
		return Result{Symbol: symbol, Type: typ, Date: date}, err
	}

	held, ok := e.ledger.Position(symbol)
	if !ok {
		return Result{Symbol: symbol, Type: typ, Date: date},
			fmt.Errorf("%w: %s", ledger.ErrUnknownSymbol, symbol)
	}

	fill, ok := e.fillPrice(symbol, date, spec)
	if !ok {
		return Result{Symbol: symbol, Type: typ, Date: date},
			fmt.Errorf("%w: %s on %s", ErrMissingQuote, symbol, date.Format("2006-01-02"))
	}
	if !fill.IsPositive() {
		e.logger.Printf("Executor | %s %s fully failed on %s: slippage-adjusted fill %s is not positive",
			typ, symbol, date.Format("2006-01-02"), fill)
		return Result{Symbol: symbol, Type: typ, Date: date, FillPrice: fill}, nil
	}

	qty := held.Quantity
	if qty < 0 {
		qty = -qty
	}
	return e.fit(symbol, date, typ, spec, fill, qty, nil)
}

func (e *Executor) fillPrice(symbol string, date time.Time, spec orderSpec) (decimal.Decimal, bool) {
	q, ok := e.quotes.Close(symbol, date)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(q).Add(e.cfg.Slippage.Mul(decimal.NewFromInt(spec.slipSign))), true
}

// fit runs the quantity-fitting loop. Each pass either executes at the
// current quantity or shrinks it by one share, so the loop is bounded by the
// initial quantity and always terminates. amount is nil for all-out orders.
func (e *Executor) fit(symbol string, date time.Time, typ OrderType, spec orderSpec, fill decimal.Decimal, qty int64, amount *decimal.Decimal) (Result, error) {
	one := decimal.NewFromInt(1)
	feeSign := decimal.NewFromInt(spec.feeSign)

	for ; qty > 0; qty-- {
		qtyDec := decimal.NewFromInt(qty)
		sharesValue := fill.Mul(qtyDec)

		commission := decimal.Max(e.cfg.CommissionPerShare.Mul(qtyDec), e.cfg.CommissionMin)
		if commission.GreaterThan(one) {
			commission = decimal.Min(commission, e.cfg.CommissionMaxFraction.Mul(sharesValue))
		}

		transfer := sharesValue.Add(commission.Mul(feeSign))
		if amount != nil && transfer.GreaterThan(*amount) {
			continue
		}

		if spec.depositsCash {
			e.ledger.DepositCash(transfer)
		} else if !e.ledger.WithdrawCash(transfer) {
			continue
		}

		signedQty := qty * spec.qtySign
		if spec.addsPosition {
			e.ledger.AddPosition(symbol, signedQty, fill)
		} else if err := e.ledger.RemovePosition(symbol, signedQty, fill); err != nil {
			// Undo the cash leg before propagating: a sign mismatch or
			// over-removal is a driver bug, and the ledger must stay whole.
			if spec.depositsCash {
				e.ledger.WithdrawCash(transfer)
			} else {
				e.ledger.DepositCash(transfer)
			}
			return Result{Symbol: symbol, Type: typ, Date: date}, err
		}

		return Result{
			Symbol:         symbol,
			Type:           typ,
			Date:           date,
			Quantity:       signedQty,
			FillPrice:      fill,
			TransferAmount: transfer,
			Commission:     commission,
		}, nil
	}

	e.logger.Printf("Executor | %s %s fully failed on %s: no quantity fits", typ, symbol, date.Format("2006-01-02"))
	return Result{Symbol: symbol, Type: typ, Date: date, FillPrice: fill}, nil
}
