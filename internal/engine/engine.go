// Package engine runs the rebalance loop: liquidate, size, order, record.
package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/gold-backtester/internal/executor"
	"github.com/amirphl/gold-backtester/internal/journal"
	"github.com/amirphl/gold-backtester/internal/ledger"
	"github.com/amirphl/gold-backtester/internal/schedule"
	"github.com/amirphl/gold-backtester/internal/signal"
	"github.com/amirphl/gold-backtester/internal/sizer"
)

// Config controls the rebalance loop.
type Config struct {
	StartDay      time.Time
	RebalPeriod   schedule.Period
	LongFraction  float64 // fraction of cash deployed into the long book
	HedgeFraction float64 // fraction of cash deployed into the hedge book
	HedgeSymbols  []string
	OutputDir     string
}

// HistoryRow is one equity-curve sample, taken after a rebalance completes.
type HistoryRow struct {
	Date         time.Time
	AccountValue decimal.Decimal
	Cash         decimal.Decimal
	LongValue    decimal.Decimal
	ShortValue   decimal.Decimal
	Orders       int
}

// Engine wires the ledger, executor, and sizer into a backtest run.
type Engine struct {
	cfg      Config
	ledger   *ledger.Ledger
	executor *executor.Executor
	sizer    *sizer.Sizer
	signals  *signal.Table
	journal  journal.Journaler
	logger   *log.Logger

	history []HistoryRow
	trades  []executor.Result
}

func New(cfg Config, l *ledger.Ledger, ex *executor.Executor, sz *sizer.Sizer, signals *signal.Table, j journal.Journaler, logger *log.Logger) (*Engine, error) {
	if cfg.LongFraction < 0 || cfg.HedgeFraction < 0 || cfg.LongFraction+cfg.HedgeFraction > 1 {
		return nil, fmt.Errorf("engine: long fraction %.2f + hedge fraction %.2f must lie in [0, 1]", cfg.LongFraction, cfg.HedgeFraction)
	}
	if !cfg.RebalPeriod.IsValid() {
		return nil, fmt.Errorf("engine: invalid rebalance period %q", cfg.RebalPeriod)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		cfg:      cfg,
		ledger:   l,
		executor: ex,
		sizer:    sz,
		signals:  signals,
		journal:  j,
		logger:   logger,
	}, nil
}

// Run executes the full backtest and writes the history and trade CSVs.
func (e *Engine) Run(ctx context.Context) error {
	dates := e.signals.DatesFrom(e.cfg.StartDay)
	if len(dates) == 0 {
		return fmt.Errorf("engine: no signal dates on or after %s", e.cfg.StartDay.Format("2006-01-02"))
	}

	rebalDates, err := schedule.RebalanceDates(dates, e.cfg.RebalPeriod)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	e.logger.Printf("Engine | Starting run: %d rebalance dates from %s to %s",
		len(rebalDates), rebalDates[0].Format("2006-01-02"), rebalDates[len(rebalDates)-1].Format("2006-01-02"))

	for _, date := range rebalDates {
		select {
		case <-ctx.Done():
			return fmt.Errorf("engine: run cancelled: %w", ctx.Err())
		default:
		}

		if err := e.rebalance(ctx, date); err != nil {
			return fmt.Errorf("engine: rebalance on %s: %w", date.Format("2006-01-02"), err)
		}
	}

	e.logSummary()
	return e.writeOutputs()
}

// History returns the equity-curve rows recorded so far.
func (e *Engine) History() []HistoryRow {
	out := make([]HistoryRow, len(e.history))
	copy(out, e.history)
	return out
}

// Trades returns every fill recorded so far, including zero-quantity ones.
func (e *Engine) Trades() []executor.Result {
	out := make([]executor.Result, len(e.trades))
	copy(out, e.trades)
	return out
}

// rebalance liquidates the whole book, then deploys the long and hedge
// budgets into the freshly sized candidates.
func (e *Engine) rebalance(ctx context.Context, date time.Time) error {
	e.liquidate(ctx, date)

	longs := e.sizer.LongCandidates(date)
	hedges := e.sizer.HedgeCandidates(date, e.cfg.HedgeSymbols, longs)

	// Both budgets come from the post-liquidation cash, before any new
	// order moves it.
	cash := e.ledger.Cash()
	longBudget := cash.Mul(decimal.NewFromFloat(e.cfg.LongFraction))
	hedgeBudget := cash.Mul(decimal.NewFromFloat(e.cfg.HedgeFraction))

	orders := 0
	orders += e.placeOrders(ctx, date, longs, longBudget, e.executor.Buy)
	orders += e.placeOrders(ctx, date, hedges, hedgeBudget, e.executor.Short)

	if len(longs) == 0 && len(hedges) == 0 {
		e.journalEvent(ctx, journal.Event{
			Time:        date,
			Type:        journal.TypeSkip,
			Description: "no candidates qualified, holding cash",
		})
	}

	row := HistoryRow{
		Date:         date,
		AccountValue: e.ledger.AccountValue(date),
		Cash:         e.ledger.Cash(),
		LongValue:    e.ledger.LongValue(date),
		ShortValue:   e.ledger.ShortValue(date),
		Orders:       orders,
	}
	e.history = append(e.history, row)

	e.journalEvent(ctx, journal.Event{
		Time:        date,
		Type:        journal.TypeRebalance,
		Description: fmt.Sprintf("rebalanced with %d longs, %d hedges", len(longs), len(hedges)),
		Data: map[string]any{
			"account_value": row.AccountValue.String(),
			"cash":          row.Cash.String(),
			"orders":        orders,
		},
	})

	e.logger.Printf("Engine | %s: account=%s cash=%s longs=%d hedges=%d orders=%d",
		date.Format("2006-01-02"), row.AccountValue.StringFixed(2), row.Cash.StringFixed(2),
		len(longs), len(hedges), orders)
	return nil
}

// liquidate closes every open position at the date's quotes. A position
// that cannot be closed is logged and journaled, never fatal: its shares
// stay on the book and the rebalance continues.
func (e *Engine) liquidate(ctx context.Context, date time.Time) {
	for _, pos := range e.ledger.Positions() {
		// Closed rows persist with quantity zero; there is nothing to trade.
		if pos.Quantity == 0 {
			continue
		}

		var (
			res executor.Result
			err error
		)
		if pos.Quantity > 0 {
			res, err = e.executor.SellAll(pos.Symbol, date)
		} else {
			res, err = e.executor.CoverAll(pos.Symbol, date)
		}
		if err != nil {
			e.logger.Printf("Engine | Failed to liquidate %s on %s: %v", pos.Symbol, date.Format("2006-01-02"), err)
			e.journalEvent(ctx, journal.Event{
				Time:        date,
				Type:        journal.TypeError,
				Description: fmt.Sprintf("liquidation of %s failed: %v", pos.Symbol, err),
			})
			continue
		}
		e.recordFill(ctx, res)
	}
}

// placeOrders deploys budget across candidates in proportion to their
// position-size weights.
func (e *Engine) placeOrders(ctx context.Context, date time.Time, cands []sizer.Candidate, budget decimal.Decimal, place func(decimal.Decimal, string, time.Time) (executor.Result, error)) int {
	placed := 0
	for _, c := range cands {
		amount := budget.Mul(decimal.NewFromFloat(c.PosSizeWeight))
		if !amount.IsPositive() {
			continue
		}

		res, err := place(amount, c.Symbol, date)
		if err != nil {
			e.logger.Printf("Engine | Order for %s on %s failed: %v", c.Symbol, date.Format("2006-01-02"), err)
			e.journalEvent(ctx, journal.Event{
				Time:        date,
				Type:        journal.TypeError,
				Description: fmt.Sprintf("order for %s failed: %v", c.Symbol, err),
			})
			continue
		}

		e.recordFill(ctx, res)
		if res.Quantity != 0 {
			placed++
		}
	}
	return placed
}

func (e *Engine) recordFill(ctx context.Context, res executor.Result) {
	e.trades = append(e.trades, res)
	e.journalEvent(ctx, journal.Event{
		Time:        res.Date,
		Type:        journal.TypeOrder,
		Description: fmt.Sprintf("%s %d %s @ %s", res.Type, res.Quantity, res.Symbol, res.FillPrice.String()),
		Data: map[string]any{
			"symbol":     res.Symbol,
			"type":       string(res.Type),
			"quantity":   res.Quantity,
			"fill_price": res.FillPrice.String(),
			"transfer":   res.TransferAmount.String(),
			"commission": res.Commission.String(),
		},
	})
}

func (e *Engine) journalEvent(ctx context.Context, event journal.Event) {
	if e.journal == nil {
		return
	}
	if err := e.journal.LogEvent(ctx, event); err != nil {
		e.logger.Printf("Engine | Failed to journal event: %v", err)
	}
}

func (e *Engine) logSummary() {
	if len(e.history) == 0 {
		return
	}
	first := e.history[0]
	last := e.history[len(e.history)-1]

	retPct := decimal.Zero
	if first.AccountValue.IsPositive() {
		retPct = last.AccountValue.Sub(first.AccountValue).Div(first.AccountValue).Mul(decimal.NewFromInt(100))
	}

	e.logger.Printf("Engine | Run complete: %d rebalances, %d fills, account %s -> %s (%s%%)",
		len(e.history), len(e.trades),
		first.AccountValue.StringFixed(2), last.AccountValue.StringFixed(2), retPct.StringFixed(2))
}

// writeOutputs saves the equity curve and trade log as timestamped CSVs.
func (e *Engine) writeOutputs() error {
	if e.cfg.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("engine: creating output dir: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102_150405")

	historyRows := [][]string{{"date", "account_value", "cash", "long_value", "short_value", "orders"}}
	for _, h := range e.history {
		historyRows = append(historyRows, []string{
			h.Date.Format("2006-01-02"),
			h.AccountValue.StringFixed(2),
			h.Cash.StringFixed(2),
			h.LongValue.StringFixed(2),
			h.ShortValue.StringFixed(2),
			fmt.Sprintf("%d", h.Orders),
		})
	}

	tradeRows := [][]string{{"date", "symbol", "type", "quantity", "fill_price", "transfer", "commission"}}
	for _, t := range e.trades {
		tradeRows = append(tradeRows, []string{
			t.Date.Format("2006-01-02"),
			t.Symbol,
			string(t.Type),
			fmt.Sprintf("%d", t.Quantity),
			t.FillPrice.String(),
			t.TransferAmount.String(),
			t.Commission.String(),
		})
	}

	historyPath := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("history_%s.csv", stamp))
	if err := saveCSV(historyPath, historyRows); err != nil {
		return err
	}
	tradesPath := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("trades_%s.csv", stamp))
	if err := saveCSV(tradesPath, tradeRows); err != nil {
		return err
	}

	e.logger.Printf("Engine | Wrote %s and %s", historyPath, tradesPath)
	return nil
}

// saveCSV saves data to a CSV file
func saveCSV(filename string, rows [][]string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("error creating CSV file %s: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("error writing CSV row to %s: %w", filename, err)
		}
	}
	return nil
}
