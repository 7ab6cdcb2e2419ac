package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/amirphl/gold-backtester/internal/config"
	"github.com/amirphl/gold-backtester/internal/db"
	"github.com/amirphl/gold-backtester/internal/engine"
	"github.com/amirphl/gold-backtester/internal/executor"
	"github.com/amirphl/gold-backtester/internal/fetch"
	"github.com/amirphl/gold-backtester/internal/ledger"
	"github.com/amirphl/gold-backtester/internal/quote"
	"github.com/amirphl/gold-backtester/internal/schedule"
	sig "github.com/amirphl/gold-backtester/internal/signal"
	"github.com/amirphl/gold-backtester/internal/sizer"
)

func main() {
	cfg := config.MustLoadConfig()
	log.Println("Starting Gold Backtester in mode:", cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("Received signal %v, shutting down...", s)
		cancel()
	}()

	storage, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	switch cfg.Mode {
	case "fetch":
		if err := runFetch(ctx, cfg, storage); err != nil {
			log.Fatalf("Fetch failed: %v", err)
		}
	case "backtest":
		if err := runBacktest(ctx, cfg, storage); err != nil {
			log.Fatalf("Backtest failed: %v", err)
		}
	default:
		log.Fatalf("Unknown mode %q (want fetch or backtest)", cfg.Mode)
	}
}

// openStorage picks Postgres when a connection string is configured and the
// in-memory store otherwise.
func openStorage(cfg config.Config) (db.Storage, error) {
	if cfg.DBConnStr == "" {
		log.Println("No DB connection string, using in-memory storage")
		return db.NewMemory(), nil
	}
	return db.New(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
}

func runFetch(ctx context.Context, cfg config.Config, storage db.Storage) error {
	symbols, err := sig.LoadSymbols(cfg.FetchSymbolsPath)
	if err != nil {
		return err
	}

	fetchCfg := fetch.DefaultConfig()
	fetchCfg.BaseURL = cfg.FetchBaseURL
	fetchCfg.ProxyURL = cfg.ProxyURL

	fetcher, err := fetch.New(fetchCfg, storage, log.Default())
	if err != nil {
		return err
	}

	stored, err := fetcher.FetchAndStore(ctx, symbols)
	if err != nil {
		return err
	}
	log.Printf("Fetched and stored bars for %d/%d symbols", stored, len(symbols))
	return nil
}

func runBacktest(ctx context.Context, cfg config.Config, storage db.Storage) error {
	signals, err := sig.LoadTable(cfg.SignalsPath)
	if err != nil {
		return err
	}

	var marketCaps *sig.Table
	if cfg.MarketCapsPath != "" {
		marketCaps, err = sig.LoadTable(cfg.MarketCapsPath)
		if err != nil {
			return err
		}
	}

	var hedgeSymbols []string
	if cfg.HedgeSymbolsPath != "" {
		hedgeSymbols, err = sig.LoadSymbols(cfg.HedgeSymbolsPath)
		if err != nil {
			return err
		}
	}

	quotes, err := quote.LoadService(ctx, storage, log.Default())
	if err != nil {
		return err
	}
	log.Printf("Loaded quotes for %d symbols", len(quotes.Symbols()))

	book := ledger.New(
		decimal.NewFromFloat(cfg.StartingCash),
		decimal.NewFromFloat(cfg.MarginPercent),
		quotes,
		log.Default(),
	)

	exec := executor.New(executor.Config{
		Slippage:              decimal.NewFromFloat(cfg.Slippage),
		CommissionPerShare:    decimal.NewFromFloat(cfg.CommissionPerShare),
		CommissionMin:         decimal.NewFromFloat(cfg.CommissionMin),
		CommissionMaxFraction: decimal.NewFromFloat(cfg.CommissionMaxFraction),
	}, book, quotes, log.Default())

	sz := sizer.New(sizer.Config{
		Window:       cfg.ATRWindow,
		Mode:         sizer.Mode(cfg.SelectionMode),
		ListSize:     cfg.ListSize,
		MinMarketCap: cfg.MinMarketCap,
		HedgeCount:   cfg.HedgeCount,
		SortHedge:    true,
	}, quotes, signals, marketCaps, log.Default())

	eng, err := engine.New(engine.Config{
		StartDay:      cfg.StartDayTime(),
		RebalPeriod:   schedule.Period(cfg.RebalPeriod),
		LongFraction:  cfg.LongFraction,
		HedgeFraction: cfg.HedgeFraction,
		HedgeSymbols:  hedgeSymbols,
		OutputDir:     cfg.OutputDir,
	}, book, exec, sz, signals, storage, log.Default())
	if err != nil {
		return err
	}

	return eng.Run(ctx)
}
