// Package fetch downloads daily OHLCV bars over HTTP and stores them.
package fetch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/gold-backtester/internal/db"
	"github.com/amirphl/gold-backtester/internal/quote"
)

// Config controls the downloader.
type Config struct {
	// BaseURL is the CSV endpoint. %s is replaced with the lowercased symbol.
	BaseURL           string
	ProxyURL          string
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RequestInterval   time.Duration
	PerRequestTimeout time.Duration
}

// DefaultConfig returns settings safe against public-endpoint rate limits.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://stooq.com/q/d/l/?s=%s&i=d",
		RetryMaxAttempts:  3,
		RetryBaseDelay:    2 * time.Second,
		RetryMaxDelay:     15 * time.Second,
		RequestInterval:   2 * time.Second,
		PerRequestTimeout: 30 * time.Second,
	}
}

// Fetcher downloads bars for a list of symbols and saves them through a
// db.Storage.
type Fetcher struct {
	cfg     Config
	storage db.Storage
	logger  *log.Logger
}

func New(cfg Config, storage db.Storage, logger *log.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fetch: base URL is required")
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{cfg: cfg, storage: storage, logger: logger}, nil
}

// FetchAndStore downloads every symbol in order, rate limited by
// RequestInterval, and upserts the bars. A symbol that fails after all
// retries is logged and skipped so one bad ticker does not sink the run.
// It returns the number of symbols stored successfully.
func (f *Fetcher) FetchAndStore(ctx context.Context, symbols []string) (int, error) {
	ticker := time.NewTicker(f.cfg.RequestInterval)
	defer ticker.Stop()

	stored := 0
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return stored, fmt.Errorf("fetch cancelled: %w", ctx.Err())
		}
		select {
		case <-ctx.Done():
			return stored, fmt.Errorf("fetch cancelled: %w", ctx.Err())
		case <-ticker.C:
		}

		downloadCtx, cancel := context.WithTimeout(ctx, f.cfg.PerRequestTimeout)
		bars, err := f.downloadBarsWithRetry(downloadCtx, symbol)
		cancel()
		if err != nil {
			f.logger.Printf("Fetcher | Skipping %s: %v", symbol, err)
			continue
		}
		if len(bars) == 0 {
			f.logger.Printf("Fetcher | No bars returned for %s", symbol)
			continue
		}

		saveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = f.storage.SaveBars(saveCtx, bars)
		cancel()
		if err != nil {
			return stored, fmt.Errorf("error saving bars for %s: %w", symbol, err)
		}

		f.logger.Printf("Fetcher | Saved %d bars for %s", len(bars), symbol)
		stored++
	}
	return stored, nil
}

// downloadBarsWithRetry downloads one symbol's daily history with
// exponential backoff on network errors and retryable HTTP statuses.
func (f *Fetcher) downloadBarsWithRetry(ctx context.Context, symbol string) ([]quote.Bar, error) {
	const (
		backoffFactor = 2.0
		jitterRange   = 0.1 // ±10% jitter
	)

	apiURL := fmt.Sprintf(f.cfg.BaseURL, url.QueryEscape(strings.ToLower(symbol)))

	transport := &http.Transport{}
	if f.cfg.ProxyURL != "" {
		proxyParsed, err := url.Parse(f.cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyParsed)
	}

	client := &http.Client{
		Timeout:   f.cfg.PerRequestTimeout,
		Transport: transport,
	}

	var lastErr error
	for attempt := 0; attempt < f.cfg.RetryMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Accept", "text/csv")

		f.logger.Printf("Fetcher | Attempt %d/%d for %s", attempt+1, f.cfg.RetryMaxAttempts, symbol)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("network error on attempt %d: %w", attempt+1, err)
			f.logger.Printf("Fetcher | %v", lastErr)

			if attempt < f.cfg.RetryMaxAttempts-1 {
				if err := f.sleepBeforeRetry(ctx, attempt, backoffFactor, jitterRange); err != nil {
					return nil, err
				}
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			lastErr = fmt.Errorf("API error (status %d) on attempt %d: %s", resp.StatusCode, attempt+1, string(body))
			f.logger.Printf("Fetcher | %v", lastErr)

			if !isRetryableHTTPStatus(resp.StatusCode) {
				return nil, lastErr
			}
			if attempt < f.cfg.RetryMaxAttempts-1 {
				if err := f.sleepBeforeRetry(ctx, attempt, backoffFactor, jitterRange); err != nil {
					return nil, err
				}
			}
			continue
		}

		bars, err := parseBarsCSV(symbol, resp.Body, f.logger)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("CSV parse error on attempt %d: %w", attempt+1, err)
			f.logger.Printf("Fetcher | %v", lastErr)

			if attempt < f.cfg.RetryMaxAttempts-1 {
				if err := f.sleepBeforeRetry(ctx, attempt, backoffFactor, jitterRange); err != nil {
					return nil, err
				}
			}
			continue
		}

		f.logger.Printf("Fetcher | Successfully downloaded %d bars for %s on attempt %d", len(bars), symbol, attempt+1)
		return bars, nil
	}

	return nil, fmt.Errorf("failed to download bars after %d attempts, last error: %w", f.cfg.RetryMaxAttempts, lastErr)
}

func (f *Fetcher) sleepBeforeRetry(ctx context.Context, attempt int, backoffFactor, jitterRange float64) error {
	delay := calculateRetryDelay(attempt, f.cfg.RetryBaseDelay, f.cfg.RetryMaxDelay, backoffFactor, jitterRange)
	f.logger.Printf("Fetcher | Retrying in %v...", delay)

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// parseBarsCSV reads a Date,Open,High,Low,Close,Volume CSV body. Rows that
// fail validation are logged and skipped.
func parseBarsCSV(symbol string, r io.Reader, logger *log.Logger) ([]quote.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV has no data rows")
	}

	bars := make([]quote.Bar, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 6 {
			continue
		}

		date, err := time.Parse("2006-01-02", rec[0])
		if err != nil {
			logger.Printf("Fetcher | Error parsing date %q for %s: %v", rec[0], symbol, err)
			continue
		}

		parseNum := func(s string) float64 {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0
			}
			return f
		}

		b := quote.Bar{
			Symbol: strings.ToUpper(symbol),
			Date:   quote.Day(date),
			Open:   parseNum(rec[1]),
			High:   parseNum(rec[2]),
			Low:    parseNum(rec[3]),
			Close:  parseNum(rec[4]),
			Volume: parseNum(rec[5]),
		}
		if err := b.Validate(); err != nil {
			logger.Printf("Fetcher | Dropping bar %s %s: %v", symbol, rec[0], err)
			continue
		}

		bars = append(bars, b)
	}
	return bars, nil
}

// calculateRetryDelay calculates the delay for the next retry attempt with exponential backoff and jitter
func calculateRetryDelay(attempt int, baseDelay, maxDelay time.Duration, backoffFactor, jitterRange float64) time.Duration {
	delay := float64(baseDelay) * math.Pow(backoffFactor, float64(attempt))

	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	// Jitter range: ±jitterRange% of the delay
	jitter := delay * jitterRange * (2*rand.Float64() - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(baseDelay)
	}

	return time.Duration(delay)
}

// isRetryableHTTPStatus determines if an HTTP status code indicates a retryable error
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
