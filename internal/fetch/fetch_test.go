package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/gold-backtester/internal/db"
)

const goodCSV = `Date,Open,High,Low,Close,Volume
2024-03-04,10,11,9,10.5,1000
2024-03-05,10.5,12,10,11.5,1200
bad-date,1,1,1,1,1
2024-03-06,0,0,0,0,0
`

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL + "/daily?s=%s",
		RetryMaxAttempts:  3,
		RetryBaseDelay:    time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		RequestInterval:   time.Millisecond,
		PerRequestTimeout: time.Second,
	}
}

func TestFetchAndStore(t *testing.T) {
	t.Run("Parses and stores valid rows only", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(goodCSV))
		}))
		defer srv.Close()

		storage := db.NewMemory()
		f, err := New(testConfig(srv.URL), storage, nil)
		require.NoError(t, err)

		stored, err := f.FetchAndStore(context.Background(), []string{"gld"})
		require.NoError(t, err)
		assert.Equal(t, 1, stored)

		bars, err := storage.GetBars(context.Background(), "GLD")
		require.NoError(t, err)
		require.Len(t, bars, 2, "the bad-date and zero-price rows must be dropped")
		assert.Equal(t, "GLD", bars[0].Symbol)
		assert.Equal(t, 10.5, bars[0].Close)
		assert.Equal(t, 11.5, bars[1].Close)
	})

	t.Run("Retries a 503 and succeeds", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(goodCSV))
		}))
		defer srv.Close()

		storage := db.NewMemory()
		f, err := New(testConfig(srv.URL), storage, nil)
		require.NoError(t, err)

		stored, err := f.FetchAndStore(context.Background(), []string{"gld"})
		require.NoError(t, err)
		assert.Equal(t, 1, stored)
		assert.Equal(t, 2, calls)
	})

	t.Run("Does not retry a 404", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		storage := db.NewMemory()
		f, err := New(testConfig(srv.URL), storage, nil)
		require.NoError(t, err)

		stored, err := f.FetchAndStore(context.Background(), []string{"gld"})
		require.NoError(t, err, "a failed symbol is skipped, not fatal")
		assert.Equal(t, 0, stored)
		assert.Equal(t, 1, calls)
	})

	t.Run("A failing symbol does not block the rest", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("s") == "bad" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(goodCSV))
		}))
		defer srv.Close()

		storage := db.NewMemory()
		f, err := New(testConfig(srv.URL), storage, nil)
		require.NoError(t, err)

		stored, err := f.FetchAndStore(context.Background(), []string{"bad", "slv"})
		require.NoError(t, err)
		assert.Equal(t, 1, stored)

		syms, err := storage.Symbols(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"SLV"}, syms)
	})

	t.Run("Cancelled context stops the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		f, err := New(testConfig("http://127.0.0.1:1"), db.NewMemory(), nil)
		require.NoError(t, err)

		_, err = f.FetchAndStore(ctx, []string{"gld"})
		assert.Error(t, err)
	})
}

func TestNew(t *testing.T) {
	_, err := New(Config{}, db.NewMemory(), nil)
	assert.Error(t, err, "base URL is required")
}
