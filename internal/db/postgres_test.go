package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/gold-backtester/internal/db/conf"
	"github.com/amirphl/gold-backtester/internal/journal"
	"github.com/amirphl/gold-backtester/internal/quote"
)

// These tests need a local Postgres; conf skips them when none is running.

func newPostgresStorage(t *testing.T) *Default {
	t.Helper()
	cfg, cleanup := conf.NewTestConfig(t)
	t.Cleanup(cleanup)
	return NewWithDB(cfg.DB)
}

func TestPostgres_Bars(t *testing.T) {
	p := newPostgresStorage(t)
	ctx := context.Background()

	bars := []quote.Bar{
		testBar("GLD", day(2024, 3, 5), 11),
		testBar("GLD", day(2024, 3, 4), 10),
		testBar("SLV", day(2024, 3, 4), 20),
	}
	require.NoError(t, p.SaveBars(ctx, bars))

	t.Run("GetBars returns the symbol sorted by date", func(t *testing.T) {
		got, err := p.GetBars(ctx, "GLD")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, day(2024, 3, 4), got[0].Date)
		assert.Equal(t, 10.0, got[0].Close)
		assert.Equal(t, day(2024, 3, 5), got[1].Date)
	})

	t.Run("Upsert overwrites the same day", func(t *testing.T) {
		require.NoError(t, p.SaveBars(ctx, []quote.Bar{testBar("GLD", day(2024, 3, 4), 99)}))

		got, err := p.GetBars(ctx, "GLD")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 99.0, got[0].Close)
	})

	t.Run("Range query", func(t *testing.T) {
		got, err := p.GetBarsRange(ctx, "GLD", day(2024, 3, 5), day(2024, 3, 5))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, day(2024, 3, 5), got[0].Date)
	})

	t.Run("Symbols", func(t *testing.T) {
		syms, err := p.Symbols(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"GLD", "SLV"}, syms)
	})

	t.Run("Invalid bar rejects the batch", func(t *testing.T) {
		bad := testBar("GLD", day(2024, 3, 6), 10)
		bad.High = bad.Low - 1
		assert.Error(t, p.SaveBars(ctx, []quote.Bar{bad}))
	})
}

func TestPostgres_Events(t *testing.T) {
	p := newPostgresStorage(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, p.LogEvent(ctx, journal.Event{
		Time:        now,
		Type:        journal.TypeOrder,
		Description: "buy 10 GLD",
		Data:        map[string]any{"symbol": "GLD", "quantity": 10},
	}))
	require.NoError(t, p.LogEvent(ctx, journal.Event{
		Time:        now,
		Type:        journal.TypeRebalance,
		Description: "weekly",
	}))

	got, err := p.GetEvents(ctx, journal.TypeOrder, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "buy 10 GLD", got[0].Description)
	assert.Equal(t, "GLD", got[0].Data["symbol"])
}
