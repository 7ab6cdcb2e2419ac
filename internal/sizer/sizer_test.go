package sizer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/gold-backtester/internal/quote"
	"github.com/amirphl/gold-backtester/internal/signal"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var barDays = []time.Time{
	day(2024, 3, 1),
	day(2024, 3, 4),
	day(2024, 3, 5),
	day(2024, 3, 6),
	day(2024, 3, 7),
}

// flatBars builds bars with a constant close and a constant daily range, so
// the ATR equals the range exactly.
func flatBars(symbol string, close, rng float64, days []time.Time) []quote.Bar {
	bars := make([]quote.Bar, len(days))
	for i, d := range days {
		bars[i] = quote.Bar{
			Symbol: symbol,
			Date:   d,
			Open:   close,
			High:   close + rng/2,
			Low:    close - rng/2,
			Close:  close,
			Volume: 1000,
		}
	}
	return bars
}

func loadTable(t *testing.T, content string) *signal.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	table, err := signal.LoadTable(path)
	require.NoError(t, err)
	return table
}

// Quote universe: AAA and BBB share the same normalized volatility, CCC is
// twice as volatile, DDD has no bars at all, EEE is too young for the ATR
// window. GGG and HHH exist for the hedge book.
func testQuotes(t *testing.T) *quote.MemoryService {
	t.Helper()
	var bars []quote.Bar
	bars = append(bars, flatBars("AAA", 10, 1, barDays)...)
	bars = append(bars, flatBars("BBB", 20, 2, barDays)...)
	bars = append(bars, flatBars("CCC", 40, 8, barDays)...)
	bars = append(bars, flatBars("EEE", 30, 1, barDays[3:])...)
	bars = append(bars, flatBars("GGG", 50, 5, barDays)...)
	bars = append(bars, flatBars("HHH", 60, 3, barDays)...)
	return quote.NewMemoryService(bars, nil)
}

const signalsCSV = `date,AAA,BBB,CCC,DDD,EEE
2024-03-07,3,1,-1,5,4
`

func TestLongCandidates(t *testing.T) {
	quotes := testQuotes(t)
	signals := loadTable(t, signalsCSV)
	date := day(2024, 3, 7)

	t.Run("Positive mode weights", func(t *testing.T) {
		s := New(Config{Window: 3, Mode: ModePositive}, quotes, signals, nil, nil)

		cands := s.LongCandidates(date)
		require.Len(t, cands, 2, "DDD has no quotes and EEE has too little history")

		bySym := map[string]Candidate{}
		var sum float64
		for _, c := range cands {
			bySym[c.Symbol] = c
			sum += c.PosSizeWeight
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "position sizes must sum to 1")

		// AAA and BBB have equal normalized volatility, so the inverse-vol
		// legs are 0.5 each; the rank legs are 3/4 and 1/4.
		aaa, bbb := bySym["AAA"], bySym["BBB"]
		assert.InDelta(t, 0.625, aaa.PosSizeWeight, 1e-9)
		assert.InDelta(t, 0.375, bbb.PosSizeWeight, 1e-9)
		assert.InDelta(t, 0.75, aaa.RankWeight, 1e-9)
		assert.InDelta(t, 0.25, bbb.RankWeight, 1e-9)

		assert.InDelta(t, 1.0, aaa.ATR, 1e-9)
		assert.Equal(t, 10.0, aaa.Close)
		assert.Equal(t, day(2024, 3, 6), aaa.PrevDate)
		assert.Equal(t, 10.0, aaa.PrevClose)
	})

	t.Run("Bottom mode takes the lowest signals", func(t *testing.T) {
		s := New(Config{Window: 3, Mode: ModeBottom, ListSize: 2}, quotes, signals, nil, nil)

		cands := s.LongCandidates(date)
		require.Len(t, cands, 2)
		assert.Equal(t, "CCC", cands[0].Symbol)
		assert.Equal(t, "BBB", cands[1].Symbol)
	})

	t.Run("Top mode backfills past unquoted symbols", func(t *testing.T) {
		// DDD outranks everything but has no bars; it must not cost a
		// list slot, so the next-ranked quoted symbol takes its place.
		ranked := loadTable(t, "date,DDD,BBB,CCC\n2024-03-07,5,3,2\n")
		s := New(Config{Window: 3, Mode: ModeTop, ListSize: 2}, quotes, ranked, nil, nil)

		cands := s.LongCandidates(date)
		require.Len(t, cands, 2)
		assert.Equal(t, "BBB", cands[0].Symbol)
		assert.Equal(t, "CCC", cands[1].Symbol)
	})

	t.Run("Bottom mode backfills past unquoted symbols", func(t *testing.T) {
		ranked := loadTable(t, "date,DDD,BBB,CCC\n2024-03-07,-5,-3,-2\n")
		s := New(Config{Window: 3, Mode: ModeBottom, ListSize: 2}, quotes, ranked, nil, nil)

		cands := s.LongCandidates(date)
		require.Len(t, cands, 2)
		assert.Equal(t, "BBB", cands[0].Symbol)
		assert.Equal(t, "CCC", cands[1].Symbol)
	})

	t.Run("Top mode with a zero signal sum falls back to equal ranks", func(t *testing.T) {
		zeroSum := loadTable(t, "date,AAA,BBB\n2024-03-07,1,-1\n")
		s := New(Config{Window: 3, Mode: ModeTop, ListSize: 2}, quotes, zeroSum, nil, nil)

		cands := s.LongCandidates(date)
		require.Len(t, cands, 2)
		for _, c := range cands {
			assert.InDelta(t, 0.5, c.RankWeight, 1e-9)
		}
	})

	t.Run("No signal row yields no candidates", func(t *testing.T) {
		s := New(Config{Window: 3}, quotes, signals, nil, nil)
		assert.Nil(t, s.LongCandidates(day(2024, 3, 8)))
	})

	t.Run("Market cap filter drops without renormalizing", func(t *testing.T) {
		caps := loadTable(t, "date,AAA,BBB\n2024-03-07,1000,100\n")
		s := New(Config{Window: 3, Mode: ModePositive, MinMarketCap: 500}, quotes, signals, caps, nil)

		cands := s.LongCandidates(date)
		require.Len(t, cands, 1)
		assert.Equal(t, "AAA", cands[0].Symbol)
		assert.InDelta(t, 0.625, cands[0].PosSizeWeight, 1e-9,
			"weight computed before the filter must survive it")
		assert.Equal(t, 1000.0, cands[0].MarketCap)
	})
}

func TestHedgeCandidates(t *testing.T) {
	quotes := testQuotes(t)
	signals := loadTable(t, signalsCSV)
	date := day(2024, 3, 7)

	longs := []Candidate{{Symbol: "AAA"}}

	t.Run("Excludes long symbols and unquoted symbols", func(t *testing.T) {
		s := New(Config{Window: 3}, quotes, signals, nil, nil)

		cands := s.HedgeCandidates(date, []string{"GGG", "HHH", "AAA", "ZZZ"}, longs)
		require.Len(t, cands, 2)

		var sum float64
		for _, c := range cands {
			assert.NotEqual(t, "AAA", c.Symbol)
			assert.InDelta(t, 0.5, c.RankWeight, 1e-9, "hedge ranks are equal shares")
			sum += c.PosSizeWeight
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	})

	t.Run("Sorted by market cap and truncated", func(t *testing.T) {
		caps := loadTable(t, "date,GGG,HHH\n2024-03-07,10,50\n")
		s := New(Config{Window: 3, HedgeCount: 1, SortHedge: true}, quotes, signals, caps, nil)

		cands := s.HedgeCandidates(date, []string{"GGG", "HHH"}, nil)
		require.Len(t, cands, 1)
		assert.Equal(t, "HHH", cands[0].Symbol)
		assert.InDelta(t, 1.0, cands[0].PosSizeWeight, 1e-9)
	})

	t.Run("Empty universe is not an error", func(t *testing.T) {
		s := New(Config{Window: 3}, quotes, signals, nil, nil)
		assert.Empty(t, s.HedgeCandidates(date, nil, longs))
	})
}
