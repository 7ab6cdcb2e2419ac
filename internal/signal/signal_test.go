package signal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLoadTable(t *testing.T) {
	path := writeTemp(t, "signals.csv", `date,GLD,SLV,IAU
2024-03-04,1.5,-0.2,0.0
2024_03_05,2.0,,0.3
not-a-date,9.9,9.9,9.9
2024/03/06,0.5,0.1,bad
`)

	table, err := LoadTable(path)
	require.NoError(t, err)

	t.Run("Symbols come from the header", func(t *testing.T) {
		assert.Equal(t, []string{"GLD", "SLV", "IAU"}, table.Symbols())
	})

	t.Run("All three date layouts parse", func(t *testing.T) {
		assert.Equal(t, []time.Time{
			day(2024, 3, 4),
			day(2024, 3, 5),
			day(2024, 3, 6),
		}, table.Dates())
	})

	t.Run("Values", func(t *testing.T) {
		v, ok := table.Value(day(2024, 3, 4), "GLD")
		require.True(t, ok)
		assert.Equal(t, 1.5, v)

		v, ok = table.Value(day(2024, 3, 4), "SLV")
		require.True(t, ok)
		assert.Equal(t, -0.2, v)
	})

	t.Run("Blank and malformed cells load as zero", func(t *testing.T) {
		v, ok := table.Value(day(2024, 3, 5), "SLV")
		require.True(t, ok)
		assert.Zero(t, v)

		v, ok = table.Value(day(2024, 3, 6), "IAU")
		require.True(t, ok)
		assert.Zero(t, v)
	})

	t.Run("Unparseable date rows are dropped", func(t *testing.T) {
		assert.Len(t, table.Dates(), 3)
	})

	t.Run("Unknown date or symbol", func(t *testing.T) {
		_, ok := table.Value(day(2024, 3, 7), "GLD")
		assert.False(t, ok)

		_, ok = table.Value(day(2024, 3, 4), "XYZ")
		assert.False(t, ok)
	})

	t.Run("Row returns a copy", func(t *testing.T) {
		row, ok := table.Row(day(2024, 3, 4))
		require.True(t, ok)
		row["GLD"] = 99

		v, _ := table.Value(day(2024, 3, 4), "GLD")
		assert.Equal(t, 1.5, v)
	})

	t.Run("DatesFrom filters older rows", func(t *testing.T) {
		got := table.DatesFrom(day(2024, 3, 5))
		assert.Equal(t, []time.Time{day(2024, 3, 5), day(2024, 3, 6)}, got)
	})
}

func TestLoadTable_Errors(t *testing.T) {
	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadTable(filepath.Join(t.TempDir(), "nope.csv"))
		assert.Error(t, err)
	})

	t.Run("No symbol columns", func(t *testing.T) {
		path := writeTemp(t, "bad.csv", "date\n2024-03-04\n")
		_, err := LoadTable(path)
		assert.Error(t, err)
	})
}

func TestLoadSymbols(t *testing.T) {
	t.Run("Header row is skipped", func(t *testing.T) {
		path := writeTemp(t, "symbols.csv", "symbol\nGLD\nSLV\n\nIAU\n")
		syms, err := LoadSymbols(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"GLD", "SLV", "IAU"}, syms)
	})

	t.Run("Headerless list", func(t *testing.T) {
		path := writeTemp(t, "symbols.csv", "GLD\nSLV\n")
		syms, err := LoadSymbols(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"GLD", "SLV"}, syms)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadSymbols(filepath.Join(t.TempDir(), "nope.csv"))
		assert.Error(t, err)
	})
}
