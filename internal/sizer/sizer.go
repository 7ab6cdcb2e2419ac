// Package sizer
package sizer

import (
	"log"
	"sort"
	"time"

	"github.com/amirphl/gold-backtester/internal/quote"
	"github.com/amirphl/gold-backtester/internal/signal"
)

// Mode selects how long candidates are picked from the signal row.
type Mode string

const (
	// ModePositive keeps every symbol whose signal is positive.
	ModePositive Mode = "positive"
	// ModeTop keeps the ListSize symbols with the highest signals.
	ModeTop Mode = "top"
	// ModeBottom keeps the ListSize symbols with the lowest signals.
	ModeBottom Mode = "bottom"
)

// Candidate is one sized symbol for a rebalance date. PosSizeWeight sums to 1
// across a result set.
type Candidate struct {
	Symbol           string
	Signal           float64
	PrevDate         time.Time
	PrevClose        float64
	Close            float64
	ATR              float64
	Volatility       float64
	InverseVolWeight float64
	RankWeight       float64
	PosSizeWeight    float64
	MarketCap        float64
}

// Config tunes candidate selection and weighting.
type Config struct {
	Window       int  // ATR window length
	Mode         Mode // long-candidate selection mode
	ListSize     int  // top/bottom list length; 0 means unbounded
	MinMarketCap float64
	HedgeCount   int  // hedge book size; 0 means all remaining symbols
	SortHedge    bool // sort the hedge universe by market cap descending
}

// Sizer produces volatility- and signal-rank-weighted candidate sets. It
// never touches the ledger: the driver decides what to do with the weights.
type Sizer struct {
	cfg        Config
	quotes     quote.Service
	signals    *signal.Table
	marketCaps *signal.Table // may be nil: no market-cap data
	logger     *log.Logger
}

// New creates a sizer. marketCaps may be nil, which disables the market-cap
// filter and hedge sorting.
func New(cfg Config, quotes quote.Service, signals *signal.Table, marketCaps *signal.Table, logger *log.Logger) *Sizer {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePositive
	}
	return &Sizer{cfg: cfg, quotes: quotes, signals: signals, marketCaps: marketCaps, logger: logger}
}

// LongCandidates selects and weights the long book for a date. An empty
// result is valid: it means nothing qualified.
func (s *Sizer) LongCandidates(date time.Time) []Candidate {
	row, ok := s.signals.Row(date)
	if !ok {
		s.logger.Printf("Sizer | No signal row for %s", date.Format("2006-01-02"))
		return nil
	}

	selected := s.selectSymbols(date, row)

	cands := s.buildCandidates(date, selected, row)
	s.weight(cands, true)
	cands = s.filterMarketCap(date, cands)

	if len(cands) == 0 {
		s.logger.Printf("Sizer | WARNING: no valid long candidates for %s", date.Format("2006-01-02"))
	}
	return cands
}

// HedgeCandidates selects and weights the hedge book: every universe symbol
// not already in the long set with a valid quote on the date, optionally
// sorted by market cap descending and truncated to HedgeCount. Hedge symbols
// carry no signal, so rank weights are equal shares.
func (s *Sizer) HedgeCandidates(date time.Time, universe []string, exclude []Candidate) []Candidate {
	excluded := make(map[string]struct{}, len(exclude))
	for _, c := range exclude {
		excluded[c.Symbol] = struct{}{}
	}

	var symbols []string
	for _, sym := range universe {
		if _, ok := excluded[sym]; ok {
			continue
		}
		if _, ok := s.quotes.Close(sym, date); !ok {
			s.logger.Printf("Sizer | Skipping hedge symbol %s: no quote on %s", sym, date.Format("2006-01-02"))
			continue
		}
		symbols = append(symbols, sym)
	}

	if s.cfg.SortHedge && s.marketCaps != nil {
		sort.SliceStable(symbols, func(i, j int) bool {
			ci, _ := s.marketCaps.Value(date, symbols[i])
			cj, _ := s.marketCaps.Value(date, symbols[j])
			return ci > cj
		})
	}
	if s.cfg.HedgeCount > 0 && len(symbols) > s.cfg.HedgeCount {
		symbols = symbols[:s.cfg.HedgeCount]
	}

	cands := s.buildCandidates(date, symbols, nil)
	s.weight(cands, false)

	if len(cands) == 0 {
		s.logger.Printf("Sizer | WARNING: no valid hedge symbols for %s", date.Format("2006-01-02"))
	}
	return cands
}

// selectSymbols applies the configured selection mode to a signal row. The
// ranked modes drop symbols without a quote on the date before truncating,
// so a quoteless symbol high in the ranking never costs a list slot.
func (s *Sizer) selectSymbols(date time.Time, row map[string]float64) []string {
	type entry struct {
		sym string
		sig float64
	}
	entries := make([]entry, 0, len(row))
	for sym, sig := range row {
		if s.cfg.Mode == ModeTop || s.cfg.Mode == ModeBottom {
			if _, ok := s.quotes.Close(sym, date); !ok {
				s.logger.Printf("Sizer | Skipping %s: no quote on %s", sym, date.Format("2006-01-02"))
				continue
			}
		}
		entries = append(entries, entry{sym, sig})
	}
	// Deterministic order before any truncation.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].sig != entries[j].sig {
			return entries[i].sig > entries[j].sig
		}
		return entries[i].sym < entries[j].sym
	})

	var out []string
	switch s.cfg.Mode {
	case ModeTop:
		for i, e := range entries {
			if s.cfg.ListSize > 0 && i >= s.cfg.ListSize {
				break
			}
			out = append(out, e.sym)
		}
	case ModeBottom:
		for i := len(entries) - 1; i >= 0; i-- {
			if s.cfg.ListSize > 0 && len(out) >= s.cfg.ListSize {
				break
			}
			out = append(out, entries[i].sym)
		}
	default: // ModePositive
		for _, e := range entries {
			if e.sig <= 0 {
				break
			}
			out = append(out, e.sym)
		}
	}
	return out
}

// buildCandidates fills the per-symbol market data. Symbols with a missing
// quote, previous date, or too little ATR history are dropped with a log
// line, never an error. signals may be nil (hedge book).
func (s *Sizer) buildCandidates(date time.Time, symbols []string, signals map[string]float64) []Candidate {
	var cands []Candidate
	for _, sym := range symbols {
		close, ok := s.quotes.Close(sym, date)
		if !ok {
			s.logger.Printf("Sizer | Skipping %s: no quote on %s", sym, date.Format("2006-01-02"))
			continue
		}

		prevDate, ok := s.quotes.PreviousTradingDate(sym, date)
		if !ok {
			s.logger.Printf("Sizer | Skipping %s: no previous trading date before %s", sym, date.Format("2006-01-02"))
			continue
		}
		prevClose, _ := s.quotes.Close(sym, prevDate)

		atr, ok := s.quotes.AverageTrueRange(sym, date, s.cfg.Window)
		if !ok {
			s.logger.Printf("Sizer | Skipping %s: fewer than %d bars of history on %s", sym, s.cfg.Window+1, date.Format("2006-01-02"))
			continue
		}

		c := Candidate{
			Symbol:    sym,
			PrevDate:  prevDate,
			PrevClose: prevClose,
			Close:     close,
			ATR:       atr,
		}
		if signals != nil {
			c.Signal = signals[sym]
		}
		if s.marketCaps != nil {
			c.MarketCap, _ = s.marketCaps.Value(date, sym)
		}
		cands = append(cands, c)
	}
	return cands
}

// weight computes normalized volatility, the inverse-volatility weight, the
// rank weight, and their normalized sum. With byRank false (hedge book) the
// rank shares are equal.
func (s *Sizer) weight(cands []Candidate, byRank bool) {
	if len(cands) == 0 {
		return
	}

	vols := make([]float64, len(cands))
	for i, c := range cands {
		vols[i] = c.ATR / c.Close
	}
	normalize(vols)

	invVols := make([]float64, len(cands))
	for i, v := range vols {
		if v > 0 {
			invVols[i] = 1 / (v * 100)
		}
	}
	normalize(invVols)

	ranks := make([]float64, len(cands))
	if byRank {
		var sum float64
		for _, c := range cands {
			sum += c.Signal
		}
		if sum != 0 {
			for i, c := range cands {
				ranks[i] = c.Signal / sum
			}
		} else {
			for i := range ranks {
				ranks[i] = 1 / float64(len(cands))
			}
		}
	} else {
		for i := range ranks {
			ranks[i] = 1 / float64(len(cands))
		}
	}

	posSizes := make([]float64, len(cands))
	for i := range cands {
		posSizes[i] = invVols[i] + ranks[i]
	}
	normalize(posSizes)

	for i := range cands {
		cands[i].Volatility = vols[i]
		cands[i].InverseVolWeight = invVols[i]
		cands[i].RankWeight = ranks[i]
		cands[i].PosSizeWeight = posSizes[i]
	}
}

// filterMarketCap drops candidates below the threshold after weighting. The
// remaining weights are intentionally not re-normalized here; that call
// belongs to the driver.
func (s *Sizer) filterMarketCap(date time.Time, cands []Candidate) []Candidate {
	if s.cfg.MinMarketCap <= 0 || s.marketCaps == nil {
		return cands
	}

	out := cands[:0]
	for _, c := range cands {
		if c.MarketCap < s.cfg.MinMarketCap {
			s.logger.Printf("Sizer | Dropping %s: market cap %.1f below %.1f", c.Symbol, c.MarketCap, s.cfg.MinMarketCap)
			continue
		}
		out = append(out, c)
	}
	return out
}

// normalize scales xs in place so they sum to 1. A zero sum leaves xs alone.
func normalize(xs []float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	if sum == 0 {
		return
	}
	for i := range xs {
		xs[i] /= sum
	}
}
