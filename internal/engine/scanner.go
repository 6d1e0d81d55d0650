package engine

import (
	"hash/fnv"
	"math"
	"slices"

	"tws-bridge/internal/model"
)

// universe is the symbol set the simulated scanner ranks.
var universe = []string{
	"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "META", "TSLA", "AVGO", "AMD", "NFLX",
	"ORCL", "CRM", "ADBE", "INTC", "CSCO", "QCOM", "TXN", "MU", "AMAT", "LRCX",
	"JPM", "BAC", "WFC", "GS", "MS", "C", "V", "MA", "AXP", "PYPL",
	"XOM", "CVX", "COP", "SLB", "OXY", "PFE", "MRK", "JNJ", "ABBV", "LLY",
	"UNH", "CVS", "KO", "PEP", "WMT", "COST", "HD", "LOW", "NKE", "SBUX",
	"DIS", "T", "VZ", "BA", "CAT", "DE", "GE", "F", "GM", "UBER",
	"PLTR", "SOFI", "RIVN", "COIN", "SHOP",
}

// Scan codes with a defined ordering. Any other code ranks in random order.
const (
	ScanTopPercGain = "TOP_PERC_GAIN"
	ScanTopPercLose = "TOP_PERC_LOSE"
	ScanHotByVolume = "HOT_BY_VOLUME"
	ScanMostActive  = "MOST_ACTIVE"
)

// sessionStat is one symbol's simulated session.
type sessionStat struct {
	symbol string
	last   float64
	change float64 // percent versus the base price
	volume int64
}

// session draws a fresh session for every candidate.
func (s *Sim) session(symbols []string) []sessionStat {
	out := make([]sessionStat, len(symbols))
	for i, sym := range symbols {
		base := basePrice(sym)
		last := math.Max(0.01, base*(1+s.rng.NormFloat64()*0.03))
		out[i] = sessionStat{
			symbol: sym,
			last:   round2(last),
			change: (last - base) / base * 100,
			volume: 500_000 + s.rng.Int64N(20_000_000),
		}
	}
	return out
}

// rank orders stats for scanCode, best first.
func rank(scanCode string, stats []sessionStat) {
	switch scanCode {
	case ScanTopPercGain:
		slices.SortStableFunc(stats, func(a, b sessionStat) int { return compareDesc(a.change, b.change) })
	case ScanTopPercLose:
		slices.SortStableFunc(stats, func(a, b sessionStat) int { return compareDesc(b.change, a.change) })
	case ScanHotByVolume:
		slices.SortStableFunc(stats, func(a, b sessionStat) int { return compareDesc(float64(a.volume), float64(b.volume)) })
	case ScanMostActive:
		slices.SortStableFunc(stats, func(a, b sessionStat) int {
			return compareDesc(float64(a.volume)*a.last, float64(b.volume)*b.last)
		})
	}
}

func compareDesc(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

// scan ranks the universe for one subscription. Symbols priced at or below
// PriceAbove are excluded and at most ScannerRows items are returned.
func (s *Sim) scan(sub model.StartScanner) model.ScannerResult {
	candidates := make([]string, 0, len(universe))
	for _, sym := range universe {
		if basePrice(sym) > sub.PriceAbove {
			candidates = append(candidates, sym)
		}
	}
	s.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	stats := s.session(candidates)
	rank(sub.ScanCode, stats)

	n := min(len(stats), s.cfg.ScannerRows)
	items := make([]model.ScannerItem, n)
	for i := range n {
		items[i] = model.ScannerItem{
			Rank:     i,
			ConID:    conID(stats[i].symbol),
			Symbol:   stats[i].symbol,
			SecType:  "STK",
			Currency: "USD",
		}
	}
	return model.ScannerResult{ReqID: sub.ReqID, Items: items}
}

// conID returns a stable contract id for a symbol.
func conID(symbol string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return int64(h.Sum64()%900_000_000) + 100_000
}
