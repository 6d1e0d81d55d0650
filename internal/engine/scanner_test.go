package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tws-bridge/internal/model"
)

func TestRank(t *testing.T) {
	stats := func() []sessionStat {
		return []sessionStat{
			{symbol: "A", last: 10, change: 1.5, volume: 100},
			{symbol: "B", last: 200, change: -3, volume: 50},
			{symbol: "C", last: 5, change: 4, volume: 900},
		}
	}
	symbols := func(ss []sessionStat) []string {
		out := make([]string, len(ss))
		for i, s := range ss {
			out[i] = s.symbol
		}
		return out
	}

	tests := []struct {
		code string
		want []string
	}{
		{ScanTopPercGain, []string{"C", "A", "B"}},
		{ScanTopPercLose, []string{"B", "A", "C"}},
		{ScanHotByVolume, []string{"C", "A", "B"}},
		{ScanMostActive, []string{"B", "C", "A"}},
		{"HIGH_OPT_IMP_VOLAT", []string{"A", "B", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ss := stats()
			rank(tt.code, ss)
			assert.Equal(t, tt.want, symbols(ss))
		})
	}
}

func TestScanRowsAndFilter(t *testing.T) {
	s := New(testEndpoint, Config{ScannerRows: 50})

	sr := s.scan(model.StartScanner{ReqID: 1, ScanCode: ScanTopPercGain, PriceAbove: 5})
	assert.Equal(t, 1, sr.ReqID)
	require.Len(t, sr.Items, 50)

	seen := make(map[string]bool)
	for i, it := range sr.Items {
		assert.Equal(t, i, it.Rank)
		assert.False(t, seen[it.Symbol], "duplicate %s", it.Symbol)
		seen[it.Symbol] = true
	}

	none := s.scan(model.StartScanner{ReqID: 2, PriceAbove: 1e6})
	assert.Empty(t, none.Items)
}

func TestConIDStable(t *testing.T) {
	assert.Equal(t, conID("AAPL"), conID("AAPL"))
	assert.NotEqual(t, conID("AAPL"), conID("MSFT"))
	assert.GreaterOrEqual(t, conID("AAPL"), int64(100_000))
}
