package engine

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"time"

	"tws-bridge/internal/model"
)

const (
	maxBars = 5000

	rthSessionSeconds  = 23400 // 09:30-16:00
	fullSessionSeconds = 57600 // 04:00-20:00

	dailyLayout    = "20060102"
	intradayLayout = "20060102 15:04:05"
)

var whatToShow = map[string]bool{
	"TRADES":                    true,
	"MIDPOINT":                  true,
	"BID":                       true,
	"ASK":                       true,
	"BID_ASK":                   true,
	"ADJUSTED_LAST":             true,
	"HISTORICAL_VOLATILITY":     true,
	"OPTION_IMPLIED_VOLATILITY": true,
}

// span is a parsed duration string such as "1 Y" or "30 D".
type span struct {
	n    int
	unit byte // S, D, W, M or Y
}

func parseDuration(s string) (span, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return span{}, fmt.Errorf("invalid duration %q", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return span{}, fmt.Errorf("invalid duration %q", s)
	}
	unit := strings.ToUpper(fields[1])
	if len(unit) != 1 || !strings.Contains("SDWMY", unit) {
		return span{}, fmt.Errorf("invalid duration unit %q", fields[1])
	}
	return span{n: n, unit: unit[0]}, nil
}

func (sp span) tradingDays() int {
	switch sp.unit {
	case 'D':
		return sp.n
	case 'W':
		return 5 * sp.n
	case 'M':
		return 21 * sp.n
	case 'Y':
		return 252 * sp.n
	}
	return 0
}

// barSize is either an intraday width in seconds or a width in trading days.
type barSize struct {
	seconds int
	days    int
}

func parseBarSize(s string) (barSize, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return barSize{}, fmt.Errorf("invalid bar size %q", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return barSize{}, fmt.Errorf("invalid bar size %q", s)
	}
	switch strings.TrimSuffix(strings.ToLower(fields[1]), "s") {
	case "sec":
		return barSize{seconds: n}, nil
	case "min":
		return barSize{seconds: 60 * n}, nil
	case "hour":
		return barSize{seconds: 3600 * n}, nil
	case "day":
		return barSize{days: n}, nil
	case "week":
		return barSize{days: 5 * n}, nil
	case "month":
		return barSize{days: 21 * n}, nil
	}
	return barSize{}, fmt.Errorf("invalid bar size unit %q", fields[1])
}

// barCount returns how many bars of bs fit in sp. useRTH selects the regular
// trading session length for intraday bars.
func barCount(sp span, bs barSize, useRTH int) int {
	if bs.days > 0 {
		return sp.tradingDays() / bs.days
	}
	session := fullSessionSeconds
	if useRTH == 1 {
		session = rthSessionSeconds
	}
	seconds := sp.n
	if sp.unit != 'S' {
		seconds = sp.tradingDays() * session
	}
	return seconds / bs.seconds
}

// parseEnd accepts "yyyymmdd hh:mm:ss" with an optional trailing time zone,
// "yyyymmdd-hh:mm:ss" or "yyyymmdd". Empty means now.
func parseEnd(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, nil
	}
	fields := strings.Fields(s)
	if len(fields) > 2 {
		fields = fields[:2]
	}
	s = strings.Join(fields, " ")
	for _, layout := range []string{intradayLayout, "20060102-15:04:05", dailyLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid end date %q", s)
}

// history synthesizes the bars for a request. On failure it returns the error code
// to report alongside the error.
func (s *Sim) history(c model.RequestHistoricalData) (model.HistoricalDataEvent, int, error) {
	if c.Symbol == "" {
		return model.HistoricalDataEvent{}, CodeInvalidRequest, errors.New("symbol must not be empty")
	}
	if !whatToShow[c.WhatToShow] {
		return model.HistoricalDataEvent{}, CodeInvalidRequest, fmt.Errorf("invalid what to show %q", c.WhatToShow)
	}
	sp, err := parseDuration(c.DurationStr)
	if err != nil {
		return model.HistoricalDataEvent{}, CodeInvalidRequest, err
	}
	bs, err := parseBarSize(c.BarSizeSetting)
	if err != nil {
		return model.HistoricalDataEvent{}, CodeInvalidRequest, err
	}
	end, err := parseEnd(c.EndDateTime, time.Now())
	if err != nil {
		return model.HistoricalDataEvent{}, CodeInvalidRequest, err
	}

	n := barCount(sp, bs, c.UseRTH)
	switch {
	case n == 0:
		return model.HistoricalDataEvent{}, CodeNoData, errors.New("HMDS query returned no data")
	case n > maxBars:
		return model.HistoricalDataEvent{}, CodeNoData, fmt.Errorf("request for %d bars exceeds %d", n, maxBars)
	}

	return model.HistoricalDataEvent{
		ReqID:   c.ReqID,
		Symbol:  c.Symbol,
		Candles: s.walk(c.Symbol, barTimes(end, bs, n)),
	}, 0, nil
}

// barTimes returns n bar labels ending at end, oldest first. Daily bars skip weekends.
func barTimes(end time.Time, bs barSize, n int) []string {
	out := make([]string, n)
	t := end
	for i := n - 1; i >= 0; i-- {
		if bs.days > 0 {
			for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
				t = t.AddDate(0, 0, -1)
			}
			out[i] = t.Format(dailyLayout)
			for range bs.days {
				t = t.AddDate(0, 0, -1)
				for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
					t = t.AddDate(0, 0, -1)
				}
			}
			continue
		}
		out[i] = t.Format(intradayLayout)
		t = t.Add(-time.Duration(bs.seconds) * time.Second)
	}
	return out
}

// walk produces a random-walk candle series anchored at the symbol's base price.
func (s *Sim) walk(symbol string, dates []string) []model.Candle {
	candles := make([]model.Candle, len(dates))
	last := basePrice(symbol)
	for i, date := range dates {
		open := last
		closePx := math.Max(0.01, open*(1+s.rng.NormFloat64()*0.01))
		high := math.Max(open, closePx) * (1 + math.Abs(s.rng.NormFloat64())*0.004)
		low := math.Min(open, closePx) * (1 - math.Abs(s.rng.NormFloat64())*0.004)
		candles[i] = model.Candle{
			Date:   date,
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(closePx),
			Volume: 100_000 + s.rng.Int64N(900_000),
		}
		last = closePx
	}
	return candles
}

// basePrice maps a symbol to a stable price between 20 and 520.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return 20 + float64(h.Sum32()%50000)/100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
