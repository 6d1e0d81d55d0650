package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tws-bridge/internal/bridge"
	"tws-bridge/internal/config"
	"tws-bridge/internal/model"
)

// collector accumulates drained events across polls.
type collector struct {
	mu     sync.Mutex
	s      *Sim
	events []model.Event
}

func (c *collector) poll() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, c.s.Drain()...)
	return c.events
}

func (c *collector) waitFor(t *testing.T, n int) []model.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.poll()) >= n }, 2*time.Second, 5*time.Millisecond)
	return c.poll()
}

func startSim(t *testing.T, cfg Config) (*Sim, *collector) {
	t.Helper()
	s := New(bridge.Endpoint{Host: "127.0.0.1", Port: 7497, ClientID: 3}, cfg)
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	t.Cleanup(func() {
		require.NoError(t, s.Submit(model.Disconnect{}))
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("run loop did not exit")
		}
	})
	return s, &collector{s: s}
}

func TestSimHistoricalData(t *testing.T) {
	s, c := startSim(t, Config{})
	<-s.Ready()

	require.NoError(t, s.Submit(model.RequestHistoricalData{
		ReqID: 100, Symbol: "AAPL", DurationStr: "1 M", BarSizeSetting: "1 day", WhatToShow: "TRADES", UseRTH: 1,
	}))
	require.NoError(t, s.Submit(model.RequestHistoricalData{
		ReqID: 101, Symbol: "MSFT", EndDateTime: "20240105 16:00:00", DurationStr: "1 Y", BarSizeSetting: "1 day", WhatToShow: "MIDPOINT", UseRTH: 1,
	}))

	events := c.waitFor(t, 2)
	hd, ok := events[0].(model.HistoricalDataEvent)
	require.True(t, ok)
	assert.Equal(t, 100, hd.ReqID)
	assert.Equal(t, "AAPL", hd.Symbol)
	assert.Len(t, hd.Candles, 21)
	for _, bar := range hd.Candles {
		assert.LessOrEqual(t, bar.Low, bar.Open)
		assert.LessOrEqual(t, bar.Low, bar.Close)
		assert.GreaterOrEqual(t, bar.High, bar.Open)
		assert.GreaterOrEqual(t, bar.High, bar.Close)
		assert.Positive(t, bar.Volume)
	}

	hd, ok = events[1].(model.HistoricalDataEvent)
	require.True(t, ok)
	require.Len(t, hd.Candles, 252)
	assert.Equal(t, "20240105", hd.Candles[251].Date)
	assert.Equal(t, "20240104", hd.Candles[250].Date)
}

func TestSimHistoricalDataErrors(t *testing.T) {
	s, c := startSim(t, Config{})
	<-s.Ready()

	reqs := []model.RequestHistoricalData{
		{ReqID: 1, Symbol: "", DurationStr: "1 D", BarSizeSetting: "1 day", WhatToShow: "TRADES"},
		{ReqID: 2, Symbol: "AAPL", DurationStr: "1 D", BarSizeSetting: "1 day", WhatToShow: "LAST"},
		{ReqID: 3, Symbol: "AAPL", DurationStr: "one year", BarSizeSetting: "1 day", WhatToShow: "TRADES"},
		{ReqID: 4, Symbol: "AAPL", DurationStr: "1 D", BarSizeSetting: "1 fortnight", WhatToShow: "TRADES"},
		{ReqID: 5, Symbol: "AAPL", DurationStr: "1 D", BarSizeSetting: "1 week", WhatToShow: "TRADES"},
		{ReqID: 6, Symbol: "AAPL", DurationStr: "1 Y", BarSizeSetting: "1 min", WhatToShow: "TRADES"},
		{ReqID: 7, Symbol: "AAPL", EndDateTime: "yesterday", DurationStr: "1 D", BarSizeSetting: "1 day", WhatToShow: "TRADES"},
	}
	for _, r := range reqs {
		require.NoError(t, s.Submit(r))
	}

	events := c.waitFor(t, len(reqs))
	want := []int{CodeInvalidRequest, CodeInvalidRequest, CodeInvalidRequest, CodeInvalidRequest, CodeNoData, CodeNoData, CodeInvalidRequest}
	for i, ev := range events[:len(reqs)] {
		e, ok := ev.(model.ErrorEvent)
		require.True(t, ok, "event %d is %T", i, ev)
		assert.Equal(t, reqs[i].ReqID, e.ReqID)
		assert.Equal(t, want[i], e.Code, "request %d", reqs[i].ReqID)
		assert.NotEmpty(t, e.Message)
	}
	assert.Equal(t, int64(len(reqs)), s.Status().Metrics.ErrorCount)
}

func TestSimHoldsCommandsUntilHandshake(t *testing.T) {
	s, c := startSim(t, Config{Handshake: 80 * time.Millisecond})

	require.NoError(t, s.Submit(model.RequestAccountData{AccountCode: "All"}))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.poll())
	assert.False(t, s.Status().Ready)

	events := c.waitFor(t, 1)
	assert.True(t, s.Status().Ready)
	summary, ok := events[0].(model.AccountSummaryEvent)
	require.True(t, ok)
	assert.Len(t, summary.AccountValues, 3)
	assert.Len(t, summary.Positions, 2)
}

func TestSimAccountData(t *testing.T) {
	extra := AccountFixture{
		ID:     "DU7654321",
		Values: []model.AccountValue{{Key: "NetLiquidation", Value: "2500.00", Currency: "EUR"}},
	}
	s, c := startSim(t, Config{Accounts: []AccountFixture{DefaultAccount(), extra}})
	<-s.Ready()

	require.NoError(t, s.Submit(model.RequestAccountData{AccountCode: "DU7654321"}))
	require.NoError(t, s.Submit(model.RequestAccountData{}))
	require.NoError(t, s.Submit(model.RequestAccountData{AccountCode: "DU0000000"}))

	events := c.waitFor(t, 3)
	one, ok := events[0].(model.AccountSummaryEvent)
	require.True(t, ok)
	require.Len(t, one.AccountValues, 1)
	assert.Equal(t, "DU7654321", one.AccountValues[0].AccountName)
	assert.Empty(t, one.Positions)

	all, ok := events[1].(model.AccountSummaryEvent)
	require.True(t, ok)
	assert.Len(t, all.AccountValues, 4)
	assert.Equal(t, "DU7654321", all.AccountValues[3].AccountName)

	e, ok := events[2].(model.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownAccount, e.Code)
	assert.Equal(t, -1, e.ReqID)
}

func TestSimScanner(t *testing.T) {
	s, c := startSim(t, Config{ScannerRows: 5})
	<-s.Ready()

	require.NoError(t, s.Submit(model.StartScanner{ReqID: 1, ScanCode: "TOP_PERC_GAIN", LocationCode: "STK.US", PriceAbove: 100}))
	events := c.waitFor(t, 1)
	sr, ok := events[0].(model.ScannerResult)
	require.True(t, ok)
	assert.Equal(t, 1, sr.ReqID)
	require.Len(t, sr.Items, 5)
	for i, it := range sr.Items {
		assert.Equal(t, i, it.Rank)
		assert.Greater(t, basePrice(it.Symbol), 100.0)
		assert.Equal(t, conID(it.Symbol), it.ConID)
		assert.Equal(t, "STK", it.SecType)
	}
	assert.Len(t, s.Store().Scanners(), 1)

	require.NoError(t, s.Submit(model.CancelScanner{ReqID: 1}))
	require.NoError(t, s.Submit(model.CancelScanner{ReqID: 1}))
	events = c.waitFor(t, 2)
	e, ok := events[1].(model.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownRequest, e.Code)
	assert.Empty(t, s.Store().Scanners())
}

func TestSimScannerRefresh(t *testing.T) {
	s, c := startSim(t, Config{ScannerInterval: 10 * time.Millisecond})
	<-s.Ready()

	require.NoError(t, s.Submit(model.StartScanner{ReqID: 9, ScanCode: "HOT_BY_VOLUME"}))
	events := c.waitFor(t, 3)
	for _, ev := range events {
		sr, ok := ev.(model.ScannerResult)
		require.True(t, ok)
		assert.Equal(t, 9, sr.ReqID)
	}
}

func TestSimSubmitAfterDisconnect(t *testing.T) {
	s := New(bridge.Endpoint{}, Config{})
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	<-s.Ready()

	assert.ErrorIs(t, s.Run(), ErrRunning)
	require.NoError(t, s.Submit(model.Disconnect{}))
	require.NoError(t, <-done)

	assert.ErrorIs(t, s.Submit(model.CancelScanner{ReqID: 1}), ErrDisconnected)
	assert.NoError(t, s.Submit(model.Disconnect{}))
	assert.NoError(t, s.Close())
}

func TestSimQueueFull(t *testing.T) {
	s := New(bridge.Endpoint{}, Config{CommandCapacity: 1})
	require.NoError(t, s.Submit(model.CancelScanner{ReqID: 1}))
	assert.ErrorIs(t, s.Submit(model.CancelScanner{ReqID: 2}), ErrEngineBusy)
	assert.Error(t, s.Submit(nil))
}

func TestSimDrivenByHandle(t *testing.T) {
	var sim *Sim
	h, err := bridge.Create(bridge.Endpoint{ClientID: 5},
		Factory(Config{}, nil, func(s *Sim) { sim = s }),
		bridge.WithAutoStart(true),
		bridge.WithJoinTimeout(2*time.Second),
	)
	require.NoError(t, err)
	require.NotNil(t, sim)
	require.NoError(t, h.Connect(t.Context()))

	require.NoError(t, h.RequestAccountData("All"))
	var kinds []bridge.Kind
	require.Eventually(t, func() bool {
		for {
			var rec bridge.Record
			if !h.Poll(&rec) {
				break
			}
			kinds = append(kinds, rec.Kind)
			rec.Release()
		}
		return len(kinds) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []bridge.Kind{
		bridge.KindAccountValue, bridge.KindAccountValue, bridge.KindAccountValue,
		bridge.KindPosition, bridge.KindPosition,
	}, kinds)
	require.NoError(t, h.Destroy())
	assert.Equal(t, int64(0), h.Ledger().Outstanding())
	assert.Equal(t, "127.0.0.1:7497/5", sim.Status().Endpoint)
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Sim.Accounts = []config.AccountConfig{{
		ID:     "DU42",
		Values: []model.AccountValue{{Key: "NetLiquidation", Value: "1.00", Currency: "USD"}},
	}}
	cfg.Sim.Seed = 9

	sc := ConfigFrom(cfg)
	assert.Equal(t, cfg.Sim.Handshake(), sc.Handshake)
	assert.Equal(t, cfg.Bridge.CommandCapacity, sc.CommandCapacity)
	assert.Equal(t, uint64(9), sc.Seed)
	require.Len(t, sc.Accounts, 1)
	assert.Equal(t, "DU42", sc.Accounts[0].ID)
}
