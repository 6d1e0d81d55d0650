package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tws-bridge/internal/bridge"
	"tws-bridge/internal/model"
)

// slicePoller hands out prebuilt records and counts releases through the callback.
type slicePoller struct {
	recs     []bridge.Record
	released int
}

func (p *slicePoller) Next(fn func(rec *bridge.Record) error) (bool, error) {
	if len(p.recs) == 0 {
		return false, nil
	}
	rec := p.recs[0]
	p.recs = p.recs[1:]
	defer func() {
		rec.Release()
		p.released++
	}()
	return true, fn(&rec)
}

func accountRecord(key, value string) bridge.Record {
	av := &bridge.AccountValue{}
	copy(av.Key[:len(av.Key)-1], key)
	copy(av.Value[:len(av.Value)-1], value)
	copy(av.Currency[:], "USD")
	return bridge.Record{Kind: bridge.KindAccountValue, Data: av}
}

func TestRecent(t *testing.T) {
	r := NewRecent(3)
	assert.Empty(t, r.Snapshot(0))

	for _, s := range []string{"1", "2", "3", "4"} {
		r.Add(json.RawMessage(s))
	}
	assert.Equal(t, []json.RawMessage{json.RawMessage("2"), json.RawMessage("3"), json.RawMessage("4")}, r.Snapshot(0))
	assert.Equal(t, []json.RawMessage{json.RawMessage("4")}, r.Snapshot(1))
	assert.Len(t, r.Snapshot(10), 3)
}

func TestPumpDrain(t *testing.T) {
	poller := &slicePoller{recs: []bridge.Record{
		accountRecord("NetLiquidation", "100000.00"),
		accountRecord("BuyingPower", "400000.00"),
	}}
	recent := NewRecent(8)

	var sunk []string
	sink := func(_ context.Context, rec *bridge.Record) error {
		av, ok := rec.AccountValue()
		require.True(t, ok)
		sunk = append(sunk, bridge.Text(av.Key[:]))
		return nil
	}
	failing := func(context.Context, *bridge.Record) error { return errors.New("broker down") }

	p := NewPump(poller, NewHub(zap.NewNop()), recent, time.Millisecond, nil, sink, failing)
	assert.Equal(t, 2, p.Drain(context.Background()))
	assert.Equal(t, 0, p.Drain(context.Background()))

	assert.Equal(t, []string{"NetLiquidation", "BuyingPower"}, sunk)
	assert.Equal(t, 2, poller.released)

	snap := recent.Snapshot(0)
	require.Len(t, snap, 2)
	var first struct {
		Kind string `json:"kind"`
		Data struct {
			Key      string `json:"key"`
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(snap[0], &first))
	assert.Equal(t, "account_value", first.Kind)
	assert.Equal(t, "NetLiquidation", first.Data.Key)
	assert.Equal(t, "USD", first.Data.Currency)
}

func TestPumpRunStopsOnCancel(t *testing.T) {
	poller := &slicePoller{recs: []bridge.Record{accountRecord("NetLiquidation", "1")}}
	recent := NewRecent(4)
	p := NewPump(poller, nil, recent, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(recent.Snapshot(0)) == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleUpgrade(ctx, w, r)
	}))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast("scanner_result", map[string]int{"reqId": 1})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg model.WSMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "scanner_result", msg.Type)
	assert.Equal(t, map[string]any{"reqId": float64(1)}, msg.Data)
}

func TestLimiterStore(t *testing.T) {
	unlimited := newLimiterStore(0, 0)
	for range 100 {
		require.True(t, unlimited.allow("10.0.0.1"))
	}

	s := newLimiterStore(60, 1)
	assert.True(t, s.allow("10.0.0.1"))
	assert.False(t, s.allow("10.0.0.1"))
	assert.True(t, s.allow("10.0.0.2"), "limits are per client")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientKey(r))
	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", clientKey(r))
}
