package bridge

import (
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tws-bridge/internal/model"
)

func TestReadyBuffer(t *testing.T) {
	l := NewLedger()
	var b readyBuffer

	_, ok := b.pop()
	assert.False(t, ok)

	b.push(newRecord(l, KindAccountValue, &AccountValue{}, 1), newRecord(l, KindPosition, &Position{}, 1))
	rec, ok := b.pop()
	require.True(t, ok)
	assert.Equal(t, KindAccountValue, rec.Kind)
	rec.Release()

	b.push(newRecord(l, KindScannerResult, &ScannerResult{}, 1))
	assert.Equal(t, 2, b.len())
	rec, ok = b.pop()
	require.True(t, ok)
	assert.Equal(t, KindPosition, rec.Kind)
	rec.Release()

	assert.Equal(t, 1, b.flush())
	assert.Equal(t, 0, b.len())
	assert.Equal(t, int64(0), l.Outstanding())
	assert.Equal(t, 0, b.flush())
}

func TestEncoderDefaults(t *testing.T) {
	enc := NewEncoder(Defaults{WhatToShow: "MIDPOINT"})
	d := enc.Defaults()
	assert.Equal(t, DefaultDurationStr, d.DurationStr)
	assert.Equal(t, DefaultBarSizeSetting, d.BarSizeSetting)
	assert.Equal(t, "MIDPOINT", d.WhatToShow)
	assert.Equal(t, DefaultLocationCode, d.LocationCode)

	cmd := enc.HistoricalData(1, "SPY", "20240105 16:00:00", "5 D", "1 hour", "", 0)
	assert.Equal(t, "5 D", cmd.DurationStr)
	assert.Equal(t, "1 hour", cmd.BarSizeSetting)
	assert.Equal(t, "MIDPOINT", cmd.WhatToShow)
	assert.Equal(t, "20240105 16:00:00", cmd.EndDateTime)
	assert.Equal(t, 0, cmd.UseRTH)

	assert.Equal(t, "STK.NASDAQ", enc.StartScanner(2, "TOP_PERC_LOSE", "STK.NASDAQ", 1).LocationCode)
	assert.Equal(t, model.Disconnect{}, enc.Disconnect())
}

func TestRecordMarshalJSON(t *testing.T) {
	tr := NewTranslator(NewLedger(), nil, nil)
	recs := tr.Translate(scannerEvent(4, "AAPL"), nil)
	require.Len(t, recs, 1)
	defer recs[0].Release()

	raw, err := json.Marshal(&recs[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"kind": "scanner_result",
		"data": {"reqId": 4, "items": [{"rank": 0, "symbol": "AAPL", "secType": "STK", "currency": "USD", "conId": 1000}]}
	}`, string(raw))

	raw, err = json.Marshal(Record{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"none"}`, string(raw))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "position", KindPosition.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
}
