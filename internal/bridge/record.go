package bridge

import (
	"sync/atomic"

	"github.com/segmentio/encoding/json"
)

// Ledger counts record allocations and releases. A record costs one allocation,
// plus one for an owned sub-array.
type Ledger struct {
	allocated atomic.Int64
	freed     atomic.Int64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) charge(n int) {
	if l != nil && n > 0 {
		l.allocated.Add(int64(n))
	}
}

func (l *Ledger) refund(n int) {
	if l != nil && n > 0 {
		l.freed.Add(int64(n))
	}
}

// Allocated returns the total number of allocations charged.
func (l *Ledger) Allocated() int64 { return l.allocated.Load() }

// Freed returns the total number of allocations released.
func (l *Ledger) Freed() int64 { return l.freed.Load() }

// Outstanding returns allocations charged but not yet released.
func (l *Ledger) Outstanding() int64 { return l.allocated.Load() - l.freed.Load() }

// Record is a delivered record: a kind tag and an opaque payload.
//
// Data holds *HistoricalData, *ScannerResult, *AccountValue or *Position according to Kind.
// A record handed out by Poll must be released exactly once with Release. Releasing a
// cleared record (Kind == KindNone) is a no-op. Copying a record and releasing both copies
// is a consumer error and is not detected.
type Record struct {
	Kind Kind
	Data any

	ledger *Ledger
	allocs int
}

func newRecord(l *Ledger, kind Kind, data any, allocs int) Record {
	l.charge(allocs)
	return Record{Kind: kind, Data: data, ledger: l, allocs: allocs}
}

// Release frees the owned sub-array, then the record, and resets it to KindNone.
func (r *Record) Release() {
	if r == nil || r.Kind == KindNone {
		return
	}
	switch p := r.Data.(type) {
	case *HistoricalData:
		p.Candles = nil
	case *ScannerResult:
		p.Items = nil
	}
	r.ledger.refund(r.allocs)
	*r = Record{}
}

// HistoricalData returns the payload when r is a KindHistoricalData record.
func (r *Record) HistoricalData() (*HistoricalData, bool) {
	p, ok := r.Data.(*HistoricalData)
	return p, ok && r.Kind == KindHistoricalData
}

// ScannerResult returns the payload when r is a KindScannerResult record.
func (r *Record) ScannerResult() (*ScannerResult, bool) {
	p, ok := r.Data.(*ScannerResult)
	return p, ok && r.Kind == KindScannerResult
}

// AccountValue returns the payload when r is a KindAccountValue record.
func (r *Record) AccountValue() (*AccountValue, bool) {
	p, ok := r.Data.(*AccountValue)
	return p, ok && r.Kind == KindAccountValue
}

// Position returns the payload when r is a KindPosition record.
func (r *Record) Position() (*Position, bool) {
	p, ok := r.Data.(*Position)
	return p, ok && r.Kind == KindPosition
}

type candleView struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

type historicalView struct {
	ReqID   int32        `json:"reqId"`
	Symbol  string       `json:"symbol"`
	Candles []candleView `json:"candles"`
}

type scannerItemView struct {
	Rank     int32  `json:"rank"`
	Symbol   string `json:"symbol"`
	SecType  string `json:"secType"`
	Currency string `json:"currency"`
	ConID    int64  `json:"conId"`
}

type scannerView struct {
	ReqID int32             `json:"reqId"`
	Items []scannerItemView `json:"items"`
}

type accountValueView struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Currency    string `json:"currency"`
	AccountName string `json:"accountName"`
}

type positionView struct {
	Account       string  `json:"account"`
	Symbol        string  `json:"symbol"`
	SecType       string  `json:"secType"`
	Position      float64 `json:"position"`
	MarketPrice   float64 `json:"marketPrice"`
	MarketValue   float64 `json:"marketValue"`
	AverageCost   float64 `json:"averageCost"`
	UnrealizedPNL float64 `json:"unrealizedPnl"`
	RealizedPNL   float64 `json:"realizedPnl"`
}

// MarshalJSON renders the record with text fields cut at their terminator.
func (r Record) MarshalJSON() ([]byte, error) {
	var data any
	switch p := r.Data.(type) {
	case *HistoricalData:
		v := historicalView{ReqID: p.ReqID, Symbol: Text(p.Symbol[:]), Candles: make([]candleView, len(p.Candles))}
		for i := range p.Candles {
			c := &p.Candles[i]
			v.Candles[i] = candleView{
				Date: Text(c.Date[:]), Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
			}
		}
		data = v
	case *ScannerResult:
		v := scannerView{ReqID: p.ReqID, Items: make([]scannerItemView, len(p.Items))}
		for i := range p.Items {
			it := &p.Items[i]
			v.Items[i] = scannerItemView{
				Rank:     it.Rank,
				Symbol:   Text(it.Symbol[:]),
				SecType:  Text(it.SecType[:]),
				Currency: Text(it.Currency[:]),
				ConID:    it.ConID,
			}
		}
		data = v
	case *AccountValue:
		data = accountValueView{
			Key:         Text(p.Key[:]),
			Value:       Text(p.Value[:]),
			Currency:    Text(p.Currency[:]),
			AccountName: Text(p.AccountName[:]),
		}
	case *Position:
		data = positionView{
			Account:       Text(p.Account[:]),
			Symbol:        Text(p.Symbol[:]),
			SecType:       Text(p.SecType[:]),
			Position:      p.Position,
			MarketPrice:   p.MarketPrice,
			MarketValue:   p.MarketValue,
			AverageCost:   p.AverageCost,
			UnrealizedPNL: p.UnrealizedPNL,
			RealizedPNL:   p.RealizedPNL,
		}
	}
	return json.Marshal(struct {
		Kind string `json:"kind"`
		Data any    `json:"data,omitempty"`
	}{Kind: r.Kind.String(), Data: data})
}
