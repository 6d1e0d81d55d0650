package bridge

import (
	"fmt"

	"go.uber.org/zap"

	"tws-bridge/internal/metrics"
	"tws-bridge/internal/model"
)

// Translator turns engine events into delivered records.
type Translator struct {
	ledger  *Ledger
	logger  *zap.Logger
	metrics *metrics.Bridge
}

// NewTranslator returns a translator charging allocations to l.
func NewTranslator(l *Ledger, logger *zap.Logger, m *metrics.Bridge) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{ledger: l, logger: logger, metrics: m}
}

// Translate appends the records for ev to out, in source order, and returns the result.
// Events with no record kind are dropped, logged and counted.
func (t *Translator) Translate(ev model.Event, out []Record) []Record {
	switch e := deref(ev).(type) {
	case model.HistoricalDataEvent:
		t.metrics.Event(string(e.Kind()))
		return append(out, t.historical(e))
	case model.ScannerResult:
		t.metrics.Event(string(e.Kind()))
		return append(out, t.scanner(e))
	case model.AccountSummaryEvent:
		t.metrics.Event(string(e.Kind()))
		for i := range e.AccountValues {
			out = append(out, t.accountValue(&e.AccountValues[i]))
		}
		for i := range e.Positions {
			out = append(out, t.position(&e.Positions[i]))
		}
		return out
	case model.ErrorEvent:
		t.metrics.Event(string(e.Kind()))
		t.metrics.Dropped(string(e.Kind()))
		t.logger.Warn("engine_error",
			zap.Int("req_id", e.ReqID),
			zap.Int("code", e.Code),
			zap.String("message", e.Message),
		)
		return out
	case nil:
		return out
	default:
		kind := fmt.Sprintf("%T", ev)
		t.metrics.Dropped(kind)
		t.logger.Warn("event_dropped", zap.String("type", kind))
		return out
	}
}

// deref accepts pointer forms of the known events.
func deref(ev model.Event) model.Event {
	switch e := ev.(type) {
	case *model.HistoricalDataEvent:
		if e != nil {
			return *e
		}
		return nil
	case *model.ScannerResult:
		if e != nil {
			return *e
		}
		return nil
	case *model.AccountSummaryEvent:
		if e != nil {
			return *e
		}
		return nil
	case *model.ErrorEvent:
		if e != nil {
			return *e
		}
		return nil
	}
	return ev
}

func (t *Translator) historical(e model.HistoricalDataEvent) Record {
	p := &HistoricalData{ReqID: int32(e.ReqID)}
	putText(p.Symbol[:], e.Symbol)
	allocs := 1
	if len(e.Candles) > 0 {
		p.Candles = make([]Candle, len(e.Candles))
		for i := range e.Candles {
			src, dst := &e.Candles[i], &p.Candles[i]
			putText(dst.Date[:], src.Date)
			dst.Open = src.Open
			dst.High = src.High
			dst.Low = src.Low
			dst.Close = src.Close
			dst.Volume = src.Volume
		}
		allocs++
	}
	return newRecord(t.ledger, KindHistoricalData, p, allocs)
}

func (t *Translator) scanner(e model.ScannerResult) Record {
	p := &ScannerResult{ReqID: int32(e.ReqID)}
	allocs := 1
	if len(e.Items) > 0 {
		p.Items = make([]ScannerItem, len(e.Items))
		for i := range e.Items {
			fillScannerItem(&p.Items[i], &e.Items[i])
		}
		allocs++
	}
	return newRecord(t.ledger, KindScannerResult, p, allocs)
}

func (t *Translator) accountValue(v *model.AccountValue) Record {
	p := &AccountValue{}
	putText(p.Key[:], v.Key)
	putText(p.Value[:], v.Value)
	putText(p.Currency[:], v.Currency)
	putText(p.AccountName[:], v.AccountName)
	return newRecord(t.ledger, KindAccountValue, p, 1)
}

func (t *Translator) position(v *model.PositionRow) Record {
	p := &Position{
		Position:      v.Position,
		MarketPrice:   v.MarketPrice,
		MarketValue:   v.MarketValue,
		AverageCost:   v.AverageCost,
		UnrealizedPNL: v.UnrealizedPNL,
		RealizedPNL:   v.RealizedPNL,
	}
	putText(p.Account[:], v.Account)
	putText(p.Symbol[:], v.Symbol)
	putText(p.SecType[:], v.SecType)
	return newRecord(t.ledger, KindPosition, p, 1)
}

func fillScannerItem(dst *ScannerItem, src *model.ScannerItem) {
	dst.Rank = int32(src.Rank)
	dst.ConID = src.ConID
	putText(dst.Symbol[:], src.Symbol)
	putText(dst.SecType[:], src.SecType)
	putText(dst.Currency[:], src.Currency)
}
