package bridge

import "tws-bridge/internal/model"

// Built-in values for omitted optional command fields.
const (
	DefaultDurationStr    = "1 Y"
	DefaultBarSizeSetting = "1 day"
	DefaultWhatToShow     = "TRADES"
	DefaultLocationCode   = "STK.US"
)

// Defaults holds the values substituted for empty optional command fields.
type Defaults struct {
	DurationStr    string
	BarSizeSetting string
	WhatToShow     string
	LocationCode   string
}

// Encoder builds commands from primitive arguments. It holds no state besides its
// defaults and is safe for concurrent use.
type Encoder struct {
	defaults Defaults
}

// NewEncoder returns an encoder using d, with built-in values for any empty field of d.
func NewEncoder(d Defaults) *Encoder {
	return &Encoder{defaults: Defaults{
		DurationStr:    orDefault(d.DurationStr, DefaultDurationStr),
		BarSizeSetting: orDefault(d.BarSizeSetting, DefaultBarSizeSetting),
		WhatToShow:     orDefault(d.WhatToShow, DefaultWhatToShow),
		LocationCode:   orDefault(d.LocationCode, DefaultLocationCode),
	}}
}

// Defaults returns the effective defaults.
func (e *Encoder) Defaults() Defaults { return e.defaults }

// HistoricalData encodes a historical data request. An empty endDateTime is kept as is
// and means "now" to the engine.
func (e *Encoder) HistoricalData(reqID int, symbol, endDateTime, durationStr, barSizeSetting, whatToShow string, useRTH int) model.RequestHistoricalData {
	return model.RequestHistoricalData{
		ReqID:          reqID,
		Symbol:         symbol,
		EndDateTime:    endDateTime,
		DurationStr:    orDefault(durationStr, e.defaults.DurationStr),
		BarSizeSetting: orDefault(barSizeSetting, e.defaults.BarSizeSetting),
		WhatToShow:     orDefault(whatToShow, e.defaults.WhatToShow),
		UseRTH:         useRTH,
	}
}

// StartScanner encodes a scanner subscription.
func (e *Encoder) StartScanner(reqID int, scanCode, locationCode string, priceAbove float64) model.StartScanner {
	return model.StartScanner{
		ReqID:        reqID,
		ScanCode:     scanCode,
		LocationCode: orDefault(locationCode, e.defaults.LocationCode),
		PriceAbove:   priceAbove,
	}
}

// CancelScanner encodes a scanner cancellation.
func (e *Encoder) CancelScanner(reqID int) model.CancelScanner {
	return model.CancelScanner{ReqID: reqID}
}

// AccountData encodes an account data subscription.
func (e *Encoder) AccountData(accountCode string) model.RequestAccountData {
	return model.RequestAccountData{AccountCode: accountCode}
}

// Disconnect encodes a disconnect request.
func (e *Encoder) Disconnect() model.Disconnect {
	return model.Disconnect{}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
