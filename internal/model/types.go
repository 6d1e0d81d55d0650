// Package model defines the commands sent to the TWS engine and the events it produces.
//
// Both are closed sum types: the unexported marker methods keep the variant sets fixed
// to this package, and consumers match them with exhaustive type switches.
package model

// CommandKind names a command variant.
type CommandKind string

const (
	CommandDisconnect            CommandKind = "DISCONNECT"
	CommandStartScanner          CommandKind = "START_SCANNER"
	CommandCancelScanner         CommandKind = "CANCEL_SCANNER"
	CommandRequestHistoricalData CommandKind = "REQUEST_HISTORICAL_DATA"
	CommandRequestAccountData    CommandKind = "REQUEST_ACCOUNT_DATA"
)

// EventKind names an event variant.
type EventKind string

const (
	EventScannerResult  EventKind = "SCANNER_RESULT"
	EventHistoricalData EventKind = "HISTORICAL_DATA"
	EventAccountSummary EventKind = "ACCOUNT_SUMMARY"
	EventError          EventKind = "ERROR"
)

// Command is a request submitted to the engine. Values are immutable once built.
type Command interface {
	Kind() CommandKind
	isCommand()
}

// Disconnect asks the engine to leave its run loop.
type Disconnect struct{}

// StartScanner subscribes to a market scanner.
type StartScanner struct {
	ReqID        int     `json:"reqId"`
	ScanCode     string  `json:"scanCode"`
	LocationCode string  `json:"locationCode"`
	PriceAbove   float64 `json:"priceAbove"`
}

// CancelScanner cancels a scanner subscription.
type CancelScanner struct {
	ReqID int `json:"reqId"`
}

// RequestHistoricalData asks for a series of bars. An empty EndDateTime means now.
type RequestHistoricalData struct {
	ReqID          int    `json:"reqId"`
	Symbol         string `json:"symbol"`
	EndDateTime    string `json:"endDateTime"`
	DurationStr    string `json:"durationStr"`
	BarSizeSetting string `json:"barSizeSetting"`
	WhatToShow     string `json:"whatToShow"`
	UseRTH         int    `json:"useRTH"`
}

// RequestAccountData subscribes to account values and portfolio positions.
type RequestAccountData struct {
	AccountCode string `json:"accountCode"`
}

func (Disconnect) Kind() CommandKind            { return CommandDisconnect }
func (StartScanner) Kind() CommandKind          { return CommandStartScanner }
func (CancelScanner) Kind() CommandKind         { return CommandCancelScanner }
func (RequestHistoricalData) Kind() CommandKind { return CommandRequestHistoricalData }
func (RequestAccountData) Kind() CommandKind    { return CommandRequestAccountData }

func (Disconnect) isCommand()            {}
func (StartScanner) isCommand()          {}
func (CancelScanner) isCommand()         {}
func (RequestHistoricalData) isCommand() {}
func (RequestAccountData) isCommand()    {}

// Event is a notification produced by the engine.
type Event interface {
	Kind() EventKind
	isEvent()
}

// ScannerItem is one ranked scanner row.
type ScannerItem struct {
	Rank     int    `json:"rank"`
	ConID    int64  `json:"conId"`
	Symbol   string `json:"symbol"`
	SecType  string `json:"secType"`
	Currency string `json:"currency"`
}

// ScannerResult carries one complete scanner snapshot.
type ScannerResult struct {
	ReqID int           `json:"reqId"`
	Items []ScannerItem `json:"items"`
}

// Candle is a single OHLCV bar.
type Candle struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// HistoricalDataEvent carries the full bar series for a historical data request.
type HistoricalDataEvent struct {
	ReqID   int      `json:"reqId"`
	Symbol  string   `json:"symbol"`
	Candles []Candle `json:"candles"`
}

// AccountValue is a single key/value pair from the account summary.
type AccountValue struct {
	Key         string `json:"key" yaml:"key"`
	Value       string `json:"value" yaml:"value"`
	Currency    string `json:"currency" yaml:"currency"`
	AccountName string `json:"accountName" yaml:"accountName"`
}

// PositionRow is one portfolio position.
type PositionRow struct {
	Account       string  `json:"account" yaml:"account"`
	Symbol        string  `json:"symbol" yaml:"symbol"`
	SecType       string  `json:"secType" yaml:"secType"`
	Position      float64 `json:"position" yaml:"position"`
	MarketPrice   float64 `json:"marketPrice" yaml:"marketPrice"`
	MarketValue   float64 `json:"marketValue" yaml:"marketValue"`
	AverageCost   float64 `json:"averageCost" yaml:"averageCost"`
	UnrealizedPNL float64 `json:"unrealizedPnl" yaml:"unrealizedPnl"`
	RealizedPNL   float64 `json:"realizedPnl" yaml:"realizedPnl"`
}

// AccountSummaryEvent carries account values and positions in source order.
type AccountSummaryEvent struct {
	AccountValues []AccountValue `json:"accountValues"`
	Positions     []PositionRow  `json:"positions"`
}

// ErrorEvent reports a request the engine could not serve.
type ErrorEvent struct {
	ReqID   int    `json:"reqId"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (ScannerResult) Kind() EventKind       { return EventScannerResult }
func (HistoricalDataEvent) Kind() EventKind { return EventHistoricalData }
func (AccountSummaryEvent) Kind() EventKind { return EventAccountSummary }
func (ErrorEvent) Kind() EventKind          { return EventError }

func (ScannerResult) isEvent()       {}
func (HistoricalDataEvent) isEvent() {}
func (AccountSummaryEvent) isEvent() {}
func (ErrorEvent) isEvent()          {}
