// Package bridge connects a blocking TWS engine running on its own goroutine to a polling consumer.
//
// Commands are encoded from primitive arguments and submitted to the engine from any goroutine.
// Events drained from the engine are translated into flat, fixed-width records that are queued
// per handle and handed out one at a time by Poll. Every delivered record owns its payload and
// must be released exactly once.
package bridge

import "fmt"

// Text field widths in bytes, terminator included.
const (
	dateSize        = 32
	symbolSize      = 32
	secTypeSize     = 16
	currencySize    = 8
	valueKeySize    = 64
	valueSize       = 64
	accountNameSize = 32
	accountSize     = 32
)

// Kind tags a delivered record. The numeric values are part of the C boundary.
type Kind int32

const (
	KindNone           Kind = 0
	KindHistoricalData Kind = 1
	KindScannerResult  Kind = 2
	KindAccountValue   Kind = 3
	KindPosition       Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindHistoricalData:
		return "historical_data"
	case KindScannerResult:
		return "scanner_result"
	case KindAccountValue:
		return "account_value"
	case KindPosition:
		return "position"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// Candle is a single OHLCV bar (IbkrCandle).
type Candle struct {
	Date   [dateSize]byte
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// HistoricalData is the payload of a KindHistoricalData record. Candles is owned by the record.
type HistoricalData struct {
	ReqID   int32
	Symbol  [symbolSize]byte
	Candles []Candle
}

// ScannerItem is a single scanner row. It is also the element type of the bounded-copy
// scanner surface, where the caller owns the storage.
type ScannerItem struct {
	Rank     int32
	Symbol   [symbolSize]byte
	SecType  [secTypeSize]byte
	Currency [currencySize]byte
	ConID    int64
}

// ScannerResult is the payload of a KindScannerResult record. Items is owned by the record.
type ScannerResult struct {
	ReqID int32
	Items []ScannerItem
}

// AccountValue is the payload of a KindAccountValue record.
type AccountValue struct {
	Key         [valueKeySize]byte
	Value       [valueSize]byte
	Currency    [currencySize]byte
	AccountName [accountNameSize]byte
}

// Position is the payload of a KindPosition record.
type Position struct {
	Account       [accountSize]byte
	Symbol        [symbolSize]byte
	SecType       [secTypeSize]byte
	Position      float64
	MarketPrice   float64
	MarketValue   float64
	AverageCost   float64
	UnrealizedPNL float64
	RealizedPNL   float64
}

// putText copies at most len(dst)-1 bytes of s into dst and terminates it.
// The remainder of dst is zeroed so a reused buffer never leaks older bytes.
func putText(dst []byte, s string) {
	if len(dst) == 0 {
		return
	}
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}

// Text returns the bytes of a fixed-width field up to its terminator.
func Text(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
