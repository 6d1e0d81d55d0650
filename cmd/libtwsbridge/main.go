// libtwsbridge exposes the bridge to C callers. Build with
//
//	go build -buildmode=c-shared -o libtwsbridge.so ./cmd/libtwsbridge
//
// Handles are opaque integers. Every event returned by ibkr_poll_event owns C memory
// and must be passed to ibkr_free_event exactly once. All polling functions of one
// handle, and ibkr_destroy, must be called from a single thread.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef uintptr_t IbkrHandle;

#define IBKR_EVENT_NONE            0
#define IBKR_EVENT_HISTORICAL_DATA 1
#define IBKR_EVENT_SCANNER_RESULT  2
#define IBKR_EVENT_ACCOUNT_VALUE   3
#define IBKR_EVENT_POSITION        4

typedef struct {
    char   date[32];
    double open;
    double high;
    double low;
    double close;
    long   volume;
} IbkrCandle;

typedef struct {
    int         reqId;
    char        symbol[32];
    IbkrCandle* candles;
    int         candleCount;
} IbkrHistoricalData;

typedef struct {
    int  rank;
    char symbol[32];
    char secType[16];
    char currency[8];
    long conId;
} IbkrScannerItem;

typedef struct {
    int              reqId;
    IbkrScannerItem* items;
    int              itemCount;
} IbkrScannerResult;

typedef struct {
    char key[64];
    char value[64];
    char currency[8];
    char accountName[32];
} IbkrAccountValue;

typedef struct {
    char   account[32];
    char   symbol[32];
    char   secType[16];
    double position;
    double marketPrice;
    double marketValue;
    double averageCost;
    double unrealizedPNL;
    double realizedPNL;
} IbkrPosition;

typedef struct {
    int   type;
    void* data;
} IbkrCEvent;
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"runtime/cgo"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"tws-bridge/internal/bridge"
	"tws-bridge/internal/config"
	"tws-bridge/internal/engine"
	"tws-bridge/internal/logging"
)

var (
	initOnce sync.Once
	cfg      *config.Config
	log      = zap.NewNop()
	ledger   = bridge.NewLedger()

	// live counts C allocations made by ibkr_poll_event and not yet freed.
	live atomic.Int64
)

// setup reads TWSBRIDGE_CONFIG and TWSBRIDGE_LOG_LEVEL once per process.
func setup() {
	initOnce.Do(func() {
		var warnings []error
		cfg, log, warnings = settings(os.Getenv("TWSBRIDGE_CONFIG"), os.Getenv("TWSBRIDGE_LOG_LEVEL"))
		for _, err := range warnings {
			log.Warn("settings_ignored", zap.Error(err))
		}
	})
}

// settings loads the configuration at path and builds a logger at level. Either may be
// empty. Failures fall back to defaults and are returned as warnings; when there are
// warnings and no logger was requested, a stdout logger at warn level is returned so
// they are not lost.
func settings(path, level string) (*config.Config, *zap.Logger, []error) {
	var warnings []error
	c := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("config %s: %w", path, err))
		} else {
			c = loaded
		}
	}

	l := zap.NewNop()
	if level != "" {
		built, err := logging.Build(level, c.App.LogFile)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("log level: %w", err))
		} else {
			l = built
		}
	}
	if len(warnings) > 0 && !l.Core().Enabled(zap.ErrorLevel) {
		if built, err := logging.Build("warn", ""); err == nil {
			l = built
		}
	}
	return c, l, warnings
}

func create(host *C.char, port, clientID C.int, autoStart bool) C.IbkrHandle {
	setup()
	h, err := bridge.Create(bridge.Endpoint{
		Host:     goString(host),
		Port:     int(port),
		ClientID: int(clientID),
	}, engine.Factory(engine.ConfigFrom(cfg), log.Named("engine"), nil),
		bridge.WithLogger(log.Named("bridge")),
		bridge.WithLedger(ledger),
		bridge.WithDefaults(bridge.Defaults{
			DurationStr:    cfg.Defaults.DurationStr,
			BarSizeSetting: cfg.Defaults.BarSizeSetting,
			WhatToShow:     cfg.Defaults.WhatToShow,
			LocationCode:   cfg.Defaults.LocationCode,
		}),
		bridge.WithAutoStart(autoStart),
		bridge.WithJoinTimeout(cfg.Bridge.JoinTimeout()),
		bridge.WithConnectTimeout(cfg.Bridge.ConnectTimeout()),
	)
	if err != nil {
		log.Error("ibkr_create_failed", zap.Error(err))
		return 0
	}
	return C.IbkrHandle(cgo.NewHandle(h))
}

func lookup(handle C.IbkrHandle) *bridge.Handle {
	if handle == 0 {
		return nil
	}
	h, _ := cgo.Handle(handle).Value().(*bridge.Handle)
	return h
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

//export ibkr_create
func ibkr_create(host *C.char, port, clientID C.int) C.IbkrHandle {
	return create(host, port, clientID, true)
}

//export ibkr_create_unstarted
func ibkr_create_unstarted(host *C.char, port, clientID C.int) C.IbkrHandle {
	return create(host, port, clientID, false)
}

//export ibkr_start
func ibkr_start(handle C.IbkrHandle) {
	if h := lookup(handle); h != nil {
		if err := h.Start(); err != nil {
			log.Warn("ibkr_start_failed", zap.Error(err))
		}
	}
}

// ibkr_connect starts the handle if needed and waits up to timeoutMs for the
// handshake. It returns 0 when ready and -1 otherwise.
//
//export ibkr_connect
func ibkr_connect(handle C.IbkrHandle, timeoutMs C.int) C.int {
	h := lookup(handle)
	if h == nil {
		return -1
	}
	ctx := context.Background()
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}
	if err := h.Connect(ctx); err != nil {
		log.Warn("ibkr_connect_failed", zap.Error(err))
		return -1
	}
	return 0
}

//export ibkr_destroy
func ibkr_destroy(handle C.IbkrHandle) {
	h := lookup(handle)
	if h == nil {
		return
	}
	if err := h.Destroy(); err != nil {
		log.Error("ibkr_destroy_failed", zap.Error(err))
	}
	cgo.Handle(handle).Delete()
}

//export ibkr_request_historical_data
func ibkr_request_historical_data(handle C.IbkrHandle, reqID C.int, symbol, endDateTime, durationStr, barSizeSetting, whatToShow *C.char, useRTH C.int) {
	h := lookup(handle)
	if h == nil {
		return
	}
	err := h.RequestHistoricalData(int(reqID), goString(symbol), goString(endDateTime),
		goString(durationStr), goString(barSizeSetting), goString(whatToShow), int(useRTH))
	if err != nil {
		log.Warn("ibkr_command_failed", zap.Error(err))
	}
}

//export ibkr_start_scanner
func ibkr_start_scanner(handle C.IbkrHandle, reqID C.int, scanCode, locationCode *C.char, priceAbove C.double) {
	h := lookup(handle)
	if h == nil {
		return
	}
	if err := h.StartScanner(int(reqID), goString(scanCode), goString(locationCode), float64(priceAbove)); err != nil {
		log.Warn("ibkr_command_failed", zap.Error(err))
	}
}

//export ibkr_cancel_scanner
func ibkr_cancel_scanner(handle C.IbkrHandle, reqID C.int) {
	if h := lookup(handle); h != nil {
		if err := h.CancelScanner(int(reqID)); err != nil {
			log.Warn("ibkr_command_failed", zap.Error(err))
		}
	}
}

//export ibkr_request_account_data
func ibkr_request_account_data(handle C.IbkrHandle, accountCode *C.char) {
	if h := lookup(handle); h != nil {
		if err := h.RequestAccountData(goString(accountCode)); err != nil {
			log.Warn("ibkr_command_failed", zap.Error(err))
		}
	}
}

//export ibkr_disconnect
func ibkr_disconnect(handle C.IbkrHandle) {
	if h := lookup(handle); h != nil {
		if err := h.Disconnect(); err != nil {
			log.Warn("ibkr_command_failed", zap.Error(err))
		}
	}
}

// ibkr_poll_event writes the oldest undelivered event to out and returns 1, or
// clears out and returns 0 when nothing is available.
//
//export ibkr_poll_event
func ibkr_poll_event(handle C.IbkrHandle, out *C.IbkrCEvent) C.int {
	if out == nil {
		return 0
	}
	out._type = C.IBKR_EVENT_NONE
	out.data = nil

	h := lookup(handle)
	if h == nil {
		return 0
	}
	ok, _ := h.Next(func(rec *bridge.Record) error {
		out._type = C.int(rec.Kind)
		out.data = export(rec)
		return nil
	})
	if !ok {
		return 0
	}
	return 1
}

// ibkr_free_event frees the payload of an event and resets it to IBKR_EVENT_NONE.
// Freeing a cleared event is a no-op.
//
//export ibkr_free_event
func ibkr_free_event(ev *C.IbkrCEvent) {
	if ev == nil || ev._type == C.IBKR_EVENT_NONE || ev.data == nil {
		return
	}
	switch ev._type {
	case C.IBKR_EVENT_HISTORICAL_DATA:
		p := (*C.IbkrHistoricalData)(ev.data)
		if p.candles != nil {
			free(unsafe.Pointer(p.candles))
		}
	case C.IBKR_EVENT_SCANNER_RESULT:
		p := (*C.IbkrScannerResult)(ev.data)
		if p.items != nil {
			free(unsafe.Pointer(p.items))
		}
	}
	free(ev.data)
	ev._type = C.IBKR_EVENT_NONE
	ev.data = nil
}

// ibkr_poll_scanner copies up to maxItems rows of the oldest scanner result into
// outItems and returns the count, or -1 when no scanner result is available.
// Other events are discarded.
//
//export ibkr_poll_scanner
func ibkr_poll_scanner(handle C.IbkrHandle, outItems *C.IbkrScannerItem, maxItems C.int) C.int {
	h := lookup(handle)
	if h == nil || outItems == nil || maxItems <= 0 {
		return -1
	}
	dst := unsafe.Slice(outItems, int(maxItems))
	return C.int(h.PollScannerFunc(len(dst), func(i int, it *bridge.ScannerItem) {
		fillItem(&dst[i], it)
	}))
}

// ibkr_outstanding returns the number of C allocations handed out by
// ibkr_poll_event that have not been freed.
//
//export ibkr_outstanding
func ibkr_outstanding() C.long {
	return C.long(live.Load())
}

// export copies rec into C memory. The Go record is released by the caller.
func export(rec *bridge.Record) unsafe.Pointer {
	switch rec.Kind {
	case bridge.KindHistoricalData:
		src, _ := rec.HistoricalData()
		p := (*C.IbkrHistoricalData)(alloc(C.sizeof_IbkrHistoricalData))
		p.reqId = C.int(src.ReqID)
		copyText(p.symbol[:], src.Symbol[:])
		p.candleCount = C.int(len(src.Candles))
		if len(src.Candles) > 0 {
			p.candles = (*C.IbkrCandle)(alloc(C.size_t(len(src.Candles)) * C.sizeof_IbkrCandle))
			dst := unsafe.Slice(p.candles, len(src.Candles))
			for i := range src.Candles {
				c := &src.Candles[i]
				copyText(dst[i].date[:], c.Date[:])
				dst[i].open = C.double(c.Open)
				dst[i].high = C.double(c.High)
				dst[i].low = C.double(c.Low)
				dst[i].close = C.double(c.Close)
				dst[i].volume = C.long(c.Volume)
			}
		}
		return unsafe.Pointer(p)
	case bridge.KindScannerResult:
		src, _ := rec.ScannerResult()
		p := (*C.IbkrScannerResult)(alloc(C.sizeof_IbkrScannerResult))
		p.reqId = C.int(src.ReqID)
		p.itemCount = C.int(len(src.Items))
		if len(src.Items) > 0 {
			p.items = (*C.IbkrScannerItem)(alloc(C.size_t(len(src.Items)) * C.sizeof_IbkrScannerItem))
			dst := unsafe.Slice(p.items, len(src.Items))
			for i := range src.Items {
				fillItem(&dst[i], &src.Items[i])
			}
		}
		return unsafe.Pointer(p)
	case bridge.KindAccountValue:
		src, _ := rec.AccountValue()
		p := (*C.IbkrAccountValue)(alloc(C.sizeof_IbkrAccountValue))
		copyText(p.key[:], src.Key[:])
		copyText(p.value[:], src.Value[:])
		copyText(p.currency[:], src.Currency[:])
		copyText(p.accountName[:], src.AccountName[:])
		return unsafe.Pointer(p)
	case bridge.KindPosition:
		src, _ := rec.Position()
		p := (*C.IbkrPosition)(alloc(C.sizeof_IbkrPosition))
		copyText(p.account[:], src.Account[:])
		copyText(p.symbol[:], src.Symbol[:])
		copyText(p.secType[:], src.SecType[:])
		p.position = C.double(src.Position)
		p.marketPrice = C.double(src.MarketPrice)
		p.marketValue = C.double(src.MarketValue)
		p.averageCost = C.double(src.AverageCost)
		p.unrealizedPNL = C.double(src.UnrealizedPNL)
		p.realizedPNL = C.double(src.RealizedPNL)
		return unsafe.Pointer(p)
	}
	return nil
}

func fillItem(dst *C.IbkrScannerItem, src *bridge.ScannerItem) {
	dst.rank = C.int(src.Rank)
	dst.conId = C.long(src.ConID)
	copyText(dst.symbol[:], src.Symbol[:])
	copyText(dst.secType[:], src.SecType[:])
	copyText(dst.currency[:], src.Currency[:])
}

// copyText copies a terminated fixed-width field. Both sides have the same width.
func copyText(dst []C.char, src []byte) {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] = C.char(src[i])
	}
	if n > 0 {
		dst[n-1] = 0
	}
}

func alloc(size C.size_t) unsafe.Pointer {
	live.Add(1)
	return C.calloc(1, size)
}

func free(p unsafe.Pointer) {
	live.Add(-1)
	C.free(p)
}

func main() {}
