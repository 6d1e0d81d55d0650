// bridge-test is a diagnostic tool that creates a bridge handle over the simulated
// engine, issues the scanner/chart/account requests a charting front end makes, and
// prints every record as it is delivered.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tws-bridge/internal/bridge"
	"tws-bridge/internal/engine"
	"tws-bridge/internal/logging"
	"tws-bridge/internal/publish"
)

func main() {
	host := flag.String("host", bridge.DefaultHost, "TWS host")
	port := flag.Int("port", bridge.DefaultPort, "TWS port")
	clientID := flag.Int("client", bridge.DefaultClientID, "TWS client id")
	scanCode := flag.String("scan", "TOP_PERC_GAIN", "scanner code")
	priceAbove := flag.Float64("price-above", 0, "scanner minimum price")
	charts := flag.Int("charts", 3, "number of top scanner symbols to request daily charts for")
	account := flag.String("account", "All", "account code for the account summary")
	duration := flag.Duration("duration", 5*time.Second, "how long to poll before tearing down")
	bounded := flag.Bool("bounded", false, "use the bounded-copy scanner surface instead of Poll")
	rows := flag.Int("rows", 10, "scanner rows copied per poll in -bounded mode")
	logLevel := flag.String("log", "warn", "log level")
	tail := flag.String("tail", "", "NATS url: print records published by twsbridged instead of running a handle")
	prefix := flag.String("prefix", "twsbridge", "topic prefix for -tail")
	flag.Parse()

	log, err := logging.Build(*logLevel, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "[bridge-test] %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *tail != "" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runTail(ctx, *tail, *prefix, *duration); err != nil {
			fmt.Fprintf(os.Stderr, "[bridge-test] tail: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ledger := bridge.NewLedger()
	h, err := bridge.Create(bridge.Endpoint{Host: *host, Port: *port, ClientID: *clientID},
		engine.Factory(engine.Config{
			Handshake:       250 * time.Millisecond,
			ScannerInterval: time.Second,
		}, log.Named("engine"), nil),
		bridge.WithLogger(log.Named("bridge")),
		bridge.WithLedger(ledger),
		bridge.WithJoinTimeout(5*time.Second),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[bridge-test] create: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("[bridge-test] Connecting to %s\n", h.Endpoint())
	if err := h.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[bridge-test] connect: %v\n", err)
		_ = h.Destroy()
		os.Exit(1)
	}

	if err := h.StartScanner(1, *scanCode, "", *priceAbove); err != nil {
		log.Warn("start_scanner_failed", zap.Error(err))
	}
	fmt.Printf("[bridge-test] Scanner command sent (reqId=1, scanCode=%s)\n", *scanCode)

	if *bounded {
		runBounded(ctx, h, *rows, *duration)
	} else {
		if err := h.RequestAccountData(*account); err != nil {
			log.Warn("account_request_failed", zap.Error(err))
		}
		runPoll(ctx, h, *charts, *duration)
	}

	if err := h.Destroy(); err != nil {
		fmt.Fprintf(os.Stderr, "[bridge-test] destroy: %v\n", err)
	}
	fmt.Printf("[bridge-test] Allocations: %d charged, %d released, %d outstanding\n",
		ledger.Allocated(), ledger.Freed(), ledger.Outstanding())
}

type printer struct {
	h         *bridge.Handle
	charts    int
	nextReqID int
	counts    map[bridge.Kind]int
}

func runPoll(ctx context.Context, h *bridge.Handle, charts int, d time.Duration) {
	p := &printer{h: h, charts: charts, nextReqID: 100, counts: make(map[bridge.Kind]int)}
	deadline := time.After(d)
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.summary()
			return
		case <-deadline:
			p.summary()
			return
		case <-ticker.C:
			for {
				ok, err := h.Next(p.print)
				if err != nil {
					fmt.Printf("[bridge-test] %v\n", err)
				}
				if !ok {
					break
				}
			}
		}
	}
}

func (p *printer) print(rec *bridge.Record) error {
	p.counts[rec.Kind]++
	switch rec.Kind {
	case bridge.KindScannerResult:
		sr, _ := rec.ScannerResult()
		fmt.Printf("SCAN  reqId=%d  rows=%d\n", sr.ReqID, len(sr.Items))
		for i := range sr.Items {
			it := &sr.Items[i]
			fmt.Printf("      #%-3d %-6s %-4s %-4s conId=%d\n",
				it.Rank, bridge.Text(it.Symbol[:]), bridge.Text(it.SecType[:]), bridge.Text(it.Currency[:]), it.ConID)
		}
		// one snapshot is enough; the subscription would keep refreshing
		if err := p.h.CancelScanner(int(sr.ReqID)); err != nil {
			return fmt.Errorf("cancel scanner %d: %w", sr.ReqID, err)
		}
		for i := 0; i < p.charts && i < len(sr.Items); i++ {
			symbol := bridge.Text(sr.Items[i].Symbol[:])
			if err := p.h.RequestHistoricalData(p.nextReqID, symbol, "", "", "", "", 1); err != nil {
				return fmt.Errorf("request chart %s: %w", symbol, err)
			}
			fmt.Printf("[bridge-test] Requesting daily chart for %s (reqId=%d)\n", symbol, p.nextReqID)
			p.nextReqID++
		}
	case bridge.KindHistoricalData:
		hd, _ := rec.HistoricalData()
		fmt.Printf("BARS  reqId=%d  %s  candles=%d", hd.ReqID, bridge.Text(hd.Symbol[:]), len(hd.Candles))
		if n := len(hd.Candles); n > 0 {
			last := &hd.Candles[n-1]
			fmt.Printf("  last=%s O=%.2f H=%.2f L=%.2f C=%.2f V=%d",
				bridge.Text(last.Date[:]), last.Open, last.High, last.Low, last.Close, last.Volume)
		}
		fmt.Println()
	case bridge.KindAccountValue:
		av, _ := rec.AccountValue()
		fmt.Printf("ACCT  %s  %s=%s %s\n",
			bridge.Text(av.AccountName[:]), bridge.Text(av.Key[:]), bridge.Text(av.Value[:]), bridge.Text(av.Currency[:]))
	case bridge.KindPosition:
		pos, _ := rec.Position()
		fmt.Printf("POS   %s  %s %s  qty=%.0f  px=%.2f  avg=%.2f  uPnL=%.2f  rPnL=%.2f\n",
			bridge.Text(pos.Account[:]), bridge.Text(pos.Symbol[:]), bridge.Text(pos.SecType[:]),
			pos.Position, pos.MarketPrice, pos.AverageCost, pos.UnrealizedPNL, pos.RealizedPNL)
	}
	return nil
}

func (p *printer) summary() {
	parts := make([]string, 0, 4)
	for _, k := range []bridge.Kind{bridge.KindScannerResult, bridge.KindHistoricalData, bridge.KindAccountValue, bridge.KindPosition} {
		parts = append(parts, fmt.Sprintf("%d %s", p.counts[k], k))
	}
	fmt.Printf("\n[bridge-test] Total: %s\n", strings.Join(parts, ", "))
}

// runTail subscribes to every record topic under prefix and prints each payload.
func runTail(ctx context.Context, url, prefix string, d time.Duration) error {
	broker, err := publish.NewNatsBroker(url)
	if err != nil {
		return fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	defer func() { _ = broker.Close() }()

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	ch, err := broker.Subscribe(ctx, publish.Topics(prefix))
	if err != nil {
		return err
	}
	fmt.Printf("[bridge-test] Tailing %s on %s\n", prefix, url)

	n := 0
	for msg := range ch {
		n++
		fmt.Printf("%-28s %s\n", msg.Topic, msg.Payload)
	}
	fmt.Printf("\n[bridge-test] Total: %d published records\n", n)
	return nil
}

func runBounded(ctx context.Context, h *bridge.Handle, rows int, d time.Duration) {
	buf := make([]bridge.ScannerItem, rows)
	deadline := time.After(d)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	results := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n[bridge-test] Total: %d scanner results\n", results)
			return
		case <-deadline:
			fmt.Printf("\n[bridge-test] Total: %d scanner results\n", results)
			return
		case <-ticker.C:
			n := h.PollScanner(buf)
			if n < 0 {
				continue
			}
			results++
			fmt.Printf("SCAN  copied=%d\n", n)
			for i := range n {
				fmt.Printf("      #%-3d %-6s conId=%d\n", buf[i].Rank, bridge.Text(buf[i].Symbol[:]), buf[i].ConID)
			}
		}
	}
}
