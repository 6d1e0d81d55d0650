package bridge

import (
	"errors"
	"sync"

	"tws-bridge/internal/model"
)

// fakeEngine is a scripted engine. Events queued with emit are returned by the next Drain.
type fakeEngine struct {
	mu        sync.Mutex
	pending   []model.Event
	commands  []model.Command
	drains    int
	closed    int
	submitErr error

	quit     chan struct{}
	quitOnce sync.Once
	ready    chan struct{}
	// stuck makes Run ignore Disconnect until release is closed.
	stuck   bool
	release chan struct{}
	panicOn bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		quit:    make(chan struct{}),
		ready:   make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *fakeEngine) factory() EngineFactory {
	return func(Endpoint) (Engine, error) { return f, nil }
}

func (f *fakeEngine) emit(evs ...model.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, evs...)
}

func (f *fakeEngine) Submit(cmd model.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.commands = append(f.commands, cmd)
	if _, ok := cmd.(model.Disconnect); ok {
		f.quitOnce.Do(func() { close(f.quit) })
	}
	return nil
}

func (f *fakeEngine) Drain() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	out := f.pending
	f.pending = nil
	return out
}

func (f *fakeEngine) Run() error {
	if f.panicOn {
		panic("boom")
	}
	if f.stuck {
		<-f.release
		return nil
	}
	<-f.quit
	return nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeEngine) Ready() <-chan struct{} { return f.ready }

func (f *fakeEngine) drainCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drains
}

func (f *fakeEngine) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeEngine) submitted() []model.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Command(nil), f.commands...)
}

// plainEngine has no readiness signal and no Close.
type plainEngine struct {
	quit chan struct{}
	once sync.Once
}

func (p *plainEngine) Submit(cmd model.Command) error {
	if _, ok := cmd.(model.Disconnect); ok {
		p.once.Do(func() { close(p.quit) })
	}
	return nil
}

func (p *plainEngine) Drain() []model.Event { return nil }

func (p *plainEngine) Run() error {
	<-p.quit
	return errors.New("session lost")
}

func scannerEvent(reqID int, symbols ...string) model.ScannerResult {
	items := make([]model.ScannerItem, len(symbols))
	for i, s := range symbols {
		items[i] = model.ScannerItem{Rank: i, ConID: int64(1000 + i), Symbol: s, SecType: "STK", Currency: "USD"}
	}
	return model.ScannerResult{ReqID: reqID, Items: items}
}

func accountEvent() model.AccountSummaryEvent {
	return model.AccountSummaryEvent{
		AccountValues: []model.AccountValue{
			{Key: "NetLiquidation", Value: "100000.00", Currency: "USD", AccountName: "DU1"},
			{Key: "BuyingPower", Value: "400000.00", Currency: "USD", AccountName: "DU1"},
		},
		Positions: []model.PositionRow{
			{Account: "DU1", Symbol: "AAPL", SecType: "STK", Position: 10, MarketPrice: 190.5},
		},
	}
}
