package engine

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tws-bridge/internal/bridge"
	"tws-bridge/internal/config"
	"tws-bridge/internal/model"
)

var (
	ErrEngineBusy   = errors.New("engine: command queue full")
	ErrDisconnected = errors.New("engine: disconnected")
	ErrRunning      = errors.New("engine: run loop already active")
)

// Error codes reported through model.ErrorEvent, following the TWS numbering.
const (
	CodeNoData           = 162
	CodeUnknownRequest   = 300
	CodeInvalidRequest   = 321
	CodeUnknownAccount   = 322
	CodeUnsupportedInput = 10000
)

// Config controls the simulated session.
type Config struct {
	// Handshake is how long after Run starts the session reports itself ready.
	Handshake time.Duration
	// ScannerInterval re-emits active scanner subscriptions. Zero disables refreshes.
	ScannerInterval time.Duration
	ScannerRows     int
	CommandCapacity int
	Accounts        []AccountFixture
	Seed            uint64
}

func (c Config) withDefaults() Config {
	if c.Handshake < 0 {
		c.Handshake = 0
	}
	if c.ScannerRows <= 0 {
		c.ScannerRows = 50
	}
	if c.CommandCapacity <= 0 {
		c.CommandCapacity = 1024
	}
	if len(c.Accounts) == 0 {
		c.Accounts = []AccountFixture{DefaultAccount()}
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// Status represents the current simulator state for API consumers.
type Status struct {
	Time         time.Time       `json:"time"`
	StartedAt    time.Time       `json:"startedAt"`
	Endpoint     string          `json:"endpoint"`
	Ready        bool            `json:"ready"`
	Snapshot     StoreSnapshot   `json:"snapshot"`
	LastCommands []model.Command `json:"lastCommands"`
	Metrics      Metrics         `json:"metrics"`
}

// Metrics tracks simulator processing counters.
type Metrics struct {
	CommandCount  int64     `json:"commandCount"`
	EventCount    int64     `json:"eventCount"`
	ErrorCount    int64     `json:"errorCount"`
	LastCommandAt time.Time `json:"lastCommandAt"`
	LastEventAt   time.Time `json:"lastEventAt"`
}

// Sim is an in-process stand-in for a TWS client session. Submit and Drain are safe
// for concurrent use; Run executes the session on the caller's goroutine until a
// Disconnect command is submitted.
type Sim struct {
	cfg      Config
	endpoint bridge.Endpoint
	store    *Store
	logger   *zap.Logger

	commands  chan model.Command
	quit      chan struct{}
	quitOnce  sync.Once
	ready     chan struct{}
	readyOnce sync.Once
	running   atomic.Bool

	mu         sync.Mutex
	events     []model.Event
	metrics    Metrics
	recentCmds []model.Command
	started    time.Time

	// rng is only touched by the run loop.
	rng *rand.Rand
}

// New creates a simulator for ep.
func New(ep bridge.Endpoint, cfg Config) *Sim {
	cfg = cfg.withDefaults()
	s := &Sim{
		cfg:      cfg,
		endpoint: ep,
		store:    NewStore(),
		logger:   zap.NewNop(),
		commands: make(chan model.Command, cfg.CommandCapacity),
		quit:     make(chan struct{}),
		ready:    make(chan struct{}),
		rng:      rand.New(rand.NewPCG(cfg.Seed, uint64(ep.ClientID))),
	}
	for _, acc := range cfg.Accounts {
		s.store.SetAccount(acc)
	}
	return s
}

// Factory returns a bridge.EngineFactory building simulators with cfg. onCreate, when
// non-nil, observes every simulator created.
func Factory(cfg Config, logger *zap.Logger, onCreate func(*Sim)) bridge.EngineFactory {
	return func(ep bridge.Endpoint) (bridge.Engine, error) {
		s := New(ep, cfg)
		s.SetLogger(logger)
		if onCreate != nil {
			onCreate(s)
		}
		return s, nil
	}
}

// SetLogger sets the structured logger for the simulator.
func (s *Sim) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Store returns the underlying state store (for seeding fixtures).
func (s *Sim) Store() *Store {
	return s.store
}

// Ready is closed once the simulated handshake has completed.
func (s *Sim) Ready() <-chan struct{} {
	return s.ready
}

// Submit queues a command without blocking. A Disconnect is never refused.
func (s *Sim) Submit(cmd model.Command) error {
	if cmd == nil {
		return errors.New("engine: nil command")
	}
	if _, ok := cmd.(model.Disconnect); ok {
		s.quitOnce.Do(func() { close(s.quit) })
		return nil
	}
	select {
	case <-s.quit:
		return ErrDisconnected
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	default:
		return ErrEngineBusy
	}
}

// Drain returns and clears every event produced since the previous call.
func (s *Sim) Drain() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// Close stops the session if it is still running.
func (s *Sim) Close() error {
	s.quitOnce.Do(func() { close(s.quit) })
	return nil
}

// Status returns the current simulator status.
func (s *Sim) Status() Status {
	ready := false
	select {
	case <-s.ready:
		ready = true
	default:
	}

	s.mu.Lock()
	metrics := s.metrics
	started := s.started
	cmds := make([]model.Command, len(s.recentCmds))
	copy(cmds, s.recentCmds)
	s.mu.Unlock()

	return Status{
		Time:         time.Now(),
		StartedAt:    started,
		Endpoint:     s.endpointString(),
		Ready:        ready,
		Snapshot:     s.store.Snapshot(),
		LastCommands: cmds,
		Metrics:      metrics,
	}
}

// Run processes commands until a Disconnect is submitted. Commands arriving before the
// handshake completes are held and replayed once it does.
func (s *Sim) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	handshake := time.NewTimer(s.cfg.Handshake)
	defer handshake.Stop()

	var refresh <-chan time.Time
	if s.cfg.ScannerInterval > 0 {
		ticker := time.NewTicker(s.cfg.ScannerInterval)
		defer ticker.Stop()
		refresh = ticker.C
	}

	s.logger.Info("engine_started",
		zap.String("endpoint", s.endpointString()),
		zap.Duration("handshake", s.cfg.Handshake),
	)

	var held []model.Command
	connected := false
	for {
		select {
		case <-s.quit:
			s.shutdown(connected)
			return nil
		case <-handshake.C:
			connected = true
			s.readyOnce.Do(func() { close(s.ready) })
			s.logger.Info("engine_connected", zap.Int("held_commands", len(held)))
			for _, cmd := range held {
				s.handleCommand(cmd)
			}
			held = nil
		case cmd := <-s.commands:
			if !connected {
				held = append(held, cmd)
				continue
			}
			s.handleCommand(cmd)
		case <-refresh:
			if connected {
				s.refreshScanners()
			}
		}
	}
}

// shutdown handles the commands queued ahead of the Disconnect.
func (s *Sim) shutdown(connected bool) {
	for {
		select {
		case cmd := <-s.commands:
			if connected {
				s.handleCommand(cmd)
			}
		default:
			s.logger.Info("engine_disconnected")
			return
		}
	}
}

func (s *Sim) handleCommand(cmd model.Command) {
	switch c := cmd.(type) {
	case model.StartScanner:
		s.store.AddScanner(c)
		s.emit(s.scan(c))
	case model.CancelScanner:
		if !s.store.RemoveScanner(c.ReqID) {
			s.fail(c.ReqID, CodeUnknownRequest, "no active scanner subscription")
		}
	case model.RequestHistoricalData:
		ev, code, err := s.history(c)
		if err != nil {
			s.fail(c.ReqID, code, err.Error())
			break
		}
		s.emit(ev)
	case model.RequestAccountData:
		ev, ok := s.account(c.AccountCode)
		if !ok {
			s.fail(-1, CodeUnknownAccount, "unknown account "+c.AccountCode)
			break
		}
		s.emit(ev)
	default:
		s.fail(-1, CodeUnsupportedInput, "unsupported command "+string(cmd.Kind()))
	}

	s.mu.Lock()
	s.metrics.CommandCount++
	s.metrics.LastCommandAt = time.Now()
	s.recentCmds = append(s.recentCmds, cmd)
	if len(s.recentCmds) > 50 {
		s.recentCmds = s.recentCmds[len(s.recentCmds)-50:]
	}
	s.mu.Unlock()
}

func (s *Sim) refreshScanners() {
	for _, sub := range s.store.Scanners() {
		s.emit(s.scan(sub))
	}
}

// account builds the summary for code. An empty code or "All" reports every account.
func (s *Sim) account(code string) (model.AccountSummaryEvent, bool) {
	ids := []string{code}
	if code == "" || code == "All" {
		ids = s.store.Accounts()
	}
	var ev model.AccountSummaryEvent
	for _, id := range ids {
		f, ok := s.store.Account(id)
		if !ok {
			return model.AccountSummaryEvent{}, false
		}
		ev.AccountValues = append(ev.AccountValues, f.Values...)
		ev.Positions = append(ev.Positions, f.Positions...)
	}
	return ev, true
}

func (s *Sim) fail(reqID, code int, msg string) {
	s.logger.Debug("engine_request_failed",
		zap.Int("req_id", reqID),
		zap.Int("code", code),
		zap.String("message", msg),
	)
	s.mu.Lock()
	s.metrics.ErrorCount++
	s.mu.Unlock()
	s.emit(model.ErrorEvent{ReqID: reqID, Code: code, Message: msg})
}

func (s *Sim) emit(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.metrics.EventCount++
	s.metrics.LastEventAt = time.Now()
}

func (s *Sim) endpointString() string {
	return s.endpoint.String()
}

// ConfigFrom builds the simulator configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	accounts := make([]AccountFixture, 0, len(cfg.Sim.Accounts))
	for _, acc := range cfg.Sim.Accounts {
		accounts = append(accounts, AccountFixture{
			ID:        acc.ID,
			Values:    acc.Values,
			Positions: acc.Positions,
		})
	}
	return Config{
		Handshake:       cfg.Sim.Handshake(),
		ScannerInterval: cfg.Sim.ScannerInterval(),
		ScannerRows:     cfg.Sim.ScannerRows,
		CommandCapacity: cfg.Bridge.CommandCapacity,
		Accounts:        accounts,
		Seed:            cfg.Sim.Seed,
	}
}
