package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tws-bridge/internal/metrics"
	"tws-bridge/internal/model"
)

var (
	ErrNilHandle      = errors.New("bridge: nil handle")
	ErrNilEngine      = errors.New("bridge: nil engine")
	ErrNilCommand     = errors.New("bridge: nil command")
	ErrClosed         = errors.New("bridge: handle destroyed")
	ErrAlreadyStarted = errors.New("bridge: worker already started")
	ErrNotReady       = errors.New("bridge: engine not ready")
	ErrJoinTimeout    = errors.New("bridge: worker did not exit")
)

// Engine is the trading client the bridge drives. Submit and Drain must be safe to call
// from any goroutine while Run is executing on the worker goroutine.
type Engine interface {
	// Submit queues a command without blocking.
	Submit(cmd model.Command) error
	// Drain returns and clears every event produced since the previous call, without blocking.
	Drain() []model.Event
	// Run blocks until a Disconnect command has been observed.
	Run() error
}

// EngineFactory creates the engine for a handle.
type EngineFactory func(Endpoint) (Engine, error)

// State is a handle lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDisconnecting
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDisconnecting:
		return "disconnecting"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handle owns one engine, the worker goroutine running it, and the ready buffer of
// records awaiting delivery.
//
// Commands may be submitted from any goroutine. Poll, Next, PollScanner, Connect and
// Destroy must all be called from a single consumer goroutine; calling them concurrently,
// or destroying the handle while another goroutine polls it, is undefined behavior.
type Handle struct {
	id       string
	endpoint Endpoint
	engine   Engine
	enc      *Encoder
	tr       *Translator
	ledger   *Ledger
	logger   *zap.Logger
	metrics  *metrics.Bridge

	joinTimeout    time.Duration
	connectTimeout time.Duration

	ready       readyBuffer
	depth       atomic.Int32
	scanPending []model.ScannerResult
	scanItem    ScannerItem

	mu      sync.Mutex
	state   atomic.Int32
	started bool
	done    chan struct{}
	runErr  error
}

// Create builds the engine for ep through factory and returns a handle owning it.
// Zero-valued endpoint fields take the package defaults. With WithAutoStart the worker
// goroutine is started before Create returns; otherwise call Start.
func Create(ep Endpoint, factory EngineFactory, opts ...Option) (*Handle, error) {
	if factory == nil {
		return nil, ErrNilEngine
	}
	o := options{connectTimeout: defaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.ledger == nil {
		o.ledger = NewLedger()
	}
	if o.connectTimeout <= 0 {
		o.connectTimeout = defaultConnectTimeout
	}

	ep = ep.withDefaults()
	eng, err := factory(ep)
	if err != nil {
		return nil, fmt.Errorf("creating engine for %s:%d: %w", ep.Host, ep.Port, err)
	}
	if eng == nil {
		return nil, ErrNilEngine
	}

	id := uuid.NewString()
	logger := o.logger.With(zap.String("handle", id))
	h := &Handle{
		id:             id,
		endpoint:       ep,
		engine:         eng,
		enc:            NewEncoder(o.defaults),
		tr:             NewTranslator(o.ledger, logger, o.metrics),
		ledger:         o.ledger,
		logger:         logger,
		metrics:        o.metrics,
		joinTimeout:    o.joinTimeout,
		connectTimeout: o.connectTimeout,
		done:           make(chan struct{}),
	}
	logger.Info("handle_created",
		zap.String("host", ep.Host),
		zap.Int("port", ep.Port),
		zap.Int("client_id", ep.ClientID),
		zap.Bool("auto_start", o.autoStart),
	)

	if o.autoStart {
		if err := h.Start(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// ID returns the handle's unique id.
func (h *Handle) ID() string { return h.id }

// Endpoint returns the connection parameters after defaults were applied.
func (h *Handle) Endpoint() Endpoint { return h.endpoint }

// Ledger returns the ledger the handle's records are charged to.
func (h *Handle) Ledger() *Ledger { return h.ledger }

// Encoder returns the handle's command encoder.
func (h *Handle) Encoder() *Encoder { return h.enc }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Buffered returns the number of records waiting in the ready buffer. Unlike Poll it
// may be called from any goroutine.
func (h *Handle) Buffered() int { return int(h.depth.Load()) }

// Done is closed once the worker goroutine has left the engine's run loop.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error the engine's run loop ended with, or nil while it is still running.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.runErr
	default:
		return nil
	}
}

// Start launches the worker goroutine running the engine loop.
func (h *Handle) Start() error {
	if h == nil {
		return ErrNilHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.State() {
	case StateCreated:
	case StateDestroyed:
		return ErrClosed
	default:
		return ErrAlreadyStarted
	}
	h.state.Store(int32(StateRunning))
	h.started = true
	go h.work()
	return nil
}

func (h *Handle) work() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			h.runErr = fmt.Errorf("engine run loop panicked: %v", r)
			h.logger.Error("worker_panic",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()

	h.logger.Info("worker_started")
	err := h.engine.Run()
	h.runErr = err
	if err != nil {
		h.logger.Warn("worker_exited", zap.Error(err))
		return
	}
	h.logger.Info("worker_exited")
}

// Submit hands a prebuilt command to the engine.
func (h *Handle) Submit(cmd model.Command) error {
	if h == nil {
		return ErrNilHandle
	}
	if cmd == nil {
		return ErrNilCommand
	}
	if h.State() == StateDestroyed {
		return ErrClosed
	}
	if _, ok := cmd.(model.Disconnect); ok {
		h.state.CompareAndSwap(int32(StateRunning), int32(StateDisconnecting))
	}
	if err := h.engine.Submit(cmd); err != nil {
		return fmt.Errorf("submitting %s: %w", cmd.Kind(), err)
	}
	return nil
}

// RequestHistoricalData submits a historical data request. Empty duration, bar size and
// what-to-show arguments take the encoder defaults.
func (h *Handle) RequestHistoricalData(reqID int, symbol, endDateTime, durationStr, barSizeSetting, whatToShow string, useRTH int) error {
	if h == nil {
		return ErrNilHandle
	}
	return h.Submit(h.enc.HistoricalData(reqID, symbol, endDateTime, durationStr, barSizeSetting, whatToShow, useRTH))
}

// StartScanner submits a scanner subscription. An empty location code takes the default.
func (h *Handle) StartScanner(reqID int, scanCode, locationCode string, priceAbove float64) error {
	if h == nil {
		return ErrNilHandle
	}
	return h.Submit(h.enc.StartScanner(reqID, scanCode, locationCode, priceAbove))
}

// CancelScanner submits a scanner cancellation.
func (h *Handle) CancelScanner(reqID int) error {
	if h == nil {
		return ErrNilHandle
	}
	return h.Submit(h.enc.CancelScanner(reqID))
}

// RequestAccountData submits an account data subscription.
func (h *Handle) RequestAccountData(accountCode string) error {
	if h == nil {
		return ErrNilHandle
	}
	return h.Submit(h.enc.AccountData(accountCode))
}

// Disconnect asks the engine to leave its run loop. It does not wait; Destroy does.
func (h *Handle) Disconnect() error {
	if h == nil {
		return ErrNilHandle
	}
	return h.Submit(h.enc.Disconnect())
}

// Poll moves the oldest undelivered record into out and reports whether there was one.
// When the ready buffer is empty it drains the engine once and tries again. Poll never
// blocks. On false, out is reset to KindNone. The caller owns the delivered record and
// must Release it; a record already in out is overwritten, not released.
func (h *Handle) Poll(out *Record) bool {
	if out == nil {
		return false
	}
	if h == nil || h.State() == StateDestroyed {
		*out = Record{}
		return false
	}
	if rec, ok := h.ready.pop(); ok {
		h.deliver(out, rec)
		return true
	}
	h.refill()
	if rec, ok := h.ready.pop(); ok {
		h.deliver(out, rec)
		return true
	}
	*out = Record{}
	return false
}

// Next polls one record and passes it to fn. The record is released when fn returns,
// on every path. It reports whether a record was available.
func (h *Handle) Next(fn func(rec *Record) error) (bool, error) {
	var rec Record
	if !h.Poll(&rec) {
		return false, nil
	}
	defer rec.Release()
	if fn == nil {
		return true, nil
	}
	return true, fn(&rec)
}

func (h *Handle) refill() {
	events := h.engine.Drain()
	h.metrics.Drained()
	var recs []Record
	for _, ev := range events {
		recs = h.tr.Translate(ev, recs)
	}
	h.ready.push(recs...)
	h.setDepth(h.ready.len())
}

func (h *Handle) deliver(out *Record, rec Record) {
	*out = rec
	h.metrics.Delivered(rec.Kind.String())
	h.setDepth(h.ready.len())
}

// setDepth publishes the ready buffer depth for readers on other goroutines.
func (h *Handle) setDepth(n int) {
	h.depth.Store(int32(n))
	h.metrics.Buffered(n)
}

// Destroy disconnects the engine, waits for the worker goroutine to exit, releases the
// engine and every undelivered record. The wait is bounded only by WithJoinTimeout.
// Calling Destroy again is a no-op.
func (h *Handle) Destroy() error {
	return h.DestroyContext(context.Background())
}

// DestroyContext is Destroy with the worker join bounded by ctx as well.
//
// If the worker does not exit in time it is abandoned: the engine is not closed because
// the worker may still be using it, the ready buffer is still flushed, and the returned
// error wraps ErrJoinTimeout.
func (h *Handle) DestroyContext(ctx context.Context) error {
	if h == nil {
		return ErrNilHandle
	}
	h.mu.Lock()
	if h.State() == StateDestroyed {
		h.mu.Unlock()
		return nil
	}
	started := h.started
	h.state.Store(int32(StateDisconnecting))
	h.mu.Unlock()

	if err := h.engine.Submit(model.Disconnect{}); err != nil {
		h.logger.Debug("disconnect_submit_failed", zap.Error(err))
	}

	var joinErr error
	if started {
		if h.joinTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.joinTimeout)
			defer cancel()
		}
		select {
		case <-h.done:
		case <-ctx.Done():
			joinErr = fmt.Errorf("%w: %w", ErrJoinTimeout, ctx.Err())
		}
	}

	if joinErr == nil {
		if c, ok := h.engine.(io.Closer); ok {
			if err := c.Close(); err != nil {
				h.logger.Warn("engine_close_failed", zap.Error(err))
			}
		}
	} else {
		h.logger.Error("worker_abandoned", zap.Error(joinErr))
	}

	flushed := h.ready.flush()
	h.scanPending = nil
	h.metrics.Flushed(flushed)
	h.setDepth(0)
	h.state.Store(int32(StateDestroyed))

	h.logger.Info("handle_destroyed",
		zap.Int("flushed", flushed),
		zap.Int64("outstanding", h.ledger.Outstanding()),
	)
	return joinErr
}
