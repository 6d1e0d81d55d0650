package bridge

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tws-bridge/internal/metrics"
)

// Connection parameters used when the caller leaves them unset.
const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 7497
	DefaultClientID = 0

	defaultConnectTimeout = 5 * time.Second
)

// Endpoint identifies the TWS or gateway instance an engine connects to.
type Endpoint struct {
	Host     string
	Port     int
	ClientID int
}

// String renders the endpoint as host:port/clientId.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%d", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), e.ClientID)
}

func (e Endpoint) withDefaults() Endpoint {
	if e.Host == "" {
		e.Host = DefaultHost
	}
	if e.Port <= 0 {
		e.Port = DefaultPort
	}
	if e.ClientID < 0 {
		e.ClientID = DefaultClientID
	}
	return e
}

// Option configures a Handle.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	metrics        *metrics.Bridge
	ledger         *Ledger
	defaults       Defaults
	autoStart      bool
	joinTimeout    time.Duration
	connectTimeout time.Duration
}

// WithLogger sets the handle logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the collectors the handle reports to.
func WithMetrics(m *metrics.Bridge) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLedger shares an allocation ledger, e.g. between handles of one process.
func WithLedger(l *Ledger) Option {
	return func(o *options) {
		o.ledger = l
	}
}

// WithDefaults sets the command defaults used by the handle's encoder.
func WithDefaults(d Defaults) Option {
	return func(o *options) {
		o.defaults = d
	}
}

// WithAutoStart starts the worker goroutine as part of Create.
func WithAutoStart(on bool) Option {
	return func(o *options) {
		o.autoStart = on
	}
}

// WithJoinTimeout bounds how long Destroy waits for the worker. Zero waits forever.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *options) {
		o.joinTimeout = d
	}
}

// WithConnectTimeout bounds how long Connect waits for the engine to become ready.
// A zero or negative value is replaced with the default (5s).
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}
