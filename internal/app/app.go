package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tws-bridge/internal/api"
	"tws-bridge/internal/bridge"
	"tws-bridge/internal/config"
	"tws-bridge/internal/engine"
	"tws-bridge/internal/logging"
	"tws-bridge/internal/metrics"
	"tws-bridge/internal/publish"
)

const version = "0.3.0"

var errEngineExited = errors.New("engine run loop exited")

// App is the application lifecycle manager.
type App struct {
	cfg *config.Config
}

// New creates a new App instance.
func New(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// Status is the payload of /api/status.
type Status struct {
	Version     string         `json:"version"`
	Handle      string         `json:"handle"`
	Endpoint    string         `json:"endpoint"`
	State       string         `json:"state"`
	Buffered    int            `json:"buffered"`
	Allocated   int64          `json:"allocated"`
	Freed       int64          `json:"freed"`
	Outstanding int64          `json:"outstanding"`
	WSClients   int            `json:"wsClients"`
	Engine      *engine.Status `json:"engine,omitempty"`
}

// Run starts the handle, the record pump, the API server and signal handling. It
// blocks until ctx is cancelled, a termination signal arrives or the engine exits.
func (a *App) Run(ctx context.Context) error {
	log, err := logging.Build(a.cfg.App.LogLevel, a.cfg.App.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting twsbridge",
		zap.String("version", version),
		zap.String("env", a.cfg.App.Env),
		zap.String("log_level", a.cfg.App.LogLevel),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ledger := bridge.NewLedger()
	m := metrics.New(reg, ledger.Outstanding)

	var sim *engine.Sim
	factory := engine.Factory(engine.ConfigFrom(a.cfg), log.Named("engine"), func(s *engine.Sim) { sim = s })

	h, err := bridge.Create(bridge.Endpoint{
		Host:     a.cfg.Bridge.Host,
		Port:     a.cfg.Bridge.Port,
		ClientID: a.cfg.Bridge.ClientID,
	}, factory,
		bridge.WithLogger(log.Named("bridge")),
		bridge.WithMetrics(m),
		bridge.WithLedger(ledger),
		bridge.WithDefaults(bridge.Defaults{
			DurationStr:    a.cfg.Defaults.DurationStr,
			BarSizeSetting: a.cfg.Defaults.BarSizeSetting,
			WhatToShow:     a.cfg.Defaults.WhatToShow,
			LocationCode:   a.cfg.Defaults.LocationCode,
		}),
		bridge.WithAutoStart(*a.cfg.Bridge.AutoStart),
		bridge.WithJoinTimeout(a.cfg.Bridge.JoinTimeout()),
		bridge.WithConnectTimeout(a.cfg.Bridge.ConnectTimeout()),
	)
	if err != nil {
		return fmt.Errorf("creating bridge handle: %w", err)
	}
	defer func() {
		if err := h.Destroy(); err != nil {
			log.Error("handle_destroy_failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := h.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", h.Endpoint(), err)
	}

	var sinks []api.Sink
	if a.cfg.Publish.Enabled {
		pub, err := a.publisher(log)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		sinks = append(sinks, pub.Publish)
	}

	recent := api.NewRecent(a.cfg.API.RecentRecords)
	srv := api.NewServer(api.Config{
		Address:            a.cfg.API.ListenAddress,
		RateLimitPerMinute: a.cfg.API.RateLimitPerMinute,
		RateLimitBurst:     a.cfg.API.RateLimitBurst,
	}, h, recent, log.Named("api"))
	srv.SetGatherer(reg)
	srv.SetStatus(func() any {
		st := Status{
			Version:     version,
			Handle:      h.ID(),
			Endpoint:    h.Endpoint().String(),
			State:       h.State().String(),
			Buffered:    h.Buffered(),
			Allocated:   ledger.Allocated(),
			Freed:       ledger.Freed(),
			Outstanding: ledger.Outstanding(),
			WSClients:   srv.Hub().ClientCount(),
		}
		if sim != nil {
			es := sim.Status()
			st.Engine = &es
		}
		return st
	})

	pump := api.NewPump(h, srv.Hub(), recent, a.cfg.API.PollInterval(), log.Named("pump"), sinks...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return guard(log, "pump", func() error { return pump.Run(gctx) }) })
	g.Go(func() error { return guard(log, "api", func() error { return srv.Run(gctx) }) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-h.Done():
			return errEngineExited
		}
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errEngineExited):
		log.Info("engine_stopped", zap.NamedError("run_error", h.Err()))
		err = nil
	case err != nil:
		log.Error("fatal_error", zap.Error(err))
	}

	log.Info("twsbridge stopped",
		zap.Int64("outstanding", ledger.Outstanding()),
	)
	return err
}

// publisher connects to NATS when a URL is configured and falls back to an
// in-process broker otherwise.
func (a *App) publisher(log *zap.Logger) (*publish.Publisher, error) {
	var broker publish.Broker
	if url := a.cfg.Publish.NatsURL; url != "" {
		nb, err := publish.NewNatsBroker(url)
		if err != nil {
			return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
		}
		broker = nb
		log.Info("publisher_nats", zap.String("url", url))
	} else {
		broker = publish.NewMemBroker()
		log.Info("publisher_memory")
	}
	return publish.NewPublisher(broker, a.cfg.Publish.TopicPrefix, log.Named("publish")), nil
}

// guard runs fn and turns a panic into an error.
func guard(log *zap.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("goroutine_panic",
				zap.String("goroutine", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	start := time.Now()
	err = fn()
	log.Debug("goroutine_exited", zap.String("goroutine", name), zap.Duration("uptime", time.Since(start)))
	return err
}
