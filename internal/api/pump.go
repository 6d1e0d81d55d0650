package api

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"tws-bridge/internal/bridge"
)

// maxPerTick bounds how many records one pump tick consumes.
const maxPerTick = 512

// Poller is the consuming side of a bridge handle.
type Poller interface {
	Next(fn func(rec *bridge.Record) error) (bool, error)
}

// Sink receives every delivered record before it is released. It must not retain rec.
type Sink func(ctx context.Context, rec *bridge.Record) error

// Recent keeps the JSON form of the most recently delivered records.
type Recent struct {
	mu    sync.RWMutex
	items []json.RawMessage
	next  int
	full  bool
}

// NewRecent creates a buffer holding up to size records.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = 1
	}
	return &Recent{items: make([]json.RawMessage, size)}
}

// Add stores payload, evicting the oldest entry when full.
func (r *Recent) Add(payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = payload
	r.next++
	if r.next == len(r.items) {
		r.next = 0
		r.full = true
	}
}

// Snapshot returns up to limit entries, oldest first. A non-positive limit returns all.
func (r *Recent) Snapshot(limit int) []json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	start := 0
	if r.full {
		n = len(r.items)
		start = r.next
	}
	if limit > 0 && limit < n {
		start = (start + n - limit) % len(r.items)
		n = limit
	}
	out := make([]json.RawMessage, 0, n)
	for i := range n {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}

// Pump is the single consumer of a bridge handle. Every tick it polls records until the
// handle has none left, hands each to the hub, the recent buffer and the sinks, then
// releases it.
type Pump struct {
	poller   Poller
	hub      *Hub
	recent   *Recent
	sinks    []Sink
	interval time.Duration
	logger   *zap.Logger
}

// NewPump creates a pump. hub and recent may be nil.
func NewPump(poller Poller, hub *Hub, recent *Recent, interval time.Duration, logger *zap.Logger, sinks ...Sink) *Pump {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pump{
		poller:   poller,
		hub:      hub,
		recent:   recent,
		sinks:    sinks,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("pump_started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pump_stopped")
			return nil
		case <-ticker.C:
			p.Drain(ctx)
		}
	}
}

// Drain consumes available records and returns how many were handled.
func (p *Pump) Drain(ctx context.Context) int {
	n := 0
	for n < maxPerTick {
		ok, err := p.poller.Next(func(rec *bridge.Record) error {
			return p.deliver(ctx, rec)
		})
		if !ok {
			break
		}
		if err != nil {
			p.logger.Warn("record_delivery_failed", zap.Error(err))
		}
		n++
	}
	return n
}

func (p *Pump) deliver(ctx context.Context, rec *bridge.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if p.recent != nil {
		p.recent.Add(payload)
	}
	if p.hub != nil {
		p.hub.Broadcast(rec.Kind.String(), json.RawMessage(payload))
	}
	for _, sink := range p.sinks {
		if err := sink(ctx, rec); err != nil {
			p.logger.Warn("sink_failed", zap.String("kind", rec.Kind.String()), zap.Error(err))
		}
	}
	return nil
}
