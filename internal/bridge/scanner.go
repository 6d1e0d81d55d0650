package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tws-bridge/internal/model"
)

// readier is implemented by engines that signal handshake completion.
type readier interface {
	Ready() <-chan struct{}
}

// Connect starts the worker if needed and waits until the engine reports that its
// handshake completed, bounded by ctx and the handle's connect timeout. Engines without
// a readiness signal are considered ready once started.
func (h *Handle) Connect(ctx context.Context) error {
	if h == nil {
		return ErrNilHandle
	}
	switch h.State() {
	case StateCreated:
		if err := h.Start(); err != nil {
			return err
		}
	case StateDestroyed:
		return ErrClosed
	}

	r, ok := h.engine.(readier)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.connectTimeout)
	defer cancel()

	select {
	case <-r.Ready():
		h.logger.Info("engine_ready")
		return nil
	case <-h.done:
		return fmt.Errorf("%w: engine exited: %v", ErrNotReady, h.runErr)
	case <-ctx.Done():
		h.logger.Warn("engine_not_ready", zap.Duration("timeout", h.connectTimeout))
		return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
	}
}

// PollScanner copies the items of the oldest available scanner result into out and
// returns how many were written, or -1 when no scanner result is available. Results
// with more items than len(out) are truncated. Nothing needs releasing.
//
// This surface drains the engine directly: events of any other kind are discarded, so
// it should not be mixed with Poll on the same handle.
func (h *Handle) PollScanner(out []ScannerItem) int {
	return h.PollScannerFunc(len(out), func(i int, it *ScannerItem) { out[i] = *it })
}

// PollScannerFunc is PollScanner for callers with their own item storage. fn is called
// in rank order for at most limit items; it receives a scratch item owned by the handle
// that is overwritten by the next call, so fn must copy what it keeps.
func (h *Handle) PollScannerFunc(limit int, fn func(i int, it *ScannerItem)) int {
	if h == nil || limit <= 0 || fn == nil || h.State() == StateDestroyed {
		return -1
	}
	if len(h.scanPending) == 0 {
		h.metrics.Drained()
		for _, ev := range h.engine.Drain() {
			sr, ok := deref(ev).(model.ScannerResult)
			if !ok {
				h.metrics.Dropped(fmt.Sprintf("%T", ev))
				continue
			}
			h.metrics.Event(string(sr.Kind()))
			h.scanPending = append(h.scanPending, sr)
		}
	}
	if len(h.scanPending) == 0 {
		return -1
	}

	sr := h.scanPending[0]
	h.scanPending[0] = model.ScannerResult{}
	h.scanPending = h.scanPending[1:]

	n := min(len(sr.Items), limit)
	for i := range n {
		fillScannerItem(&h.scanItem, &sr.Items[i])
		fn(i, &h.scanItem)
	}
	return n
}
