// internal/browser/idle.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"
)

// networkTracker follows in-flight requests of a tab and notices when the
// target goes away underneath us.
type networkTracker struct {
	logger *zap.Logger

	mu       sync.RWMutex
	inflight map[network.RequestID]struct{}
	lastSeen time.Time
	gone     bool
}

func newNetworkTracker(logger *zap.Logger) *networkTracker {
	return &networkTracker{
		logger:   logger,
		inflight: make(map[network.RequestID]struct{}),
		lastSeen: time.Now(),
	}
}

// handle is registered with chromedp.ListenTarget. It runs on the event loop
// and must not block.
func (t *networkTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.start(e.RequestID)
	case *network.EventLoadingFinished:
		t.finish(e.RequestID)
	case *network.EventLoadingFailed:
		t.finish(e.RequestID)
	case *inspector.EventTargetCrashed:
		t.markGone("target crashed")
	case *inspector.EventDetached:
		t.markGone("inspector detached: " + string(e.Reason))
	}
}

func (t *networkTracker) start(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.lastSeen = time.Now()
}

func (t *networkTracker) finish(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	t.lastSeen = time.Now()
}

func (t *networkTracker) markGone(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.gone {
		t.logger.Warn("Browser target lost.", zap.String("reason", reason))
	}
	t.gone = true
	t.inflight = make(map[network.RequestID]struct{})
}

func (t *networkTracker) isGone() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gone
}

func (t *networkTracker) pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inflight)
}

// WaitIdle returns once no request has been in flight for quiet, or when ctx ends.
func (t *networkTracker) WaitIdle(ctx context.Context, quiet time.Duration) error {
	if quiet <= 0 {
		return nil
	}
	ticker := time.NewTicker(quiet / 2)
	defer ticker.Stop()

	for {
		t.mu.RLock()
		count, last := len(t.inflight), t.lastSeen
		t.mu.RUnlock()

		if count == 0 && time.Since(last) >= quiet {
			return nil
		}

		select {
		case <-ctx.Done():
			t.logger.Debug("Network idle wait aborted.", zap.Int("inflight", count), zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
