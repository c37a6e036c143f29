// internal/browser/idle_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestNetworkTracker_WaitIdle(t *testing.T) {
	tr := newNetworkTracker(zaptest.NewLogger(t))
	tr.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	tr.handle(&network.EventRequestWillBeSent{RequestID: "2"})
	assert.Equal(t, 2, tr.pending())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.WaitIdle(ctx, 20*time.Millisecond), context.DeadlineExceeded, "requests still in flight")

	tr.handle(&network.EventLoadingFinished{RequestID: "1"})
	tr.handle(&network.EventLoadingFailed{RequestID: "2"})
	assert.Zero(t, tr.pending())

	start := time.Now()
	require.NoError(t, tr.WaitIdle(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond, "waits out the quiet period")
}

func TestNetworkTracker_ZeroQuietReturnsImmediately(t *testing.T) {
	tr := newNetworkTracker(zaptest.NewLogger(t))
	tr.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	assert.NoError(t, tr.WaitIdle(context.Background(), 0))
}

func TestNetworkTracker_TargetLoss(t *testing.T) {
	tr := newNetworkTracker(zaptest.NewLogger(t))
	tr.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	assert.False(t, tr.isGone())

	tr.handle(&inspector.EventTargetCrashed{})
	assert.True(t, tr.isGone())
	assert.Zero(t, tr.pending())
}

func TestNetworkTracker_DetachLogsReason(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tr := newNetworkTracker(zap.New(core))

	tr.handle(&inspector.EventDetached{Reason: inspector.DetachReason("target_closed")})
	assert.True(t, tr.isGone())

	entries := logs.FilterMessage("Browser target lost.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "inspector detached: target_closed", entries[0].ContextMap()["reason"])
}
