package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polymirror/internal/domain"
)

type fakeSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	bodies []string
	err    error
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersDisallowedEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventCopyExecuted}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventCashout, "ignored", "msg"))
	require.NoError(t, n.Notify(context.Background(), EventCopyExecuted, "delivered", "msg"))

	assert.Equal(t, []string{"delivered"}, s.sent())
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.sent(), 1)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.sent(), 1, "healthy sender still delivers")
}

func TestAlertsSkipSilentStatuses(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())
	alerts := NewCopyTradeAlerts(n)

	alerts.TradeRecorded(domain.CopyTrade{Status: domain.CopyTradeSkipped})
	alerts.FeeDistributed(domain.FeeDistribution{Status: domain.FeeEventPending})
	assert.Empty(t, s.sent())

	alerts.TradeRecorded(domain.CopyTrade{
		Status:      domain.CopyTradeExecuted,
		Side:        domain.SideBuy,
		Trader:      "0xabcdef1234567890abcdef1234567890abcdef12",
		Title:       "Will it rain tomorrow?",
		ExecutedUSD: 42.5,
	})
	require.Len(t, s.sent(), 1)
	assert.Equal(t, "Copy executed", s.sent()[0])
	assert.Contains(t, s.bodies[0], "Will it rain tomorrow?")
	assert.Contains(t, s.bodies[0], "$42.50")
}

func TestAlertsFailureGoesOutAsError(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventError}, discardLogger())
	alerts := NewCopyTradeAlerts(n)

	alerts.TradeRecorded(domain.CopyTrade{
		Status: domain.CopyTradeFailed,
		Side:   domain.SideSell,
		Reason: "empty order book",
	})

	require.Len(t, s.sent(), 1)
	assert.Equal(t, "Copy failed", s.sent()[0])
	assert.Contains(t, s.bodies[0], "empty order book")
}
