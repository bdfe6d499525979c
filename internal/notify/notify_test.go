package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/events"
)

type fakeSender struct {
	name string
	sent []string
	err  error
}

func (s *fakeSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, title)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByKind(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []events.Kind{events.TradeExecuted}, testLogger())

	require.NoError(t, n.Notify(context.Background(), events.OpportunityDetected, "opp", ""))
	require.NoError(t, n.Notify(context.Background(), events.TradeExecuted, "trade", ""))

	assert.Equal(t, []string{"trade"}, s.sent)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), events.BookReset, "reset", ""))
	assert.Equal(t, []string{"reset"}, s.sent)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"title"}, good.sent)
}

func TestFormatTradeExecuted(t *testing.T) {
	ev := events.New(events.TradeExecuted, "polymarket:0xabc|kalshi:FED-26", map[string]any{
		"size": 25.0,
	})
	title, message := format(ev)
	assert.Equal(t, "Trade executed", title)
	assert.Contains(t, message, "market: polymarket:0xabc|kalshi:FED-26")
	assert.Contains(t, message, "size: 25")
}
