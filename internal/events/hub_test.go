package events

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishFansOut(t *testing.T) {
	h := testHub()
	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelA()
	defer cancelB()

	h.Publish(New(TradeExecuted, "polymarket:m1", nil))

	evA := <-a
	evB := <-b
	assert.Equal(t, TradeExecuted, evA.Kind)
	assert.Equal(t, evA.Key, evB.Key)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := testHub()
	ch, cancel := h.Subscribe(1)
	defer cancel()

	h.Publish(New(PositionOpened, "k", nil))
	h.Publish(New(PositionClosed, "k", nil)) // dropped, buffer full

	ev := <-ch
	assert.Equal(t, PositionOpened, ev.Kind)
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h := testHub()
	ch, cancel := h.Subscribe(1)
	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)
	// Publishing after cancel must not panic.
	h.Publish(New(BookReset, "tok", nil))
}
