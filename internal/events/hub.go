package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/oddsfair/arbot/internal/domain"
)

// Channel is the signal bus channel the bridge publishes to.
const Channel = "arbot:events"

// Stream is the durable stream mirror.
const Stream = "arbot:events:stream"

// Hub fans events out to in-process subscribers. Slow subscribers drop
// events rather than block the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[int]chan Event),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Publish delivers an event to every subscriber, dropping on full buffers.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("subscriber buffer full, event dropped", slog.String("kind", string(ev.Kind)))
		}
	}
}

// Subscribe returns a buffered event channel and a cancel func.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Bridge forwards hub events onto the signal bus until ctx ends. Run it in
// its own goroutine.
func (h *Hub) Bridge(ctx context.Context, bus domain.SignalBus) error {
	ch, cancel := h.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal event", slog.Any("error", err))
				continue
			}
			if err := bus.Publish(ctx, Channel, payload); err != nil {
				h.logger.Warn("publish event to bus", slog.Any("error", err))
			}
			if err := bus.StreamAppend(ctx, Stream, payload); err != nil {
				h.logger.Warn("append event to stream", slog.Any("error", err))
			}
		}
	}
}
