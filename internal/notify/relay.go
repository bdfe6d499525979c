package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/oddsfair/arbot/internal/events"
)

// Relay consumes the event hub and turns selected events into operator
// notifications.
type Relay struct {
	hub      *events.Hub
	notifier *Notifier
}

// NewRelay creates a relay between the hub and the notifier.
func NewRelay(hub *events.Hub, notifier *Notifier) *Relay {
	return &Relay{hub: hub, notifier: notifier}
}

// Run forwards events until ctx ends. Delivery errors are already logged by
// the notifier, so the relay keeps going regardless.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel := r.hub.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			title, message := format(ev)
			_ = r.notifier.Notify(ctx, ev.Kind, title, message)
		}
	}
}

// format renders an event as a short title plus a key/value body.
func format(ev events.Event) (title, message string) {
	switch ev.Kind {
	case events.TradeExecuted:
		title = "Trade executed"
	case events.PartialFillUnwound:
		title = "Partial fill unwound"
	case events.RiskHalted:
		title = "Trading halted by risk manager"
	case events.PositionClosed:
		title = "Position closed"
	case events.ExitIncomplete:
		title = "Exit left residual size"
	case events.OpportunityDetected:
		title = "Opportunity detected"
	default:
		title = strings.ReplaceAll(string(ev.Kind), "_", " ")
	}

	var b strings.Builder
	if ev.Key != "" {
		fmt.Fprintf(&b, "market: %s\n", ev.Key)
	}
	for k, v := range ev.Fields {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return title, strings.TrimRight(b.String(), "\n")
}
