// Package notify delivers operator alerts. A Relay subscribes to the
// in-process event hub, formats the events operators care about, and fans
// them out to the configured senders (Telegram, Discord).
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oddsfair/arbot/internal/events"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel, e.g. "telegram".
	Name() string
}

// Notifier fans a notification out to all senders, filtered by event kind.
type Notifier struct {
	senders []Sender
	kinds   map[events.Kind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose kind appears in kinds are forwarded by Notify; an empty list allows
// everything.
func NewNotifier(senders []Sender, kinds []events.Kind, logger *slog.Logger) *Notifier {
	allowed := make(map[events.Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[events.Kind(strings.TrimSpace(string(k)))] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers to all senders if the kind passes the configured filter.
func (n *Notifier) Notify(ctx context.Context, kind events.Kind, title, message string) error {
	if len(n.kinds) > 0 && !n.kinds[kind] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", string(kind)))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers to all senders regardless of kind.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. A failing sender does not block the rest;
// failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
