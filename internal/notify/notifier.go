// Package notify forwards selected market events to operator chat channels
// (Telegram, Discord). Events are filtered by kind so operators receive only
// the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. NotifyEvent only
// forwards events whose kind is in the allowed set; NotifyAll bypasses it.
type Notifier struct {
	senders []Sender
	events  map[domain.EventKind]bool
	format  Formatter
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. An empty events list
// allows every kind.
func NewNotifier(senders []Sender, events []string, format Formatter, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		allowed[domain.EventKind(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		format:  format,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// NotifyEvent renders ev and sends it if its kind is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if len(n.events) > 0 && !n.events[ev.Kind] {
		return nil
	}
	title, body := n.format.Render(ev)
	return n.dispatch(ctx, title, body)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failure does not stop the others.
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
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
