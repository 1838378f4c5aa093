// Package notify fans events out to operator channels (Telegram, Discord)
// and to the in-app signal bus that feeds browser toasts. Each route carries
// its own event filter, so operators can subscribe to failures only while
// browsers see every transaction phase.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event kinds.
const (
	KindTxSubmitted = "tx_submitted"
	KindTxConfirmed = "tx_confirmed"
	KindTxFailed    = "tx_failed"
	KindJobFailed   = "job_failed"
	KindDeployed    = "deployed"
)

// Event is one notification.
type Event struct {
	Kind    string            `json:"kind"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}

// Sender delivers events to one channel.
type Sender interface {
	Send(ctx context.Context, ev Event) error
	Name() string
}

// Route pairs a sender with the event kinds it receives. An empty Kinds list
// receives everything.
type Route struct {
	Sender Sender
	Kinds  []string
}

type route struct {
	sender Sender
	kinds  map[string]bool
}

// Notifier dispatches events to every matching route.
type Notifier struct {
	routes []route
	now    func() time.Time
	logger *slog.Logger
}

// NewNotifier builds a Notifier. Routes with a nil sender are ignored.
func NewNotifier(logger *slog.Logger, routes ...Route) *Notifier {
	n := &Notifier{now: time.Now, logger: logger.With(slog.String("component", "notifier"))}
	for _, r := range routes {
		if r.Sender == nil {
			continue
		}
		kinds := make(map[string]bool, len(r.Kinds))
		for _, k := range r.Kinds {
			kinds[strings.TrimSpace(k)] = true
		}
		n.routes = append(n.routes, route{sender: r.Sender, kinds: kinds})
	}
	return n
}

// Notify sends ev to every route that accepts its kind. A failing sender does
// not stop delivery to the others; all failures are joined into the returned
// error.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if n == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = n.now()
	}

	var errs []error
	for _, r := range n.routes {
		if len(r.kinds) > 0 && !r.kinds[ev.Kind] {
			continue
		}
		if err := r.sender.Send(ctx, ev); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", r.sender.Name()),
				slog.String("kind", ev.Kind),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", r.sender.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", r.sender.Name()),
			slog.String("kind", ev.Kind),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// text renders an event as plain lines for chat channels.
func text(ev Event) string {
	var b strings.Builder
	b.WriteString(ev.Message)
	for _, k := range sortedKeys(ev.Fields) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(ev.Fields[k])
	}
	return b.String()
}
