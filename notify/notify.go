// Package notify delivers engine events to outside channels. Delivery is
// best-effort and fire-and-forget: a notification failure never blocks or
// reverts a position mutation.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Kind classifies an event.
type Kind string

const (
	KindSignal Kind = "signal"
	KindTrade  Kind = "trade"
	KindError  Kind = "error"
	KindRisk   Kind = "risk"
)

// Event is one notification. Data carries the structured payload.
type Event struct {
	Kind  Kind
	Title string
	Body  string
	Data  map[string]string
}

// Notifier sends a single event. Implementations should respect ctx but
// callers treat every error as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans one event out to several channels. It always reports the
// first error but delivers to every channel regardless.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Log writes events to the engine's structured log. It is the fallback
// channel when no external channel is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, ev Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", string(ev.Kind), "body", ev.Body}
	for _, k := range sortedKeys(ev.Data) {
		attrs = append(attrs, k, ev.Data[k])
	}
	logger.Info("notify: "+ev.Title, attrs...)
	return nil
}

// Noop discards events.
type Noop struct{}

func (Noop) Notify(context.Context, Event) error { return nil }

// Format renders an event as a plain-text message, one payload field per
// line, in stable order.
func Format(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n%s", strings.ToUpper(string(ev.Kind)), ev.Title, ev.Body)
	for _, k := range sortedKeys(ev.Data) {
		fmt.Fprintf(&b, "\n%s: %s", k, ev.Data[k])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
