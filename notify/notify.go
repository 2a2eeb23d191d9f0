// Package notify defines the user-facing notification sink. Delivery is
// fire-and-forget; a Notifier must never block or fail the caller.
package notify

import (
	"context"
	"log/slog"
)

// Kind classifies a notification.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notifier delivers user-facing notifications.
type Notifier interface {
	Notify(kind Kind, title, message string)
}

// LogNotifier writes notifications to a structured logger. It stands in
// for a real delivery channel (email, push, in-app) in server and test
// deployments.
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a Notifier backed by the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(kind Kind, title, message string) {
	level := slog.LevelInfo
	switch kind {
	case KindWarning:
		level = slog.LevelWarn
	case KindError:
		level = slog.LevelError
	}
	n.logger.Log(context.Background(), level, title, "kind", string(kind), "message", message)
}

// Discard is a Notifier that drops everything.
type Discard struct{}

var _ Notifier = Discard{}

func (Discard) Notify(Kind, string, string) {}
