// Package notify delivers onboarding notifications, such as a reversal
// request awaiting review, to people and downstream systems.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/partnerhub/model"
)

// Notification describes a state transition worth telling someone about.
type Notification struct {
	Event     string       `json:"event"`
	PartnerID string       `json:"partner_id"`
	RequestID string       `json:"request_id,omitempty"`
	FromStage *model.Stage `json:"from_stage,omitempty"`
	ToStage   *model.Stage `json:"to_stage,omitempty"`
	Actor     string       `json:"actor"`
	Reason    string       `json:"reason,omitempty"`
	Comments  string       `json:"comments,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs each notification at info level.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("event", n.Event),
		zap.String("partner_id", n.PartnerID),
		zap.String("actor", n.Actor),
		zap.Time("timestamp", n.Timestamp),
	}
	if n.RequestID != "" {
		fields = append(fields, zap.String("request_id", n.RequestID))
	}
	if n.FromStage != nil {
		fields = append(fields, zap.Stringer("from_stage", *n.FromStage))
	}
	if n.ToStage != nil {
		fields = append(fields, zap.Stringer("to_stage", *n.ToStage))
	}
	if n.Reason != "" {
		fields = append(fields, zap.String("reason", n.Reason))
	}
	if n.Comments != "" {
		fields = append(fields, zap.String("comments", n.Comments))
	}
	l.logger.Info("onboarding notification", fields...)
	return nil
}

// Multi fans a notification out to several notifiers. Every notifier is
// called even when an earlier one fails.
type Multi []Notifier

// Notify delivers to every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
