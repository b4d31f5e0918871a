// Package notify defines the outbound notification boundary used by
// workflow RUN steps. The core never talks to an email or SMS provider
// directly; hosts supply a Notifier and the automation library calls it
// through a Guard that shields the provider from failure storms and
// bursts.
package notify

import (
	"context"
	"log/slog"
)

// Message is one outbound notification.
type Message struct {
	// To is the recipient address: an email address or E.164 phone
	// number depending on Channel.
	To string

	// Channel selects the delivery medium.
	Channel Channel

	// Subject is used by email channels and ignored elsewhere.
	Subject string

	// Body is the rendered message body.
	Body string

	// Meta carries provider-specific fields (template ids, campaign
	// tags) passed through untouched.
	Meta map[string]string
}

// Channel is the delivery medium for a message.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Notifier delivers messages. Implementations are host-supplied and
// should be idempotent per message where possible, since workflow steps
// execute at least once.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Nop discards all messages. Useful in tests and dry runs.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }

// Logging wraps a Notifier and logs every send.
func Logging(inner Notifier, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return Func(func(ctx context.Context, msg Message) error {
		err := inner.Send(ctx, msg)
		if err != nil {
			logger.Error("notification failed",
				"channel", string(msg.Channel), "to", msg.To, "error", err)
			return err
		}
		logger.Debug("notification sent",
			"channel", string(msg.Channel), "to", msg.To, "subject", msg.Subject)
		return nil
	})
}
