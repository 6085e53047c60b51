// Package ext defines the extension system for Courier.
// Extensions are notified of message lifecycle events (enqueued,
// delivered, failed, etc.) and can react to them — logging, metrics,
// webhooks, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/courier/message"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Message lifecycle hooks
// ──────────────────────────────────────────────────

// MessageEnqueued is called after a message is accepted and queued.
type MessageEnqueued interface {
	OnMessageEnqueued(ctx context.Context, m *message.Message) error
}

// MessageStarted is called when a worker begins a delivery attempt on a
// channel. It fires once per channel the message is tried on.
type MessageStarted interface {
	OnMessageStarted(ctx context.Context, m *message.Message, ch message.Channel) error
}

// MessageRetrying is called when an attempt fails and another attempt
// on the same channel is scheduled.
type MessageRetrying interface {
	OnMessageRetrying(ctx context.Context, m *message.Message, ch message.Channel, attempt int, delay time.Duration) error
}

// ChannelExhausted is called when a channel's retry budget is spent and
// the dispatcher moves on to a fallback channel (or gives up).
type ChannelExhausted interface {
	OnChannelExhausted(ctx context.Context, m *message.Message, ch message.Channel, err error) error
}

// MessageDelivered is called after a provider accepts the message.
type MessageDelivered interface {
	OnMessageDelivered(ctx context.Context, m *message.Message, ch message.Channel, elapsed time.Duration) error
}

// MessageFailed is called when every channel in the fallback chain has
// been exhausted and the message is terminally failed.
type MessageFailed interface {
	OnMessageFailed(ctx context.Context, m *message.Message, err error) error
}

// MessageExpired is called when a message passes its expiry before a
// successful delivery.
type MessageExpired interface {
	OnMessageExpired(ctx context.Context, m *message.Message) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
