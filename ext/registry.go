package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/message"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type messageEnqueuedEntry struct {
	name string
	hook MessageEnqueued
}

type messageStartedEntry struct {
	name string
	hook MessageStarted
}

type messageRetryingEntry struct {
	name string
	hook MessageRetrying
}

type channelExhaustedEntry struct {
	name string
	hook ChannelExhausted
}

type messageDeliveredEntry struct {
	name string
	hook MessageDelivered
}

type messageFailedEntry struct {
	name string
	hook MessageFailed
}

type messageExpiredEntry struct {
	name string
	hook MessageExpired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	messageEnqueued  []messageEnqueuedEntry
	messageStarted   []messageStartedEntry
	messageRetrying  []messageRetryingEntry
	channelExhausted []channelExhaustedEntry
	messageDelivered []messageDeliveredEntry
	messageFailed    []messageFailedEntry
	messageExpired   []messageExpiredEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(MessageEnqueued); ok {
		r.messageEnqueued = append(r.messageEnqueued, messageEnqueuedEntry{name, h})
	}
	if h, ok := e.(MessageStarted); ok {
		r.messageStarted = append(r.messageStarted, messageStartedEntry{name, h})
	}
	if h, ok := e.(MessageRetrying); ok {
		r.messageRetrying = append(r.messageRetrying, messageRetryingEntry{name, h})
	}
	if h, ok := e.(ChannelExhausted); ok {
		r.channelExhausted = append(r.channelExhausted, channelExhaustedEntry{name, h})
	}
	if h, ok := e.(MessageDelivered); ok {
		r.messageDelivered = append(r.messageDelivered, messageDeliveredEntry{name, h})
	}
	if h, ok := e.(MessageFailed); ok {
		r.messageFailed = append(r.messageFailed, messageFailedEntry{name, h})
	}
	if h, ok := e.(MessageExpired); ok {
		r.messageExpired = append(r.messageExpired, messageExpiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitMessageEnqueued notifies all extensions that implement MessageEnqueued.
func (r *Registry) EmitMessageEnqueued(ctx context.Context, m *message.Message) {
	for _, e := range r.messageEnqueued {
		if err := e.hook.OnMessageEnqueued(ctx, m); err != nil {
			r.logHookError("OnMessageEnqueued", e.name, err)
		}
	}
}

// EmitMessageStarted notifies all extensions that implement MessageStarted.
func (r *Registry) EmitMessageStarted(ctx context.Context, m *message.Message, ch message.Channel) {
	for _, e := range r.messageStarted {
		if err := e.hook.OnMessageStarted(ctx, m, ch); err != nil {
			r.logHookError("OnMessageStarted", e.name, err)
		}
	}
}

// EmitMessageRetrying notifies all extensions that implement MessageRetrying.
func (r *Registry) EmitMessageRetrying(ctx context.Context, m *message.Message, ch message.Channel, attempt int, delay time.Duration) {
	for _, e := range r.messageRetrying {
		if err := e.hook.OnMessageRetrying(ctx, m, ch, attempt, delay); err != nil {
			r.logHookError("OnMessageRetrying", e.name, err)
		}
	}
}

// EmitChannelExhausted notifies all extensions that implement ChannelExhausted.
func (r *Registry) EmitChannelExhausted(ctx context.Context, m *message.Message, ch message.Channel, chErr error) {
	for _, e := range r.channelExhausted {
		if err := e.hook.OnChannelExhausted(ctx, m, ch, chErr); err != nil {
			r.logHookError("OnChannelExhausted", e.name, err)
		}
	}
}

// EmitMessageDelivered notifies all extensions that implement MessageDelivered.
func (r *Registry) EmitMessageDelivered(ctx context.Context, m *message.Message, ch message.Channel, elapsed time.Duration) {
	for _, e := range r.messageDelivered {
		if err := e.hook.OnMessageDelivered(ctx, m, ch, elapsed); err != nil {
			r.logHookError("OnMessageDelivered", e.name, err)
		}
	}
}

// EmitMessageFailed notifies all extensions that implement MessageFailed.
func (r *Registry) EmitMessageFailed(ctx context.Context, m *message.Message, msgErr error) {
	for _, e := range r.messageFailed {
		if err := e.hook.OnMessageFailed(ctx, m, msgErr); err != nil {
			r.logHookError("OnMessageFailed", e.name, err)
		}
	}
}

// EmitMessageExpired notifies all extensions that implement MessageExpired.
func (r *Registry) EmitMessageExpired(ctx context.Context, m *message.Message) {
	for _, e := range r.messageExpired {
		if err := e.hook.OnMessageExpired(ctx, m); err != nil {
			r.logHookError("OnMessageExpired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block delivery.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
