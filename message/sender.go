package message

import "context"

// Sender is the external transport capability. The engine never
// implements actual delivery to a telecom or email provider; callers
// inject an implementation at construction.
//
// A nil error means the provider accepted the message. Any error is
// treated as a transient send failure subject to retry and fallback.
type Sender interface {
	Send(ctx context.Context, phone, content string, ch Channel) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, phone, content string, ch Channel) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, phone, content string, ch Channel) error {
	return f(ctx, phone, content, ch)
}
