// Package webhook posts terminal-status notifications to the callback
// URL a message was submitted with. The Notifier is an extension: it
// observes delivered, failed, and expired events and sends one HTTP
// POST per terminal transition. Notification failures are logged and
// never retried — callbacks are best-effort.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/message"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Notifier)(nil)
	_ ext.MessageDelivered = (*Notifier)(nil)
	_ ext.MessageFailed    = (*Notifier)(nil)
	_ ext.MessageExpired   = (*Notifier)(nil)
)

// Payload is the JSON body posted to the callback URL.
type Payload struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Notifier delivers terminal-status callbacks over HTTP.
type Notifier struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClient overrides the HTTP client. Used in tests and by callers
// needing custom transport settings.
func WithClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithRateLimit caps outbound callbacks at rps per second with the
// given burst. Zero rps means unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(n *Notifier) {
		if rps > 0 {
			n.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// New creates a Notifier.
func New(logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements ext.Extension.
func (n *Notifier) Name() string { return "webhook" }

// OnMessageDelivered implements ext.MessageDelivered.
func (n *Notifier) OnMessageDelivered(ctx context.Context, m *message.Message, _ message.Channel, _ time.Duration) error {
	n.notify(ctx, m, message.StatusDelivered)
	return nil
}

// OnMessageFailed implements ext.MessageFailed.
func (n *Notifier) OnMessageFailed(ctx context.Context, m *message.Message, _ error) error {
	n.notify(ctx, m, message.StatusFailed)
	return nil
}

// OnMessageExpired implements ext.MessageExpired.
func (n *Notifier) OnMessageExpired(ctx context.Context, m *message.Message) error {
	n.notify(ctx, m, message.StatusExpired)
	return nil
}

// notify posts the payload to the message's callback URL. Messages
// submitted without one are skipped.
func (n *Notifier) notify(ctx context.Context, m *message.Message, status message.Status) {
	if m.CallbackURL == "" {
		return
	}

	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			n.logFailure(m, status, err)
			return
		}
	}

	body, err := json.Marshal(Payload{
		RequestID: m.ID.String(),
		Status:    string(status),
		Timestamp: n.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		n.logFailure(m, status, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.CallbackURL, bytes.NewReader(body))
	if err != nil {
		n.logFailure(m, status, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logFailure(m, status, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logFailure(m, status, fmt.Errorf("callback returned %s", resp.Status))
		return
	}

	n.logger.Debug("webhook delivered",
		slog.String("message_id", m.ID.String()),
		slog.String("status", string(status)),
		slog.String("url", m.CallbackURL),
	)
}

func (n *Notifier) logFailure(m *message.Message, status message.Status, err error) {
	n.logger.Warn("webhook notification failed",
		slog.String("message_id", m.ID.String()),
		slog.String("status", string(status)),
		slog.String("url", m.CallbackURL),
		slog.String("error", err.Error()),
	)
}
