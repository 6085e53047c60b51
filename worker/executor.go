// Package worker provides the delivery engine — an Executor that walks
// a message through its channel chain with retries and backoff, and a
// Pool that manages concurrent worker goroutines draining the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/otp"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/route"
)

// errPersist marks a store write failure. It must stay distinguishable
// from a transport failure: the provider may already have accepted the
// message, so no further send attempts are allowed once it appears.
var errPersist = errors.New("persist message state")

// Executor delivers a single message: it resolves the channel chain,
// attempts each channel up to the retry budget with backoff between
// attempts, falls back to the next channel when one is exhausted, and
// persists every state transition.
type Executor struct {
	store      message.Store
	sender     message.Sender
	extensions *ext.Registry
	selector   *route.Selector
	limiter    *ratelimit.Limiter
	backoff    backoff.Strategy
	codes      *otp.Manager
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCodeManager enables OTP content generation at delivery time for
// messages of kind otp submitted without content.
func WithCodeManager(m *otp.Manager) ExecutorOption {
	return func(e *Executor) { e.codes = m }
}

// WithExecutorClock overrides the time source. Used in tests.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor. maxRetries is the per-channel budget
// applied to messages that don't carry their own.
func NewExecutor(
	store message.Store,
	sender message.Sender,
	extensions *ext.Registry,
	selector *route.Selector,
	limiter *ratelimit.Limiter,
	bo backoff.Strategy,
	maxRetries int,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		store:      store,
		sender:     sender,
		extensions: extensions,
		selector:   selector,
		limiter:    limiter,
		backoff:    bo,
		maxRetries: maxRetries,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deliver runs the full delivery state machine for one message.
// On provider accept: marks delivered, emits MessageDelivered.
// On channel exhaustion: emits ChannelExhausted and moves to the next
// channel in the fallback chain.
// When every channel is exhausted: marks failed, emits MessageFailed.
// A cancelled context parks the message back in pending so a restart
// can recover it.
func (e *Executor) Deliver(ctx context.Context, m *message.Message) error {
	now := e.now().UTC()
	if m.ExpiredAt(now) {
		return e.expire(ctx, m)
	}

	if err := e.resolveContent(ctx, m); err != nil {
		return e.fail(ctx, m, err)
	}

	chain := e.channelChain(m)
	budget := m.MaxRetries
	if budget <= 0 {
		budget = e.maxRetries
	}

	var lastErr error
	for _, ch := range chain {
		err := e.deliverOnChannel(ctx, m, ch, budget)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPersist) {
			// The store failed, not the transport. The provider may
			// already hold this message, so re-sending on a fallback
			// channel would duplicate it. Finalize with the store error
			// as the cause.
			return e.fail(ctx, m, err)
		}
		if ctx.Err() != nil {
			return e.park(ctx, m, err)
		}
		lastErr = err
		e.extensions.EmitChannelExhausted(ctx, m, ch, err)
		e.logger.Info("channel exhausted, falling back",
			slog.String("message_id", m.ID.String()),
			slog.String("channel", string(ch)),
			slog.String("error", err.Error()),
		)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no channel available for %s", m.PreferredChannel)
	}
	return e.fail(ctx, m, lastErr)
}

// deliverOnChannel attempts one channel up to budget+1 times with
// backoff between attempts. A nil return means the provider accepted.
func (e *Executor) deliverOnChannel(ctx context.Context, m *message.Message, ch message.Channel, budget int) error {
	e.extensions.EmitMessageStarted(ctx, m, ch)

	var lastErr error
	for attempt := 1; attempt <= budget+1; attempt++ {
		start := e.now()
		e.limiter.Record(ch)
		m.Attempts++
		m.ChannelUsed = ch

		err := e.sender.Send(ctx, m.Phone, m.Content, ch)
		if err == nil {
			return e.succeed(ctx, m, ch, e.now().Sub(start))
		}
		lastErr = err
		m.LastError = err.Error()

		if attempt > budget {
			break
		}

		delay := e.backoff.Delay(attempt)
		if persistErr := e.persist(ctx, m, message.StatusRetrying, nil); persistErr != nil {
			return persistErr
		}
		e.extensions.EmitMessageRetrying(ctx, m, ch, attempt, delay)
		e.logger.Debug("attempt failed, backing off",
			slog.String("message_id", m.ID.String()),
			slog.String("channel", string(ch)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// channelChain returns the ordered channels to try: the selected
// channel first, then its fallbacks, restricted to channels the
// selector is configured with. No channel appears twice.
func (e *Executor) channelChain(m *message.Message) []message.Channel {
	first := e.selector.Select(m)
	chain := []message.Channel{first}
	for _, ch := range first.Fallbacks() {
		if ch == first || !e.selector.Configured(ch) {
			continue
		}
		chain = append(chain, ch)
	}
	return chain
}

// resolveContent fills in generated OTP content for code messages
// submitted without a body.
func (e *Executor) resolveContent(ctx context.Context, m *message.Message) error {
	if m.Kind != message.KindOTP || m.Content != "" || e.codes == nil {
		return nil
	}
	code, err := e.codes.Issue(ctx, m.Phone, m.ID)
	if err != nil {
		return err
	}
	m.Content = e.codes.Content(code)
	return nil
}

func (e *Executor) succeed(ctx context.Context, m *message.Message, ch message.Channel, elapsed time.Duration) error {
	deliveredAt := e.now().UTC()
	m.Status = message.StatusDelivered
	m.DeliveredAt = &deliveredAt
	m.LastError = ""

	if err := e.persist(ctx, m, message.StatusDelivered, &deliveredAt); err != nil {
		return err
	}
	e.extensions.EmitMessageDelivered(ctx, m, ch, elapsed)
	e.logger.Info("message delivered",
		slog.String("message_id", m.ID.String()),
		slog.String("channel", string(ch)),
		slog.Int("attempts", m.Attempts),
	)
	return nil
}

func (e *Executor) fail(ctx context.Context, m *message.Message, cause error) error {
	m.Status = message.StatusFailed
	m.LastError = cause.Error()

	// Writing the failure record is best-effort (persist logs its own
	// errors); the terminal event still fires so metrics and callbacks
	// see the outcome.
	_ = e.persist(ctx, m, message.StatusFailed, nil)
	e.extensions.EmitMessageFailed(ctx, m, cause)
	e.logger.Warn("message failed after exhausting all channels",
		slog.String("message_id", m.ID.String()),
		slog.Int("attempts", m.Attempts),
		slog.String("error", cause.Error()),
	)
	return cause
}

func (e *Executor) expire(ctx context.Context, m *message.Message) error {
	m.Status = message.StatusExpired

	if err := e.persist(ctx, m, message.StatusExpired, nil); err != nil {
		return err
	}
	e.extensions.EmitMessageExpired(ctx, m)
	e.logger.Info("message expired before delivery",
		slog.String("message_id", m.ID.String()),
	)
	return nil
}

// park returns an interrupted message to pending so restart recovery
// picks it up.
func (e *Executor) park(ctx context.Context, m *message.Message, cause error) error {
	m.Status = message.StatusPending

	// Shutdown is in progress; persist with a fresh context so the
	// update isn't lost to the same cancellation.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.persist(persistCtx, m, message.StatusPending, nil); err != nil {
		return err
	}
	e.logger.Info("delivery interrupted, message parked for recovery",
		slog.String("message_id", m.ID.String()),
	)
	return cause
}

func (e *Executor) persist(ctx context.Context, m *message.Message, status message.Status, deliveredAt *time.Time) error {
	err := e.store.UpdateStatus(ctx, message.StatusUpdate{
		ID:          m.ID,
		Status:      status,
		Channel:     m.ChannelUsed,
		Attempts:    m.Attempts,
		Error:       m.LastError,
		DeliveredAt: deliveredAt,
	})
	if err != nil {
		e.logger.Error("failed to persist status",
			slog.String("message_id", m.ID.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %w", errPersist, status, err)
	}
	return nil
}
