// Package engine wires all Courier subsystems together: the rate
// limiter, channel selector, OTP manager, delivery queue, worker pool,
// and extension registry. It is the package applications interact with.
//
// This package exists to break the import cycle: the root courier
// package defines Entity and the sentinel errors (imported by message
// and the stores) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/metrics"
	"github.com/xraph/courier/otp"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/route"
	"github.com/xraph/courier/webhook"
	"github.com/xraph/courier/worker"
)

// Request describes one message to submit. Zero-value fields fall back
// to defaults: kind notification, medium priority, sms channel, and the
// engine's retry budget.
type Request struct {
	Phone            string
	Kind             message.Kind
	Content          string
	Priority         message.Priority
	PreferredChannel message.Channel
	MaxRetries       int
	ScheduledFor     time.Time
	ExpiresAt        time.Time
	CallbackURL      string
	UserID           string
}

// BulkResult pairs one submitted request with its outcome.
type BulkResult struct {
	Message *message.Message
	Err     error
}

// Engine is the top-level message dispatcher.
type Engine struct {
	cfg        Config
	store      message.Store
	sender     message.Sender
	logger     *slog.Logger
	extensions *ext.Registry
	limiter    *ratelimit.Limiter
	selector   *route.Selector
	codes      *otp.Manager
	collector  *metrics.Collector
	queue      *queue.Queue
	pool       *worker.Pool
	bo         backoff.Strategy

	meterProvider metric.MeterProvider
	userExts      []ext.Extension
	webhookRPS    float64
	webhookBurst  int

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.userExts = append(e.userExts, x) }
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, the
// metrics collector mirrors its counters to instruments from this
// provider. If not set, counters stay in-memory only.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithWebhookRateLimit caps outbound callback notifications at rps per
// second with the given burst.
func WithWebhookRateLimit(rps float64, burst int) Option {
	return func(e *Engine) {
		e.webhookRPS = rps
		e.webhookBurst = burst
	}
}

// New creates an Engine over the given store and sender.
func New(cfg Config, store message.Store, sender message.Sender, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, courier.ErrNoStore
	}
	if sender == nil {
		return nil, courier.ErrNoSender
	}

	eng := &Engine{
		cfg:    cfg.withDefaults(),
		store:  store,
		sender: sender,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.extensions = ext.NewRegistry(eng.logger)

	var collectorOpts []metrics.Option
	if eng.meterProvider != nil {
		collectorOpts = append(collectorOpts, metrics.WithMeter(eng.meterProvider.Meter("github.com/xraph/courier")))
	}
	eng.collector = metrics.NewCollector(collectorOpts...)
	eng.extensions.Register(eng.collector)

	notifierOpts := []webhook.Option{}
	if eng.webhookRPS > 0 {
		notifierOpts = append(notifierOpts, webhook.WithRateLimit(eng.webhookRPS, eng.webhookBurst))
	}
	eng.extensions.Register(webhook.New(eng.logger, notifierOpts...))

	for _, x := range eng.userExts {
		eng.extensions.Register(x)
	}

	eng.limiter = ratelimit.New(eng.cfg.Ceilings)
	eng.selector = route.New(eng.limiter, eng.cfg.Channels, eng.cfg.Costs)
	eng.codes = otp.New(store, eng.cfg.OTPLength, eng.cfg.OTPTTL)
	eng.queue = queue.New()

	executor := worker.NewExecutor(
		store,
		sender,
		eng.extensions,
		eng.selector,
		eng.limiter,
		eng.bo,
		eng.cfg.MaxRetries,
		eng.logger,
		worker.WithCodeManager(eng.codes),
	)
	eng.pool = worker.NewPool(eng.queue, executor, eng.logger,
		worker.WithPoolConcurrency(eng.cfg.Workers))

	return eng, nil
}

// Start prepares the store, re-enqueues messages interrupted by a
// previous shutdown, and launches the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return courier.ErrEngineStopped
	}
	if eng.started {
		eng.mu.Unlock()
		return nil
	}
	eng.started = true
	eng.mu.Unlock()

	if err := eng.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	pending, err := eng.store.PendingMessages(ctx)
	if err != nil {
		return fmt.Errorf("recover pending messages: %w", err)
	}
	for _, m := range pending {
		eng.queue.Push(m)
	}
	if len(pending) > 0 {
		eng.logger.Info("recovered undelivered messages", slog.Int("count", len(pending)))
	}

	return eng.pool.Start(ctx)
}

// Stop drains the engine: no new submissions are accepted, in-flight
// deliveries get until the shutdown timeout to finish, and the store is
// closed last.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return nil
	}
	eng.stopped = true
	eng.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	err := eng.pool.Stop(ctx)
	eng.queue.Close()
	eng.extensions.EmitShutdown(ctx)

	if closeErr := eng.store.Close(); closeErr != nil {
		eng.logger.Error("store close error", slog.String("error", closeErr.Error()))
		if err == nil {
			err = closeErr
		}
	}
	return err
}

// Submit validates and persists a message, then hands it to the
// delivery queue. The returned message carries the assigned ID.
func (eng *Engine) Submit(ctx context.Context, req Request) (*message.Message, error) {
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return nil, courier.ErrEngineStopped
	}
	eng.mu.Unlock()

	m := eng.build(req)
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if err := eng.store.SaveMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	// The queued instance is mutated by workers from here on; everything
	// handed outside the engine is a copy.
	accepted := m.Clone()
	eng.extensions.EmitMessageEnqueued(ctx, accepted)
	eng.queue.Push(m)
	eng.logger.Debug("message accepted",
		slog.String("message_id", m.ID.String()),
		slog.String("kind", string(m.Kind)),
		slog.String("priority", m.Priority.String()),
		slog.String("channel", string(m.PreferredChannel)),
	)
	return accepted, nil
}

// SubmitBulk submits each request independently. One invalid request
// does not abort the rest.
func (eng *Engine) SubmitBulk(ctx context.Context, reqs []Request) []BulkResult {
	results := make([]BulkResult, len(reqs))
	for i, req := range reqs {
		m, err := eng.Submit(ctx, req)
		results[i] = BulkResult{Message: m, Err: err}
	}
	return results
}

// OTPOption customizes an OTP submission.
type OTPOption func(*Request)

// WithUserID attaches a user identifier to the OTP request.
func WithUserID(userID string) OTPOption {
	return func(r *Request) { r.UserID = userID }
}

// WithCallbackURL sets the URL notified when the OTP request reaches a
// terminal status.
func WithCallbackURL(url string) OTPOption {
	return func(r *Request) { r.CallbackURL = url }
}

// SendOTP submits a high-priority OTP message for the phone number. The
// code itself is generated at delivery time so its validity window
// starts when the send happens, not when the request is accepted.
func (eng *Engine) SendOTP(ctx context.Context, phone string, opts ...OTPOption) (*message.Message, error) {
	req := Request{
		Phone:    phone,
		Kind:     message.KindOTP,
		Priority: message.PriorityHigh,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return eng.Submit(ctx, req)
}

// VerifyOTP checks a submitted code. The code is single-use: a
// successful verification consumes it.
func (eng *Engine) VerifyOTP(ctx context.Context, phone, code string) (otp.Reason, error) {
	return eng.codes.Verify(ctx, phone, code)
}

// Report returns the delivery report for a message ID string.
func (eng *Engine) Report(ctx context.Context, msgID string) (*message.Report, error) {
	parsed, err := id.ParseMessageID(msgID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", courier.ErrMessageNotFound, msgID)
	}
	return eng.store.GetReport(ctx, parsed)
}

// Metrics returns a snapshot of the delivery counters.
func (eng *Engine) Metrics() metrics.Snapshot {
	return eng.collector.Snapshot()
}

// Purge removes messages and codes older than the given age.
func (eng *Engine) Purge(ctx context.Context, olderThan time.Duration) (message.PurgeCounts, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	counts, err := eng.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return counts, fmt.Errorf("purge: %w", err)
	}
	eng.logger.Info("purged old records",
		slog.Int64("messages", counts.Messages),
		slog.Int64("codes", counts.Codes),
	)
	return counts, nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// QueueDepth returns the number of messages waiting for a worker.
func (eng *Engine) QueueDepth() int { return eng.queue.Len() }

// importRecord is the JSON shape accepted by ImportJSON. Enum fields
// are strings so exports from other systems can be loaded directly.
type importRecord struct {
	Phone        string `json:"phone"`
	Kind         string `json:"kind"`
	Content      string `json:"content"`
	Priority     string `json:"priority"`
	Channel      string `json:"channel"`
	MaxRetries   int    `json:"max_retries"`
	ScheduledFor string `json:"scheduled_for"`
	ExpiresAt    string `json:"expires_at"`
	CallbackURL  string `json:"callback_url"`
	UserID       string `json:"user_id"`
}

// ImportJSON reads a JSON array of message records and submits each
// one. Records that fail to parse or validate are reported in their
// slot of the result; they do not abort the rest.
func (eng *Engine) ImportJSON(ctx context.Context, r io.Reader) ([]BulkResult, error) {
	var records []importRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode import: %w", err)
	}

	results := make([]BulkResult, len(records))
	for i, rec := range records {
		req, err := rec.toRequest()
		if err != nil {
			results[i] = BulkResult{Err: err}
			continue
		}
		m, err := eng.Submit(ctx, req)
		results[i] = BulkResult{Message: m, Err: err}
	}
	return results, nil
}

func (rec importRecord) toRequest() (Request, error) {
	req := Request{
		Phone:       rec.Phone,
		Content:     rec.Content,
		MaxRetries:  rec.MaxRetries,
		CallbackURL: rec.CallbackURL,
		UserID:      rec.UserID,
	}

	if rec.Kind != "" {
		k, err := message.ParseKind(rec.Kind)
		if err != nil {
			return Request{}, err
		}
		req.Kind = k
	}
	if rec.Priority != "" {
		p, err := message.ParsePriority(rec.Priority)
		if err != nil {
			return Request{}, err
		}
		req.Priority = p
	}
	if rec.Channel != "" {
		ch, err := message.ParseChannel(rec.Channel)
		if err != nil {
			return Request{}, err
		}
		req.PreferredChannel = ch
	}
	if rec.ScheduledFor != "" {
		t, err := time.Parse(time.RFC3339, rec.ScheduledFor)
		if err != nil {
			return Request{}, fmt.Errorf("%w: scheduled_for %q", courier.ErrInvalidRequest, rec.ScheduledFor)
		}
		req.ScheduledFor = t
	}
	if rec.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, rec.ExpiresAt)
		if err != nil {
			return Request{}, fmt.Errorf("%w: expires_at %q", courier.ErrInvalidRequest, rec.ExpiresAt)
		}
		req.ExpiresAt = t
	}
	return req, nil
}

// build materializes a Request into a pending message with defaults
// applied.
func (eng *Engine) build(req Request) *message.Message {
	m := &message.Message{
		Entity:           courier.NewEntity(),
		ID:               id.NewMessageID(),
		Phone:            req.Phone,
		Kind:             req.Kind,
		Content:          req.Content,
		Priority:         req.Priority,
		PreferredChannel: req.PreferredChannel,
		MaxRetries:       req.MaxRetries,
		Status:           message.StatusPending,
		ScheduledFor:     req.ScheduledFor,
		ExpiresAt:        req.ExpiresAt,
		CallbackURL:      req.CallbackURL,
		UserID:           req.UserID,
	}
	if m.Kind == "" {
		m.Kind = message.KindNotification
	}
	if m.Priority == 0 {
		m.Priority = message.PriorityMedium
	}
	if m.PreferredChannel == "" {
		m.PreferredChannel = message.ChannelSMS
	}
	if m.MaxRetries <= 0 {
		m.MaxRetries = eng.cfg.MaxRetries
	}
	return m
}
