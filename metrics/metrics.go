// Package metrics tracks per-channel delivery counters. The Collector
// is an extension: register it on the engine and it observes the
// message lifecycle. Counters are kept in memory for synchronous
// snapshots and mirrored to OpenTelemetry instruments when a meter is
// provided.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/message"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Collector)(nil)
	_ ext.MessageStarted   = (*Collector)(nil)
	_ ext.MessageRetrying  = (*Collector)(nil)
	_ ext.ChannelExhausted = (*Collector)(nil)
	_ ext.MessageDelivered = (*Collector)(nil)
	_ ext.MessageFailed    = (*Collector)(nil)
	_ ext.MessageExpired   = (*Collector)(nil)
)

// ChannelSnapshot holds the counters for a single channel.
type ChannelSnapshot struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Channels       map[message.Channel]ChannelSnapshot `json:"channels"`
	TotalSent      int64                               `json:"total_sent"`
	TotalDelivered int64                               `json:"total_delivered"`
	TotalFailed    int64                               `json:"total_failed"`
	TotalExpired   int64                               `json:"total_expired"`
	TotalRetries   int64                               `json:"total_retries"`
	SuccessRate    float64                             `json:"success_rate"`
}

// Collector accumulates delivery counters. Safe for concurrent use.
//
// Counter semantics: Sent increments when a delivery cycle starts on a
// channel, Delivered when a provider accepts, Failed when a channel's
// retry budget is exhausted. A message that falls back across channels
// therefore contributes a Sent (and possibly a Failed) on each channel
// it was tried on.
type Collector struct {
	mu       sync.Mutex
	channels map[message.Channel]*ChannelSnapshot
	failed   int64
	expired  int64
	retries  int64

	otelSent      metric.Int64Counter
	otelDelivered metric.Int64Counter
	otelFailed    metric.Int64Counter
	otelDuration  metric.Float64Histogram
}

// Option configures a Collector.
type Option func(*Collector)

// WithMeter mirrors counters to OpenTelemetry instruments created from
// the given meter.
func WithMeter(meter metric.Meter) Option {
	return func(c *Collector) {
		// On error the OTel API contract guarantees noop instruments.
		c.otelSent, _ = meter.Int64Counter(
			"courier.message.sent",
			metric.WithDescription("Delivery cycles started, per channel"),
			metric.WithUnit("{message}"),
		)
		c.otelDelivered, _ = meter.Int64Counter(
			"courier.message.delivered",
			metric.WithDescription("Messages accepted by a provider, per channel"),
			metric.WithUnit("{message}"),
		)
		c.otelFailed, _ = meter.Int64Counter(
			"courier.channel.exhausted",
			metric.WithDescription("Channels whose retry budget was exhausted"),
			metric.WithUnit("{channel}"),
		)
		c.otelDuration, _ = meter.Float64Histogram(
			"courier.delivery.duration",
			metric.WithDescription("Time from attempt start to provider accept in seconds"),
			metric.WithUnit("s"),
		)
	}
}

// NewCollector creates a Collector. Without WithMeter, counters are
// in-memory only.
func NewCollector(opts ...Option) *Collector {
	meter := noop.NewMeterProvider().Meter("courier")
	c := &Collector{channels: make(map[message.Channel]*ChannelSnapshot)}
	WithMeter(meter)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements ext.Extension.
func (c *Collector) Name() string { return "metrics" }

func (c *Collector) channel(ch message.Channel) *ChannelSnapshot {
	s, ok := c.channels[ch]
	if !ok {
		s = &ChannelSnapshot{}
		c.channels[ch] = s
	}
	return s
}

func channelAttr(ch message.Channel) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("channel", string(ch)))
}

// OnMessageStarted implements ext.MessageStarted.
func (c *Collector) OnMessageStarted(ctx context.Context, _ *message.Message, ch message.Channel) error {
	c.mu.Lock()
	c.channel(ch).Sent++
	c.mu.Unlock()
	c.otelSent.Add(ctx, 1, channelAttr(ch))
	return nil
}

// OnMessageRetrying implements ext.MessageRetrying.
func (c *Collector) OnMessageRetrying(_ context.Context, _ *message.Message, _ message.Channel, _ int, _ time.Duration) error {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
	return nil
}

// OnChannelExhausted implements ext.ChannelExhausted.
func (c *Collector) OnChannelExhausted(ctx context.Context, _ *message.Message, ch message.Channel, _ error) error {
	c.mu.Lock()
	c.channel(ch).Failed++
	c.mu.Unlock()
	c.otelFailed.Add(ctx, 1, channelAttr(ch))
	return nil
}

// OnMessageDelivered implements ext.MessageDelivered.
func (c *Collector) OnMessageDelivered(ctx context.Context, _ *message.Message, ch message.Channel, elapsed time.Duration) error {
	c.mu.Lock()
	c.channel(ch).Delivered++
	c.mu.Unlock()
	c.otelDelivered.Add(ctx, 1, channelAttr(ch))
	c.otelDuration.Record(ctx, elapsed.Seconds(), channelAttr(ch))
	return nil
}

// OnMessageFailed implements ext.MessageFailed.
func (c *Collector) OnMessageFailed(_ context.Context, _ *message.Message, _ error) error {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
	return nil
}

// OnMessageExpired implements ext.MessageExpired.
func (c *Collector) OnMessageExpired(_ context.Context, _ *message.Message) error {
	c.mu.Lock()
	c.expired++
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of all counters. SuccessRate is delivered
// over started cycles across all channels; zero cycles yields zero.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Channels:     make(map[message.Channel]ChannelSnapshot, len(c.channels)),
		TotalFailed:  c.failed,
		TotalExpired: c.expired,
		TotalRetries: c.retries,
	}
	for ch, s := range c.channels {
		snap.Channels[ch] = *s
		snap.TotalSent += s.Sent
		snap.TotalDelivered += s.Delivered
	}
	if snap.TotalSent > 0 {
		snap.SuccessRate = float64(snap.TotalDelivered) / float64(snap.TotalSent)
	}
	return snap
}
