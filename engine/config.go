package engine

import (
	"time"

	"github.com/xraph/courier/message"
)

// Config holds the tunables for an Engine. Zero-value fields are filled
// from DefaultConfig at construction.
type Config struct {
	// Channels is the ordered set of channels the engine routes to.
	Channels []message.Channel

	// Ceilings caps sends per channel inside the sliding rate window.
	// Channels absent from the map are unlimited.
	Ceilings map[message.Channel]int

	// Costs is the per-send cost used to pick a channel for
	// non-critical traffic.
	Costs map[message.Channel]float64

	// OTPLength is the number of digits in generated one-time codes.
	OTPLength int

	// OTPTTL is the validity window of generated codes.
	OTPTTL time.Duration

	// MaxRetries is the per-channel retry budget for messages that
	// don't carry their own.
	MaxRetries int

	// Workers is the number of concurrent delivery goroutines.
	Workers int

	// ShutdownTimeout bounds how long Stop waits for in-flight
	// deliveries before cancelling them.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Channels: message.Channels(),
		Ceilings: map[message.Channel]int{
			message.ChannelSMS:      100,
			message.ChannelWhatsApp: 80,
			message.ChannelCall:     50,
			message.ChannelEmail:    200,
		},
		Costs: map[message.Channel]float64{
			message.ChannelSMS:      0.05,
			message.ChannelWhatsApp: 0.03,
			message.ChannelCall:     0.15,
			message.ChannelEmail:    0.01,
		},
		OTPLength:       6,
		OTPTTL:          5 * time.Minute,
		MaxRetries:      3,
		Workers:         10,
		ShutdownTimeout: 30 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}
	if c.Ceilings == nil {
		c.Ceilings = def.Ceilings
	}
	if c.Costs == nil {
		c.Costs = def.Costs
	}
	if c.OTPLength <= 0 {
		c.OTPLength = def.OTPLength
	}
	if c.OTPTTL <= 0 {
		c.OTPTTL = def.OTPTTL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}
