// Package message defines the value types of the courier engine — the
// delivery request, its terminal report, the one-time code record — plus
// the persistence contract (Store) and the injected transport capability
// (Sender). Priority, status, kind, and channel are closed enumerations:
// invalid values are rejected by the Parse functions at the boundary,
// never compared as loose strings at runtime.
package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// Status represents the lifecycle state of a delivery request.
type Status string

const (
	// StatusPending means the request is waiting to be picked up by a worker.
	StatusPending Status = "pending"
	// StatusRetrying means a send attempt failed and a retry is scheduled.
	StatusRetrying Status = "retrying"
	// StatusDelivered means the request was delivered. Terminal.
	StatusDelivered Status = "delivered"
	// StatusFailed means all channels and retries were exhausted. Terminal.
	StatusFailed Status = "failed"
	// StatusExpired means the request's validity window lapsed before
	// delivery. Terminal.
	StatusExpired Status = "expired"
)

// Terminal reports whether no further processing occurs in this state.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusExpired
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRetrying, StatusDelivered, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// ParseStatus parses a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(s))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", courier.ErrInvalidStatus, s)
	}
	return st, nil
}

// Priority determines dequeue ordering. Higher values are dispatched first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority parses a priority name ("low", "medium", "high", "critical").
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("%w: %q", courier.ErrInvalidPriority, s)
}

// Kind classifies what a delivery request carries.
type Kind string

const (
	// KindOTP derives its content from a freshly generated one-time code
	// at send time.
	KindOTP Kind = "otp"
	// KindAlert is a time-sensitive operational message.
	KindAlert Kind = "alert"
	// KindNotification is an informational message.
	KindNotification Kind = "notification"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindOTP, KindAlert, KindNotification:
		return true
	}
	return false
}

// ParseKind parses a message kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(s))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", courier.ErrInvalidKind, s)
	}
	return k, nil
}

// Channel is a delivery medium with its own configured cost and rate ceiling.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelCall     Channel = "call"
	ChannelEmail    Channel = "email"
)

// reliabilityOrder lists channels from most to least reliable. Consulted
// for Critical-priority routing.
var reliabilityOrder = []Channel{ChannelCall, ChannelSMS, ChannelWhatsApp, ChannelEmail}

// fallbackOrder is the fixed escalation order per exhausted channel.
var fallbackOrder = map[Channel][]Channel{
	ChannelSMS:      {ChannelWhatsApp, ChannelCall, ChannelEmail},
	ChannelWhatsApp: {ChannelSMS, ChannelCall, ChannelEmail},
	ChannelCall:     {ChannelSMS, ChannelWhatsApp, ChannelEmail},
	ChannelEmail:    {ChannelSMS, ChannelWhatsApp, ChannelCall},
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelCall, ChannelEmail:
		return true
	}
	return false
}

// Fallbacks returns the fixed fallback order for c, most preferred first.
// The returned slice is a copy.
func (c Channel) Fallbacks() []Channel {
	order := fallbackOrder[c]
	out := make([]Channel, len(order))
	copy(out, order)
	return out
}

// ParseChannel parses a channel name ("sms", "whatsapp", "call", "email").
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(s))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", courier.ErrInvalidChannel, s)
	}
	return c, nil
}

// Channels returns all known channels. The returned slice is a copy.
func Channels() []Channel {
	return []Channel{ChannelSMS, ChannelWhatsApp, ChannelCall, ChannelEmail}
}

// ReliabilityOrder returns all channels from most to least reliable.
// The returned slice is a copy.
func ReliabilityOrder() []Channel {
	out := make([]Channel, len(reliabilityOrder))
	copy(out, reliabilityOrder)
	return out
}

// Message represents a single delivery request. It is created by a caller,
// claimed exactly once by a worker, and driven to a terminal status. The
// ID assigned at submission is the one used for all persistence, report
// lookups, and webhook callbacks.
type Message struct {
	courier.Entity

	ID               id.MessageID `json:"id"`
	Phone            string       `json:"phone_number"`
	Kind             Kind         `json:"kind"`
	Content          string       `json:"content,omitempty"`
	Priority         Priority     `json:"priority"`
	PreferredChannel Channel      `json:"preferred_channel"`
	MaxRetries       int          `json:"max_retries"`
	Attempts         int          `json:"attempts"`
	Status           Status       `json:"status"`
	ChannelUsed      Channel      `json:"channel_used,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
	ScheduledFor     time.Time    `json:"scheduled_for,omitzero"`
	ExpiresAt        time.Time    `json:"expires_at,omitzero"`
	CallbackURL      string       `json:"callback_url,omitempty"`
	UserID           string       `json:"user_id,omitempty"`
	DeliveredAt      *time.Time   `json:"delivered_at,omitempty"`
}

// Clone returns an independent copy of the message. Workers mutate the
// queued instance during delivery, so anything handed outside the
// engine must be a copy.
func (m *Message) Clone() *Message {
	out := *m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		out.DeliveredAt = &t
	}
	return &out
}

// ReadyAt returns the earliest instant the message may be handed to a
// worker: ScheduledFor when set, otherwise the creation time.
func (m *Message) ReadyAt() time.Time {
	if !m.ScheduledFor.IsZero() {
		return m.ScheduledFor
	}
	return m.CreatedAt
}

// ExpiredAt reports whether the message's validity window has lapsed at
// the given instant. A zero ExpiresAt never expires.
func (m *Message) ExpiredAt(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// Validate checks the request before it may be enqueued. Content may be
// empty for the OTP kind because it is derived at send time.
func (m *Message) Validate() error {
	if m.Phone == "" {
		return fmt.Errorf("%w: empty phone number", courier.ErrInvalidRequest)
	}
	if !strings.HasPrefix(m.Phone, "+") {
		return fmt.Errorf("%w: phone number %q must be E.164 formatted", courier.ErrInvalidRequest, m.Phone)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %q", courier.ErrInvalidKind, string(m.Kind))
	}
	if m.Kind != KindOTP && m.Content == "" {
		return fmt.Errorf("%w: empty content for kind %q", courier.ErrInvalidRequest, string(m.Kind))
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("%w: %d", courier.ErrInvalidPriority, int(m.Priority))
	}
	if !m.PreferredChannel.Valid() {
		return fmt.Errorf("%w: %q", courier.ErrInvalidChannel, string(m.PreferredChannel))
	}
	if m.MaxRetries < 0 {
		return fmt.Errorf("%w: negative max retries", courier.ErrInvalidRequest)
	}
	return nil
}

// Report builds the delivery report view of the message's current state.
func (m *Message) Report() *Report {
	return &Report{
		MessageID:   m.ID,
		Phone:       m.Phone,
		Status:      m.Status,
		Channel:     m.ChannelUsed,
		Attempts:    m.Attempts,
		LastAttempt: m.UpdatedAt,
		Error:       m.LastError,
		DeliveredAt: m.DeliveredAt,
	}
}
