package message

import (
	"time"

	"github.com/xraph/courier/id"
)

// Report is the terminal record of a delivery request's outcome. It stays
// queryable after processing completes.
type Report struct {
	MessageID   id.MessageID `json:"message_id"`
	Phone       string       `json:"phone_number"`
	Status      Status       `json:"status"`
	Channel     Channel      `json:"channel,omitempty"`
	Attempts    int          `json:"attempts"`
	LastAttempt time.Time    `json:"last_attempt"`
	Error       string       `json:"error,omitempty"`
	// DeliveredAt is set only when Status is StatusDelivered.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// Code is a short-lived one-time verification code. The phone number is
// the key: at most one active code exists per number, and storing a new
// code overwrites any prior one.
type Code struct {
	Phone     string       `json:"phone_number"`
	Value     string       `json:"code"`
	ExpiresAt time.Time    `json:"expires_at"`
	MessageID id.MessageID `json:"message_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// Expired reports whether the code's validity window has lapsed.
func (c *Code) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
