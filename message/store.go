package message

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// StatusUpdate carries one status transition for a message record. Each
// transition must be applied atomically with respect to its own record;
// cross-record atomicity is not required.
type StatusUpdate struct {
	ID       id.MessageID
	Status   Status
	Channel  Channel
	Attempts int
	Error    string
	// DeliveredAt is set only on the transition to StatusDelivered.
	DeliveredAt *time.Time
}

// PurgeCounts reports how many records a purge removed.
type PurgeCounts struct {
	Messages int64 `json:"messages"`
	Codes    int64 `json:"codes"`
}

// Store defines the persistence contract the engine requires. The store
// is a passive durable mirror: the engine writes every transition but
// reads back only for external report lookups and for recovery after a
// restart.
type Store interface {
	// SaveMessage persists a new message in pending state.
	SaveMessage(ctx context.Context, m *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, msgID id.MessageID) (*Message, error)

	// UpdateStatus applies a status transition to an existing message.
	UpdateStatus(ctx context.Context, up StatusUpdate) error

	// SaveCode stores a one-time code, overwriting any prior code for
	// the same phone number.
	SaveCode(ctx context.Context, c *Code) error

	// GetCode retrieves the active code for a phone number.
	// Returns courier.ErrCodeNotFound when none is stored.
	GetCode(ctx context.Context, phone string) (*Code, error)

	// DeleteCode removes the code for a phone number. Deleting an absent
	// code is not an error.
	DeleteCode(ctx context.Context, phone string) error

	// GetReport returns the delivery report for a message.
	// Returns courier.ErrMessageNotFound when the ID is unknown.
	GetReport(ctx context.Context, msgID id.MessageID) (*Report, error)

	// PendingMessages returns all messages in pending or retrying state,
	// for re-enqueueing during restart recovery.
	PendingMessages(ctx context.Context) ([]*Message, error)

	// PurgeOlderThan removes messages and codes created before the
	// cutoff and returns the removal counts.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (PurgeCounts, error)

	// Migrate prepares the backing schema.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
