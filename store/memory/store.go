// Package memory provides a fully in-memory message store. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

// Ensure Store implements message.Store at compile time.
var _ message.Store = (*Store)(nil)

// Store is an in-memory implementation of message.Store.
type Store struct {
	mu       sync.RWMutex
	messages map[string]*message.Message
	codes    map[string]*message.Code
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		messages: make(map[string]*message.Message),
		codes:    make(map[string]*message.Code),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

// SaveMessage persists a new message in pending state.
func (s *Store) SaveMessage(_ context.Context, m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := m.ID.String()
	if _, exists := s.messages[key]; exists {
		return courier.ErrMessageExists
	}
	cp := *m
	s.messages[key] = &cp
	return nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(_ context.Context, msgID id.MessageID) (*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[msgID.String()]
	if !ok {
		return nil, courier.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

// UpdateStatus applies a status transition to an existing message.
func (s *Store) UpdateStatus(_ context.Context, up message.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[up.ID.String()]
	if !ok {
		return courier.ErrMessageNotFound
	}

	m.Status = up.Status
	m.ChannelUsed = up.Channel
	m.Attempts = up.Attempts
	m.LastError = up.Error
	if up.DeliveredAt != nil {
		t := *up.DeliveredAt
		m.DeliveredAt = &t
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// GetReport returns the delivery report for a message.
func (s *Store) GetReport(_ context.Context, msgID id.MessageID) (*message.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[msgID.String()]
	if !ok {
		return nil, courier.ErrMessageNotFound
	}
	return m.Report(), nil
}

// PendingMessages returns all messages in pending or retrying state.
func (s *Store) PendingMessages(_ context.Context) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*message.Message, 0)
	for _, m := range s.messages {
		if m.Status != message.StatusPending && m.Status != message.StatusRetrying {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// PurgeOlderThan removes messages and codes created before the cutoff.
func (s *Store) PurgeOlderThan(_ context.Context, cutoff time.Time) (message.PurgeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts message.PurgeCounts
	for key, m := range s.messages {
		if m.CreatedAt.Before(cutoff) {
			delete(s.messages, key)
			counts.Messages++
		}
	}
	for phone, c := range s.codes {
		if c.CreatedAt.Before(cutoff) {
			delete(s.codes, phone)
			counts.Codes++
		}
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Codes
// ──────────────────────────────────────────────────

// SaveCode stores a one-time code, overwriting any prior code for the
// same phone number.
func (s *Store) SaveCode(_ context.Context, c *message.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.codes[c.Phone] = &cp
	return nil
}

// GetCode retrieves the active code for a phone number.
func (s *Store) GetCode(_ context.Context, phone string) (*message.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[phone]
	if !ok {
		return nil, courier.ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

// DeleteCode removes the code for a phone number.
func (s *Store) DeleteCode(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, phone)
	return nil
}
