// Package otp manages the short-lived verification-code lifecycle:
// generation from a cryptographically adequate source, storage with a
// fixed validity window, and synchronous single-use verification.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

// Reason is the typed outcome of a verification attempt. Verification
// outcomes are results, not errors.
type Reason string

const (
	ReasonOK       Reason = "ok"
	ReasonNotFound Reason = "not_found"
	ReasonExpired  Reason = "expired"
	ReasonMismatch Reason = "mismatch"
)

// OK reports whether the verification succeeded.
func (r Reason) OK() bool { return r == ReasonOK }

// CodeStore is the slice of the persistence contract the manager needs.
// message.Store satisfies it.
type CodeStore interface {
	SaveCode(ctx context.Context, c *message.Code) error
	GetCode(ctx context.Context, phone string) (*message.Code, error)
	DeleteCode(ctx context.Context, phone string) error
}

// Manager generates, stores, and verifies one-time codes. Safe for
// concurrent use.
type Manager struct {
	store  CodeStore
	length int
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager issuing codes of the given length with the given
// validity window.
func New(store CodeStore, length int, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{store: store, length: length, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured validity window.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Generate returns a fixed-length numeric code drawn from crypto/rand.
func (m *Manager) Generate() (string, error) {
	digits := make([]byte, m.length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("otp: generate: %w", err)
		}
		digits[i] = '0' + byte(n.Int64())
	}
	return string(digits), nil
}

// Issue generates a fresh code for the phone number and stores it with
// an expiry of now + TTL, overwriting any prior code for that number.
func (m *Manager) Issue(ctx context.Context, phone string, msgID id.MessageID) (*message.Code, error) {
	value, err := m.Generate()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	c := &message.Code{
		Phone:     phone,
		Value:     value,
		ExpiresAt: now.Add(m.ttl),
		MessageID: msgID,
		CreatedAt: now,
	}
	if err := m.store.SaveCode(ctx, c); err != nil {
		return nil, fmt.Errorf("otp: store code: %w", err)
	}
	return c, nil
}

// Content renders the delivery text for a code.
func (m *Manager) Content(c *message.Code) string {
	minutes := int(m.ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your OTP is: %s. Valid for %d minutes.", c.Value, minutes)
}

// Verify checks a submitted code against the stored one. On ReasonOK the
// stored code is deleted (single use). Expiry is checked before the
// value: a matching code past its window still reports ReasonExpired.
// The error return covers persistence failures only.
func (m *Manager) Verify(ctx context.Context, phone, submitted string) (Reason, error) {
	stored, err := m.store.GetCode(ctx, phone)
	if err != nil {
		if errors.Is(err, courier.ErrCodeNotFound) {
			return ReasonNotFound, nil
		}
		return ReasonNotFound, fmt.Errorf("otp: load code: %w", err)
	}

	if stored.Expired(m.now().UTC()) {
		return ReasonExpired, nil
	}

	if subtle.ConstantTimeCompare([]byte(stored.Value), []byte(submitted)) != 1 {
		return ReasonMismatch, nil
	}

	if err := m.store.DeleteCode(ctx, phone); err != nil {
		return ReasonOK, fmt.Errorf("otp: delete code: %w", err)
	}
	return ReasonOK, nil
}
