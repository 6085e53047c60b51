package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

// SaveCode stores a one-time code, overwriting any prior code for the
// same phone number.
func (s *Store) SaveCode(ctx context.Context, c *message.Code) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_otp_codes (phone, value, expires_at, message_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (phone) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			message_id = EXCLUDED.message_id,
			created_at = EXCLUDED.created_at`,
		c.Phone, c.Value, c.ExpiresAt, c.MessageID.String(), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: save code: %w", err)
	}
	return nil
}

// GetCode retrieves the active code for a phone number.
func (s *Store) GetCode(ctx context.Context, phone string) (*message.Code, error) {
	var (
		c        message.Code
		msgIDStr string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT phone, value, expires_at, message_id, created_at
		FROM courier_otp_codes WHERE phone = $1`, phone).
		Scan(&c.Phone, &c.Value, &c.ExpiresAt, &msgIDStr, &c.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrCodeNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get code: %w", err)
	}

	if msgIDStr != "" {
		parsed, parseErr := id.ParseMessageID(msgIDStr)
		if parseErr != nil {
			return nil, fmt.Errorf("courier/postgres: parse code message id %q: %w", msgIDStr, parseErr)
		}
		c.MessageID = parsed
	}
	return &c, nil
}

// DeleteCode removes the code for a phone number.
func (s *Store) DeleteCode(ctx context.Context, phone string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM courier_otp_codes WHERE phone = $1`, phone); err != nil {
		return fmt.Errorf("courier/postgres: delete code: %w", err)
	}
	return nil
}
