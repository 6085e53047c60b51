package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

// SaveCode stores a one-time code as a Hash with a key TTL matching the
// code's expiry, overwriting any prior code for the same phone number.
// Redis evicts the key on expiry, so stale codes clean themselves up.
func (s *Store) SaveCode(ctx context.Context, c *message.Code) error {
	key := codeKey(c.Phone)

	fields := map[string]any{
		"phone":      c.Phone,
		"value":      c.Value,
		"expires_at": c.ExpiresAt.Format(time.RFC3339Nano),
		"message_id": c.MessageID.String(),
		"created_at": c.CreatedAt.Format(time.RFC3339Nano),
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if ttl := time.Until(c.ExpiresAt); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	pipe.ZAdd(ctx, codeCreatedKey, goredis.Z{
		Score:  float64(c.CreatedAt.UnixNano()),
		Member: c.Phone,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: save code: %w", err)
	}
	return nil
}

// GetCode retrieves the active code for a phone number.
func (s *Store) GetCode(ctx context.Context, phone string) (*message.Code, error) {
	fields, err := s.client.HGetAll(ctx, codeKey(phone)).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get code: %w", err)
	}
	if len(fields) == 0 {
		return nil, courier.ErrCodeNotFound
	}

	c := &message.Code{
		Phone: fields["phone"],
		Value: fields["value"],
	}
	if v := fields["message_id"]; v != "" {
		msgID, parseErr := id.ParseMessageID(v)
		if parseErr != nil {
			return nil, fmt.Errorf("courier/redis: parse code message id: %w", parseErr)
		}
		c.MessageID = msgID
	}
	for _, f := range []struct {
		field string
		dst   *time.Time
	}{
		{"expires_at", &c.ExpiresAt},
		{"created_at", &c.CreatedAt},
	} {
		if v := fields[f.field]; v != "" {
			t, parseErr := time.Parse(time.RFC3339Nano, v)
			if parseErr != nil {
				return nil, fmt.Errorf("courier/redis: parse code %s: %w", f.field, parseErr)
			}
			*f.dst = t
		}
	}
	return c, nil
}

// DeleteCode removes the code for a phone number.
func (s *Store) DeleteCode(ctx context.Context, phone string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, codeKey(phone))
	pipe.ZRem(ctx, codeCreatedKey, phone)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("courier/redis: delete code: %w", err)
	}
	return nil
}
