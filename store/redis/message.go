package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

// SaveMessage stores the message as a Hash and indexes it by creation
// time.
func (s *Store) SaveMessage(ctx context.Context, m *message.Message) error {
	mID := m.ID.String()
	key := messageKey(mID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: save check exists: %w", err)
	}
	if exists > 0 {
		return courier.ErrMessageExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, messageToMap(m))
	pipe.ZAdd(ctx, messageCreatedKey, goredis.Z{
		Score:  float64(m.CreatedAt.UnixNano()),
		Member: mID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: save message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, msgID id.MessageID) (*message.Message, error) {
	return s.getMessageByKey(ctx, messageKey(msgID.String()))
}

// UpdateStatus applies a status transition to an existing message.
func (s *Store) UpdateStatus(ctx context.Context, up message.StatusUpdate) error {
	key := messageKey(up.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: update status exists: %w", err)
	}
	if exists == 0 {
		return courier.ErrMessageNotFound
	}

	fields := map[string]any{
		"status":       string(up.Status),
		"channel_used": string(up.Channel),
		"attempts":     strconv.Itoa(up.Attempts),
		"last_error":   up.Error,
		"updated_at":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if up.DeliveredAt != nil {
		fields["delivered_at"] = up.DeliveredAt.Format(time.RFC3339Nano)
	}

	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("courier/redis: update status: %w", err)
	}
	return nil
}

// GetReport returns the delivery report for a message.
func (s *Store) GetReport(ctx context.Context, msgID id.MessageID) (*message.Report, error) {
	m, err := s.GetMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	return m.Report(), nil
}

// PendingMessages returns all messages in pending or retrying state.
func (s *Store) PendingMessages(ctx context.Context) ([]*message.Message, error) {
	ids, err := s.client.ZRange(ctx, messageCreatedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: pending zrange: %w", err)
	}

	out := make([]*message.Message, 0)
	for _, mID := range ids {
		m, getErr := s.getMessageByKey(ctx, messageKey(mID))
		if getErr != nil {
			if errors.Is(getErr, courier.ErrMessageNotFound) {
				continue
			}
			return nil, getErr
		}
		if m.Status == message.StatusPending || m.Status == message.StatusRetrying {
			out = append(out, m)
		}
	}
	return out, nil
}

// PurgeOlderThan removes messages and codes created before the cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (message.PurgeCounts, error) {
	var counts message.PurgeCounts
	maxScore := strconv.FormatInt(cutoff.UnixNano(), 10)

	msgIDs, err := s.client.ZRangeByScore(ctx, messageCreatedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + maxScore,
	}).Result()
	if err != nil {
		return counts, fmt.Errorf("courier/redis: purge messages zrange: %w", err)
	}
	for _, mID := range msgIDs {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, messageKey(mID))
		pipe.ZRem(ctx, messageCreatedKey, mID)
		if _, err := pipe.Exec(ctx); err != nil {
			return counts, fmt.Errorf("courier/redis: purge message: %w", err)
		}
		counts.Messages++
	}

	phones, err := s.client.ZRangeByScore(ctx, codeCreatedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + maxScore,
	}).Result()
	if err != nil {
		return counts, fmt.Errorf("courier/redis: purge codes zrange: %w", err)
	}
	for _, phone := range phones {
		pipe := s.client.TxPipeline()
		deleted := pipe.Del(ctx, codeKey(phone))
		pipe.ZRem(ctx, codeCreatedKey, phone)
		if _, err := pipe.Exec(ctx); err != nil {
			return counts, fmt.Errorf("courier/redis: purge code: %w", err)
		}
		// A code may already be gone via key TTL; count only real
		// deletions.
		if deleted.Val() > 0 {
			counts.Codes++
		}
	}
	return counts, nil
}

func (s *Store) getMessageByKey(ctx context.Context, key string) (*message.Message, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get message: %w", err)
	}
	if len(fields) == 0 {
		return nil, courier.ErrMessageNotFound
	}
	return messageFromMap(fields)
}

// ── Hash mapping ──

func messageToMap(m *message.Message) map[string]any {
	fields := map[string]any{
		"id":                m.ID.String(),
		"phone":             m.Phone,
		"kind":              string(m.Kind),
		"content":           m.Content,
		"priority":          strconv.Itoa(int(m.Priority)),
		"preferred_channel": string(m.PreferredChannel),
		"max_retries":       strconv.Itoa(m.MaxRetries),
		"attempts":          strconv.Itoa(m.Attempts),
		"status":            string(m.Status),
		"channel_used":      string(m.ChannelUsed),
		"last_error":        m.LastError,
		"callback_url":      m.CallbackURL,
		"user_id":           m.UserID,
		"created_at":        m.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":        m.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !m.ScheduledFor.IsZero() {
		fields["scheduled_for"] = m.ScheduledFor.Format(time.RFC3339Nano)
	}
	if !m.ExpiresAt.IsZero() {
		fields["expires_at"] = m.ExpiresAt.Format(time.RFC3339Nano)
	}
	if m.DeliveredAt != nil {
		fields["delivered_at"] = m.DeliveredAt.Format(time.RFC3339Nano)
	}
	return fields
}

func messageFromMap(fields map[string]string) (*message.Message, error) {
	msgID, err := id.ParseMessageID(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse message id: %w", err)
	}

	m := &message.Message{
		ID:               msgID,
		Phone:            fields["phone"],
		Kind:             message.Kind(fields["kind"]),
		Content:          fields["content"],
		PreferredChannel: message.Channel(fields["preferred_channel"]),
		Status:           message.Status(fields["status"]),
		ChannelUsed:      message.Channel(fields["channel_used"]),
		LastError:        fields["last_error"],
		CallbackURL:      fields["callback_url"],
		UserID:           fields["user_id"],
	}

	if v := fields["priority"]; v != "" {
		p, convErr := strconv.Atoi(v)
		if convErr != nil {
			return nil, fmt.Errorf("courier/redis: parse priority: %w", convErr)
		}
		m.Priority = message.Priority(p)
	}
	if v := fields["max_retries"]; v != "" {
		if m.MaxRetries, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("courier/redis: parse max_retries: %w", err)
		}
	}
	if v := fields["attempts"]; v != "" {
		if m.Attempts, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("courier/redis: parse attempts: %w", err)
		}
	}

	for _, f := range []struct {
		field string
		dst   *time.Time
	}{
		{"scheduled_for", &m.ScheduledFor},
		{"expires_at", &m.ExpiresAt},
		{"created_at", &m.CreatedAt},
		{"updated_at", &m.UpdatedAt},
	} {
		if v := fields[f.field]; v != "" {
			t, parseErr := time.Parse(time.RFC3339Nano, v)
			if parseErr != nil {
				return nil, fmt.Errorf("courier/redis: parse %s: %w", f.field, parseErr)
			}
			*f.dst = t
		}
	}
	if v := fields["delivered_at"]; v != "" {
		t, parseErr := time.Parse(time.RFC3339Nano, v)
		if parseErr != nil {
			return nil, fmt.Errorf("courier/redis: parse delivered_at: %w", parseErr)
		}
		m.DeliveredAt = &t
	}

	return m, nil
}
