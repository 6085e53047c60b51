package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

// SaveMessage persists a new message in pending state.
func (s *Store) SaveMessage(ctx context.Context, m *message.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_messages (
			id, phone, kind, content, priority, preferred_channel,
			max_retries, attempts, status, channel_used, last_error,
			scheduled_for, expires_at, callback_url, user_id,
			delivered_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18
		)`,
		m.ID.String(), m.Phone, string(m.Kind), m.Content, int(m.Priority),
		string(m.PreferredChannel), m.MaxRetries, m.Attempts, string(m.Status),
		string(m.ChannelUsed), m.LastError,
		nullTime(m.ScheduledFor), nullTime(m.ExpiresAt),
		m.CallbackURL, m.UserID,
		m.DeliveredAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrMessageExists
		}
		return fmt.Errorf("courier/postgres: save message: %w", err)
	}
	return nil
}

const messageColumns = `
	id, phone, kind, content, priority, preferred_channel,
	max_retries, attempts, status, channel_used, last_error,
	scheduled_for, expires_at, callback_url, user_id,
	delivered_at, created_at, updated_at`

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, msgID id.MessageID) (*message.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM courier_messages WHERE id = $1`,
		msgID.String(),
	)

	m, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrMessageNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get message: %w", err)
	}
	return m, nil
}

// UpdateStatus applies a status transition to an existing message.
// delivered_at is only written when the update carries one.
func (s *Store) UpdateStatus(ctx context.Context, up message.StatusUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE courier_messages SET
			status = $2, channel_used = $3, attempts = $4, last_error = $5,
			delivered_at = COALESCE($6, delivered_at), updated_at = NOW()
		WHERE id = $1`,
		up.ID.String(), string(up.Status), string(up.Channel),
		up.Attempts, up.Error, up.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrMessageNotFound
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

// PendingMessages returns all messages in pending or retrying state,
// oldest first.
func (s *Store) PendingMessages(ctx context.Context) ([]*message.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM courier_messages
		 WHERE status IN ($1, $2) ORDER BY created_at`,
		string(message.StatusPending), string(message.StatusRetrying),
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: pending messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// PurgeOlderThan removes messages and codes created before the cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (message.PurgeCounts, error) {
	var counts message.PurgeCounts

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM courier_messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return counts, fmt.Errorf("courier/postgres: purge messages: %w", err)
	}
	counts.Messages = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM courier_otp_codes WHERE created_at < $1`, cutoff)
	if err != nil {
		return counts, fmt.Errorf("courier/postgres: purge codes: %w", err)
	}
	counts.Codes = tag.RowsAffected()

	return counts, nil
}

// scanMessage scans a single message row.
func scanMessage(row pgx.Row) (*message.Message, error) {
	var (
		m            message.Message
		idStr        string
		kindStr      string
		priority     int
		preferred    string
		statusStr    string
		channelUsed  string
		scheduledFor *time.Time
		expiresAt    *time.Time
	)
	err := row.Scan(
		&idStr, &m.Phone, &kindStr, &m.Content, &priority, &preferred,
		&m.MaxRetries, &m.Attempts, &statusStr, &channelUsed, &m.LastError,
		&scheduledFor, &expiresAt, &m.CallbackURL, &m.UserID,
		&m.DeliveredAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Kind = message.Kind(kindStr)
	m.Priority = message.Priority(priority)
	m.PreferredChannel = message.Channel(preferred)
	m.Status = message.Status(statusStr)
	m.ChannelUsed = message.Channel(channelUsed)
	if scheduledFor != nil {
		m.ScheduledFor = *scheduledFor
	}
	if expiresAt != nil {
		m.ExpiresAt = *expiresAt
	}

	parsedID, parseErr := id.ParseMessageID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("courier/postgres: parse message id %q: %w", idStr, parseErr)
	}
	m.ID = parsedID

	return &m, nil
}

// collectMessages collects all messages from query rows.
func collectMessages(rows pgx.Rows) ([]*message.Message, error) {
	var out []*message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate message rows: %w", err)
	}
	return out, nil
}

// nullTime maps the zero time to NULL so optional TIMESTAMPTZ columns
// stay NULL instead of storing year one.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
