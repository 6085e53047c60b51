// Package sqlite implements message.Store on SQLite via the pure-Go
// modernc.org/sqlite driver. Suited to single-node deployments that
// need durability without an external database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

// Compile-time interface check.
var _ message.Store = (*Store)(nil)

// timeLayout is fixed-width so lexicographic comparisons in SQL order
// timestamps correctly. RFC3339Nano trims trailing zeros and breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements message.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and returns a Store.
// Call Migrate before first use. Use ":memory:" for an ephemeral
// database in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: open: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	return &Store{db: db}, nil
}

// New wraps an existing database handle. The caller owns its lifecycle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("courier/sqlite: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

// SaveMessage persists a new message in pending state.
func (s *Store) SaveMessage(ctx context.Context, m *message.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (
			id, phone, kind, content, priority, preferred_channel,
			max_retries, attempts, status, channel_used, last_error,
			scheduled_for, expires_at, callback_url, user_id,
			delivered_at, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID.String(), m.Phone, string(m.Kind), m.Content, int(m.Priority),
		string(m.PreferredChannel), m.MaxRetries, m.Attempts, string(m.Status),
		string(m.ChannelUsed), m.LastError,
		nullTime(m.ScheduledFor), nullTime(m.ExpiresAt),
		m.CallbackURL, m.UserID,
		nullTimePtr(m.DeliveredAt),
		m.CreatedAt.UTC().Format(timeLayout),
		m.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return courier.ErrMessageExists
		}
		return fmt.Errorf("courier/sqlite: save message: %w", err)
	}
	return nil
}

const messageColumns = `id, phone, kind, content, priority, preferred_channel,
	max_retries, attempts, status, channel_used, last_error,
	scheduled_for, expires_at, callback_url, user_id,
	delivered_at, created_at, updated_at`

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, msgID id.MessageID) (*message.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, msgID.String())
	return scanMessage(row)
}

// UpdateStatus applies a status transition to an existing message.
func (s *Store) UpdateStatus(ctx context.Context, up message.StatusUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		 SET status = ?, channel_used = ?, attempts = ?, last_error = ?,
		     delivered_at = COALESCE(?, delivered_at), updated_at = ?
		 WHERE id = ?`,
		string(up.Status), string(up.Channel), up.Attempts, up.Error,
		nullTimePtr(up.DeliveredAt),
		time.Now().UTC().Format(timeLayout),
		up.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("courier/sqlite: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("courier/sqlite: update status rows: %w", err)
	}
	if n == 0 {
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE status IN (?, ?) ORDER BY created_at`,
		string(message.StatusPending), string(message.StatusRetrying))
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: pending messages: %w", err)
	}
	defer rows.Close()

	out := make([]*message.Message, 0)
	for rows.Next() {
		m, scanErr := scanMessage(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/sqlite: pending messages: %w", err)
	}
	return out, nil
}

// PurgeOlderThan removes messages and codes created before the cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (message.PurgeCounts, error) {
	var counts message.PurgeCounts
	cut := cutoff.UTC().Format(timeLayout)

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cut)
	if err != nil {
		return counts, fmt.Errorf("courier/sqlite: purge messages: %w", err)
	}
	counts.Messages, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE created_at < ?`, cut)
	if err != nil {
		return counts, fmt.Errorf("courier/sqlite: purge codes: %w", err)
	}
	counts.Codes, _ = res.RowsAffected()
	return counts, nil
}

// ──────────────────────────────────────────────────
// Codes
// ──────────────────────────────────────────────────

// SaveCode stores a one-time code, overwriting any prior code for the
// same phone number.
func (s *Store) SaveCode(ctx context.Context, c *message.Code) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO otp_codes (phone, value, expires_at, message_id, created_at)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(phone) DO UPDATE SET
		   value = excluded.value,
		   expires_at = excluded.expires_at,
		   message_id = excluded.message_id,
		   created_at = excluded.created_at`,
		c.Phone, c.Value, c.ExpiresAt.UTC().Format(timeLayout),
		c.MessageID.String(), c.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("courier/sqlite: save code: %w", err)
	}
	return nil
}

// GetCode retrieves the active code for a phone number.
func (s *Store) GetCode(ctx context.Context, phone string) (*message.Code, error) {
	var (
		c         message.Code
		msgID     string
		expiresAt string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT phone, value, expires_at, message_id, created_at
		 FROM otp_codes WHERE phone = ?`, phone).
		Scan(&c.Phone, &c.Value, &expiresAt, &msgID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, courier.ErrCodeNotFound
		}
		return nil, fmt.Errorf("courier/sqlite: get code: %w", err)
	}

	if c.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("courier/sqlite: parse code expires_at: %w", err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("courier/sqlite: parse code created_at: %w", err)
	}
	if msgID != "" {
		if c.MessageID, err = id.ParseMessageID(msgID); err != nil {
			return nil, fmt.Errorf("courier/sqlite: parse code message id: %w", err)
		}
	}
	return &c, nil
}

// DeleteCode removes the code for a phone number.
func (s *Store) DeleteCode(ctx context.Context, phone string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE phone = ?`, phone); err != nil {
		return fmt.Errorf("courier/sqlite: delete code: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Row mapping
// ──────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*message.Message, error) {
	var (
		m            message.Message
		msgID        string
		kind         string
		priority     int
		preferred    string
		status       string
		channelUsed  string
		scheduledFor sql.NullString
		expiresAt    sql.NullString
		deliveredAt  sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&msgID, &m.Phone, &kind, &m.Content, &priority, &preferred,
		&m.MaxRetries, &m.Attempts, &status, &channelUsed, &m.LastError,
		&scheduledFor, &expiresAt, &m.CallbackURL, &m.UserID,
		&deliveredAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, courier.ErrMessageNotFound
		}
		return nil, fmt.Errorf("courier/sqlite: scan message: %w", err)
	}

	if m.ID, err = id.ParseMessageID(msgID); err != nil {
		return nil, fmt.Errorf("courier/sqlite: parse message id: %w", err)
	}
	m.Kind = message.Kind(kind)
	m.Priority = message.Priority(priority)
	m.PreferredChannel = message.Channel(preferred)
	m.Status = message.Status(status)
	m.ChannelUsed = message.Channel(channelUsed)

	for _, f := range []struct {
		src sql.NullString
		dst *time.Time
	}{
		{scheduledFor, &m.ScheduledFor},
		{expiresAt, &m.ExpiresAt},
	} {
		if f.src.Valid && f.src.String != "" {
			t, parseErr := time.Parse(time.RFC3339Nano, f.src.String)
			if parseErr != nil {
				return nil, fmt.Errorf("courier/sqlite: parse timestamp: %w", parseErr)
			}
			*f.dst = t
		}
	}
	if deliveredAt.Valid && deliveredAt.String != "" {
		t, parseErr := time.Parse(time.RFC3339Nano, deliveredAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("courier/sqlite: parse delivered_at: %w", parseErr)
		}
		m.DeliveredAt = &t
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("courier/sqlite: parse created_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("courier/sqlite: parse updated_at: %w", err)
	}
	return &m, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
