package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aslanahmtv/event-management-system/internal/notification"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	notification_id   TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	notification_type TEXT NOT NULL,
	event_id          TEXT NOT NULL,
	event_title       TEXT NOT NULL,
	event_action      TEXT NOT NULL,
	event_timestamp   TEXT NOT NULL,
	event_created_by  TEXT NOT NULL DEFAULT '',
	user              TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	delivered_to      TEXT NOT NULL,
	read_by           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);
`

// SQLite is a file-backed store. Recipient and read sets are stored as JSON
// arrays and filtered with json_each.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dsn.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Insert(ctx context.Context, rec *notification.Record) error {
	deliveredTo, err := json.Marshal(rec.DeliveredTo)
	if err != nil {
		return fmt.Errorf("encode delivered_to: %w", err)
	}
	readBy, err := json.Marshal(rec.ReadBy)
	if err != nil {
		return fmt.Errorf("encode read_by: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			notification_id, type, notification_type,
			event_id, event_title, event_action, event_timestamp, event_created_by,
			user, created_at, delivered_to, read_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.NotificationID, rec.Type, string(rec.NotificationType),
		rec.Event.ID, rec.Event.Title, rec.Event.Action, rec.Event.Timestamp, rec.Event.CreatedBy,
		rec.User, rec.Timestamp, string(deliveredTo), string(readBy),
	)
	if err != nil {
		return fmt.Errorf("insert notification record: %w", err)
	}
	return nil
}

const recipientFilter = `EXISTS (SELECT 1 FROM json_each(delivered_to) WHERE json_each.value = ?)`
const unreadFilter = `NOT EXISTS (SELECT 1 FROM json_each(read_by) WHERE json_each.value = ?)`

func (s *SQLite) FindByID(ctx context.Context, id, subject string) (*notification.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT notification_id, type, notification_type,
			event_id, event_title, event_action, event_timestamp, event_created_by,
			user, created_at, delivered_to, read_by
		FROM notifications
		WHERE notification_id = ? AND `+recipientFilter,
		id, subject,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLite) FindByRecipient(ctx context.Context, subject string, page, pageSize int) ([]*notification.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT notification_id, type, notification_type,
			event_id, event_title, event_action, event_timestamp, event_created_by,
			user, created_at, delivered_to, read_by
		FROM notifications
		WHERE `+recipientFilter+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		subject, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	records := make([]*notification.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLite) CountUnread(ctx context.Context, subject string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE `+recipientFilter+` AND `+unreadFilter,
		subject, subject,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *SQLite) MarkRead(ctx context.Context, id, subject string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET read_by = json_insert(read_by, '$[#]', ?)
		WHERE notification_id = ? AND `+recipientFilter+` AND `+unreadFilter,
		subject, id, subject, subject,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Nothing updated: either already read (fine) or not deliverable to
	// this subject (not found).
	var exists int
	err = s.db.QueryRowContext(ctx, `
		SELECT 1 FROM notifications
		WHERE notification_id = ? AND `+recipientFilter,
		id, subject,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check notification: %w", err)
	}
	return nil
}

func (s *SQLite) MarkAllRead(ctx context.Context, subject string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET read_by = json_insert(read_by, '$[#]', ?)
		WHERE `+recipientFilter+` AND `+unreadFilter,
		subject, subject, subject,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*notification.Record, error) {
	var rec notification.Record
	var notificationType, deliveredTo, readBy string
	var createdAt time.Time

	err := row.Scan(
		&rec.NotificationID, &rec.Type, &notificationType,
		&rec.Event.ID, &rec.Event.Title, &rec.Event.Action, &rec.Event.Timestamp, &rec.Event.CreatedBy,
		&rec.User, &createdAt, &deliveredTo, &readBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan notification record: %w", err)
	}

	rec.NotificationType = notification.Type(notificationType)
	rec.Timestamp = createdAt
	if err := json.Unmarshal([]byte(deliveredTo), &rec.DeliveredTo); err != nil {
		return nil, fmt.Errorf("decode delivered_to: %w", err)
	}
	if err := json.Unmarshal([]byte(readBy), &rec.ReadBy); err != nil {
		return nil, fmt.Errorf("decode read_by: %w", err)
	}
	return &rec, nil
}
