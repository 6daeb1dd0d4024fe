// Package store persists delivery records: one durable row per
// (notification, recipient) with independently mutable read state.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aslanahmtv/event-management-system/internal/notification"
)

// ErrNotFound is the typed not-found outcome. It covers both a missing record
// and a record the requesting subject was never a recipient of; callers
// translate it to a protocol-level response at the boundary.
var ErrNotFound = errors.New("notification not found")

// Store is the delivery record collaborator. Backends are selected at startup
// via explicit configuration.
type Store interface {
	// Insert writes a new record. Records are never deleted by the hub.
	Insert(ctx context.Context, rec *notification.Record) error

	// FindByID returns the record only if subject is among its recipients;
	// otherwise ErrNotFound.
	FindByID(ctx context.Context, id, subject string) (*notification.Record, error)

	// FindByRecipient returns subject's records, newest first. Pages are
	// 1-based.
	FindByRecipient(ctx context.Context, subject string, page, pageSize int) ([]*notification.Record, error)

	// CountUnread returns how many of subject's records it has not read.
	CountUnread(ctx context.Context, subject string) (int64, error)

	// MarkRead adds subject to the record's read set. ErrNotFound if the
	// record does not exist or subject is not a recipient; marking twice
	// is a no-op.
	MarkRead(ctx context.Context, id, subject string) error

	// MarkAllRead marks every unread record of subject read and returns
	// how many were updated.
	MarkAllRead(ctx context.Context, subject string) (int64, error)

	Close() error
}

// Open constructs the backend named by driver.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
