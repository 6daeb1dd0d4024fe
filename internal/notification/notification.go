package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened to the event a notification is about.
type Type string

const (
	TypeEventCreated      Type = "event.created"
	TypeEventUpdated      Type = "event.updated"
	TypeEventDeleted      Type = "event.deleted"
	TypeEventSubscribed   Type = "event.subscribed"
	TypeEventUnsubscribed Type = "event.unsubscribed"
)

// ErrMissingEventID is returned by Decode when the inbound message carries no
// event id. Such messages cannot be routed and are dropped by the consumer.
var ErrMissingEventID = errors.New("notification message has no event id")

// Event is the payload describing the event an action was performed on.
// Timestamp is the producer's ISO8601 string and is passed through untouched.
type Event struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	CreatedBy string `json:"created_by,omitempty"`
}

// Notification is one inbound event-change message. Immutable once decoded.
type Notification struct {
	Type             string `json:"type"`
	NotificationType Type   `json:"notification_type"`
	Event            Event  `json:"event"`
	User             string `json:"user"`
}

// Creator returns the subject that should always receive topic-scoped
// notifications about this event: the explicit created_by field when the
// producer sets it, otherwise the subject that performed the action.
func (n *Notification) Creator() string {
	if n.Event.CreatedBy != "" {
		return n.Event.CreatedBy
	}
	return n.User
}

// Decode parses an inbound queue message body. It fails closed: malformed JSON
// or a missing event id yields an error and the message must be dropped,
// never propagated as a crash.
func Decode(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if n.Event.ID == "" {
		return nil, ErrMissingEventID
	}
	return &n, nil
}

// Record is the durable per-recipient row written during fan-out. One record
// is created per (notification, recipient); DeliveredTo starts as the
// singleton {recipient} and ReadBy grows via mark-read, never beyond
// DeliveredTo.
type Record struct {
	Notification

	NotificationID string    `json:"notification_id"`
	Timestamp      time.Time `json:"timestamp"`
	DeliveredTo    []string  `json:"delivered_to"`
	ReadBy         []string  `json:"read_by"`
}

// NewRecord builds the delivery record for a single recipient.
func NewRecord(n *Notification, recipient string) *Record {
	return &Record{
		Notification:   *n,
		NotificationID: uuid.New().String(),
		Timestamp:      time.Now().UTC(),
		DeliveredTo:    []string{recipient},
		ReadBy:         []string{},
	}
}

// IsDeliveredTo reports whether subject is a recipient of this record.
func (r *Record) IsDeliveredTo(subject string) bool {
	return contains(r.DeliveredTo, subject)
}

// IsReadBy reports whether subject has marked this record read.
func (r *Record) IsReadBy(subject string) bool {
	return contains(r.ReadBy, subject)
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
