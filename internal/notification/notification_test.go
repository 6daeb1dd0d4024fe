package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	body := []byte(`{
		"type": "notification",
		"notification_type": "event.updated",
		"event": {
			"id": "evt-42",
			"title": "Team Standup",
			"action": "updated",
			"timestamp": "2026-08-25T10:00:00Z",
			"created_by": "alice"
		},
		"user": "bob"
	}`)

	n, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, TypeEventUpdated, n.NotificationType)
	assert.Equal(t, "evt-42", n.Event.ID)
	assert.Equal(t, "Team Standup", n.Event.Title)
	assert.Equal(t, "bob", n.User)
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"notification_type": "event.updated"`))
	require.Error(t, err)
}

func TestDecodeMissingEventID(t *testing.T) {
	_, err := Decode([]byte(`{
		"notification_type": "event.updated",
		"event": {"title": "No ID", "action": "updated"},
		"user": "bob"
	}`))
	require.ErrorIs(t, err, ErrMissingEventID)
}

func TestCreatorFallsBackToUser(t *testing.T) {
	n := &Notification{User: "bob"}
	assert.Equal(t, "bob", n.Creator())

	n.Event.CreatedBy = "alice"
	assert.Equal(t, "alice", n.Creator())
}

func TestNewRecordSingletonDelivery(t *testing.T) {
	n := &Notification{
		NotificationType: TypeEventCreated,
		Event:            Event{ID: "evt-1", Title: "Launch"},
		User:             "alice",
	}

	rec := NewRecord(n, "bob")
	require.NotEmpty(t, rec.NotificationID)
	assert.Equal(t, []string{"bob"}, rec.DeliveredTo)
	assert.Empty(t, rec.ReadBy)
	assert.True(t, rec.IsDeliveredTo("bob"))
	assert.False(t, rec.IsDeliveredTo("alice"))
	assert.False(t, rec.IsReadBy("bob"))
}

func TestRecordsAreIndependentPerRecipient(t *testing.T) {
	n := &Notification{
		NotificationType: TypeEventUpdated,
		Event:            Event{ID: "evt-1"},
		User:             "alice",
	}

	a := NewRecord(n, "alice")
	b := NewRecord(n, "bob")
	assert.NotEqual(t, a.NotificationID, b.NotificationID)
	assert.NotEqual(t, a.DeliveredTo, b.DeliveredTo)
}
