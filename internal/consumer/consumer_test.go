package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aslanahmtv/event-management-system/internal/metrics"
	"github.com/aslanahmtv/event-management-system/internal/notification"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	calls  []string
	topics []string
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, n *notification.Notification, topicID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, n.Event.ID)
	r.topics = append(r.topics, topicID)
	return 1
}

func testConfig() Config {
	return Config{
		URL:        "nats://127.0.0.1:1",
		StreamName: "event_exchange",
		Durable:    "event_queue",
		Subject:    "event.*",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		AckWait:    time.Second,
	}
}

func TestBackoffDelayDoublesPerAttempt(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, 5*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 10*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 20*time.Second, backoffDelay(base, 3))
	assert.Equal(t, 40*time.Second, backoffDelay(base, 4))
}

func TestBackoffDelayDoesNotOverflow(t *testing.T) {
	d := backoffDelay(5*time.Second, 100)
	assert.Greater(t, d, time.Duration(0))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "bound", StateBound.String())
	assert.Equal(t, "consuming", StateConsuming.String())
	assert.Equal(t, "stopped", StateStopped.String())
}

func TestRunGivesUpAfterRetryBudget(t *testing.T) {
	c := New(testConfig(), &recordingBroadcaster{}, metrics.New(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.Run(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1000
	cfg.RetryDelay = 50 * time.Millisecond
	c := New(cfg, &recordingBroadcaster{}, metrics.New(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1000
	cfg.RetryDelay = 50 * time.Millisecond
	c := New(cfg, &recordingBroadcaster{}, metrics.New(), zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestHandleMessageFansOut(t *testing.T) {
	b := &recordingBroadcaster{}
	c := New(testConfig(), b, metrics.New(), zerolog.Nop())

	c.handleMessage(&nats.Msg{
		Subject: "event.updated",
		Data: []byte(`{
			"notification_type": "event.updated",
			"event": {"id": "evt-1", "title": "Sync", "action": "updated"},
			"user": "alice"
		}`),
	})

	require.Len(t, b.calls, 1)
	assert.Equal(t, "evt-1", b.calls[0])
	assert.Equal(t, "evt-1", b.topics[0])
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	b := &recordingBroadcaster{}
	c := New(testConfig(), b, metrics.New(), zerolog.Nop())

	c.handleMessage(&nats.Msg{Subject: "event.updated", Data: []byte(`not json`)})
	c.handleMessage(&nats.Msg{Subject: "event.updated", Data: []byte(`{"event": {"title": "no id"}}`)})

	assert.Empty(t, b.calls)
}

func TestTopicForCreationBroadcastsToEveryone(t *testing.T) {
	created := &notification.Notification{
		NotificationType: notification.TypeEventCreated,
		Event:            notification.Event{ID: "evt-1"},
	}
	assert.Equal(t, "", topicFor(created))

	updated := &notification.Notification{
		NotificationType: notification.TypeEventUpdated,
		Event:            notification.Event{ID: "evt-1"},
	}
	assert.Equal(t, "evt-1", topicFor(updated))

	deleted := &notification.Notification{
		NotificationType: notification.TypeEventDeleted,
		Event:            notification.Event{ID: "evt-2"},
	}
	assert.Equal(t, "evt-2", topicFor(deleted))
}
