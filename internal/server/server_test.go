package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aslanahmtv/event-management-system/internal/config"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		Addr:         ":0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		BrokerURL:    "nats://127.0.0.1:1",
		ExchangeName: "event_exchange",
		QueueName:    "event_queue",
		RoutingKey:   "event.*",
		MaxRetries:   1,
		RetryDelay:   time.Millisecond,
		AckWait:      time.Second,
		JWTSecret:    "test-secret",
		DebugMode:    true,
		PushTimeout:  time.Second,
		SendBuffer:   16,
		StoreDriver:  "memory",
		LogLevel:     "error",
		LogFormat:    "json",
	}
	require.NoError(t, cfg.Validate())

	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return s, srv
}

func TestHealthReportsConsumerState(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	// The broker feed has not connected, so the hub reports degraded.
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "disconnected", body["consumer_state"])
	assert.Equal(t, float64(0), body["connections"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDebugTokenEndpoint(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Post(srv.URL+"/debug/token?subject=alice", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["token"])
}

func TestAPIRequiresAuth(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/notifications")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
