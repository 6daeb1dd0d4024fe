// Package gateway owns the WebSocket edge: handshake authentication,
// connection registration, and the per-connection read loop that services
// subscription commands.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aslanahmtv/event-management-system/internal/auth"
	"github.com/aslanahmtv/event-management-system/internal/metrics"
	"github.com/aslanahmtv/event-management-system/internal/registry"
)

// clientFrame is any inbound control message. Fields beyond the ones a given
// action uses are ignored.
type clientFrame struct {
	Action  string `json:"action"`
	EventID string `json:"event_id"`
}

type statusFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

type subscriptionFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Gateway upgrades HTTP requests to WebSocket connections and manages their
// lifecycle against the registry.
type Gateway struct {
	registry  *registry.Registry
	validator auth.TokenValidator
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	sendBuffer  int
	pushTimeout time.Duration

	upgrader websocket.Upgrader
}

// New creates a gateway.
func New(reg *registry.Registry, validator auth.TokenValidator, m *metrics.Metrics, sendBuffer int, pushTimeout time.Duration, logger zerolog.Logger) *Gateway {
	return &Gateway{
		registry:    reg,
		validator:   validator,
		metrics:     m,
		logger:      logger.With().Str("component", "gateway").Logger(),
		sendBuffer:  sendBuffer,
		pushTimeout: pushTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks are handled by the fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS handles one WebSocket session. Authentication happens after the
// upgrade so the refusal can be a proper close frame with a policy violation
// code rather than a bare HTTP error the client library swallows.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug().Err(err).Msg("Upgrade failed")
		return
	}

	subject, err := g.validator.Validate(auth.ExtractToken(r))
	if err != nil {
		g.metrics.AuthFailures.Inc()
		g.logger.Warn().Str("remote", r.RemoteAddr).Msg("Rejecting unauthenticated connection")
		g.refuse(conn, "Invalid or expired token")
		return
	}

	g.metrics.ConnectionsTotal.Inc()
	g.metrics.ConnectionsActive.Inc()

	client := newClient(subject, conn, g.sendBuffer, g.pushTimeout, g.logger)
	g.registry.Register(subject, client)

	go client.writePump()

	g.sendStatus(client, subject)
	g.readLoop(client)
}

// refuse sends a policy violation close frame and drops the socket.
func (g *Gateway) refuse(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// sendStatus acknowledges a successful handshake.
func (g *Gateway) sendStatus(client *Client, subject string) {
	payload, _ := json.Marshal(statusFrame{
		Type:      "connection_status",
		Status:    "connected",
		UserID:    subject,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err := client.Send(payload); err != nil {
		g.logger.Debug().Err(err).Str("subject", subject).Msg("Failed to send connection status")
	}
}

// readLoop services inbound frames until the connection dies, then runs the
// single cleanup path for the session.
func (g *Gateway) readLoop(client *Client) {
	defer func() {
		g.registry.Deregister(client.subject, client)
		g.metrics.ConnectionsActive.Dec()
		client.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug().Err(err).Str("subject", client.subject).Msg("Unexpected close")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.logger.Debug().Str("subject", client.subject).Msg("Ignoring malformed frame")
			continue
		}

		switch frame.Action {
		case "subscribe":
			if frame.EventID == "" {
				continue
			}
			g.registry.Subscribe(client.subject, frame.EventID)
			g.ackSubscription(client, "subscribed", frame.EventID)
		case "unsubscribe":
			if frame.EventID == "" {
				continue
			}
			g.registry.Unsubscribe(client.subject, frame.EventID)
			g.ackSubscription(client, "unsubscribed", frame.EventID)
		case "ping":
			payload, _ := json.Marshal(pongFrame{
				Type:      "pong",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			_ = client.Send(payload)
		default:
			// Unknown actions are ignored so older clients keep working.
		}
	}
}

func (g *Gateway) ackSubscription(client *Client, status, eventID string) {
	payload, _ := json.Marshal(subscriptionFrame{
		Type:      "subscription_update",
		Status:    status,
		EventID:   eventID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err := client.Send(payload); err != nil {
		g.logger.Debug().Err(err).Str("subject", client.subject).Msg("Failed to ack subscription")
	}
}
