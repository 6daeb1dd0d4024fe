package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Client frames are small control messages.
	maxMessageSize = 4096
)

// ErrSendTimeout is returned by Send when the client's outbound buffer stays
// full past the push timeout. The client is considered too slow to keep.
var ErrSendTimeout = errors.New("send timed out, client too slow")

// ErrClientClosed is returned by Send after the client has been torn down.
var ErrClientClosed = errors.New("client closed")

// Client is one WebSocket connection bound to an authenticated subject. The
// read loop is the only reader and writePump the only writer; everything else
// talks to the socket through the send channel.
type Client struct {
	subject string
	conn    *websocket.Conn
	logger  zerolog.Logger

	send        chan []byte
	pushTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(subject string, conn *websocket.Conn, sendBuffer int, pushTimeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		subject:     subject,
		conn:        conn,
		logger:      logger.With().Str("subject", subject).Logger(),
		send:        make(chan []byte, sendBuffer),
		pushTimeout: pushTimeout,
		done:        make(chan struct{}),
	}
}

// Subject returns the authenticated owner of this connection.
func (c *Client) Subject() string { return c.subject }

// Send queues payload for delivery. It blocks at most the push timeout when
// the buffer is full; an error means the connection should be torn down.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-time.After(c.pushTimeout):
		return ErrSendTimeout
	}
}

// Close tears the connection down. Safe to call from any goroutine and more
// than once; the read loop observes the closed socket and runs cleanup.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with periodic pings. One per client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
