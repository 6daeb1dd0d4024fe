// Package consumer binds the hub to the broker: it maintains a durable
// JetStream subscription over the event subject space and hands every decoded
// notification to the broadcast engine.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aslanahmtv/event-management-system/internal/metrics"
	"github.com/aslanahmtv/event-management-system/internal/notification"
)

// Broadcaster is what the consumer needs from the fan-out side.
type Broadcaster interface {
	Broadcast(ctx context.Context, n *notification.Notification, topicID string) int
}

// State is the consumer's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateBound
	StateConsuming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateBound:
		return "bound"
	case StateConsuming:
		return "consuming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config carries the broker-facing settings.
type Config struct {
	URL        string
	StreamName string
	Durable    string
	Subject    string
	MaxRetries int
	RetryDelay time.Duration
	AckWait    time.Duration

	// MaxMessagesPerSec throttles consumption when > 0.
	MaxMessagesPerSec int
}

// Consumer owns the broker connection and its reconnect loop. Reconnects are
// driven here rather than by the client library so that attempts are counted,
// backed off exponentially, and capped.
type Consumer struct {
	cfg         Config
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	limiter     *rate.Limiter

	state atomic.Int32

	mu   sync.Mutex
	nc   *nats.Conn
	sub  *nats.Subscription
	stop chan struct{}
	once sync.Once
}

// New creates a consumer. Run starts it.
func New(cfg Config, b Broadcaster, m *metrics.Metrics, logger zerolog.Logger) *Consumer {
	c := &Consumer{
		cfg:         cfg,
		broadcaster: b,
		metrics:     m,
		logger:      logger.With().Str("component", "consumer").Logger(),
		stop:        make(chan struct{}),
	}
	if cfg.MaxMessagesPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxMessagesPerSec), cfg.MaxMessagesPerSec)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.ConsumerState.Set(float64(s))
}

// Run connects and consumes until ctx is cancelled, Stop is called, or the
// retry budget is exhausted. On a lost connection it tears down and retries
// from scratch, resetting the attempt counter only after a successful bind.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		lost, err := c.connectWithRetry(ctx)
		if errors.Is(err, errConsumerStopped) {
			c.setState(StateStopped)
			return nil
		}
		if err != nil {
			c.setState(StateDisconnected)
			return err
		}

		c.setState(StateConsuming)
		c.logger.Info().Str("subject", c.cfg.Subject).Msg("Consuming from broker")

		select {
		case <-ctx.Done():
			c.teardown()
			c.setState(StateStopped)
			return ctx.Err()
		case <-c.stop:
			c.teardown()
			c.setState(StateStopped)
			return nil
		case err := <-lost:
			c.teardown()
			c.setState(StateDisconnected)
			c.logger.Warn().Err(err).Msg("Broker connection lost, reconnecting")
		}
	}
}

// Stop terminates the consumer. Safe to call more than once.
func (c *Consumer) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// connectWithRetry attempts connect+bind with exponential backoff. It returns
// a channel that reports connection loss, or an error once MaxRetries
// consecutive attempts have failed.
func (c *Consumer) connectWithRetry(ctx context.Context) (<-chan error, error) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.stop:
			return nil, errConsumerStopped
		default:
		}

		c.setState(StateConnecting)
		c.metrics.ConsumerReconnects.Inc()

		lost, err := c.connect()
		if err == nil {
			return lost, nil
		}

		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", c.cfg.MaxRetries).
			Msg("Broker connect failed")

		if attempt >= c.cfg.MaxRetries {
			return nil, fmt.Errorf("broker unreachable after %d attempts: %w", attempt, err)
		}

		delay := backoffDelay(c.cfg.RetryDelay, attempt)
		c.logger.Info().Dur("delay", delay).Msg("Retrying broker connection")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.stop:
			return nil, errConsumerStopped
		case <-time.After(delay):
		}
	}
}

var errConsumerStopped = errors.New("consumer stopped")

// backoffDelay returns base doubled per completed attempt: base, 2*base,
// 4*base and so on.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 || base > time.Duration(math.MaxInt64)>>shift {
		return base << 30
	}
	return base << shift
}

// connect dials the broker, ensures the stream, and binds the durable
// subscription. Library-level reconnects are disabled; Run owns retries.
func (c *Consumer) connect() (<-chan error, error) {
	lost := make(chan error, 1)

	nc, err := nats.Connect(c.cfg.URL,
		nats.NoReconnect(),
		nats.ClosedHandler(func(conn *nats.Conn) {
			select {
			case lost <- conn.LastError():
			default:
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(c.cfg.StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     c.cfg.StreamName,
			Subjects: []string{c.cfg.Subject},
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", c.cfg.StreamName, err)
		}
	}

	c.setState(StateBound)

	sub, err := js.Subscribe(c.cfg.Subject, c.handleMessage,
		nats.Durable(c.cfg.Durable),
		nats.ManualAck(),
		nats.AckWait(c.cfg.AckWait),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind durable %s: %w", c.cfg.Durable, err)
	}

	c.mu.Lock()
	c.nc = nc
	c.sub = sub
	c.mu.Unlock()

	return lost, nil
}

func (c *Consumer) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
}

// handleMessage decodes and fans out one broker message. Malformed payloads
// are acked and dropped so they are not redelivered forever; broadcast itself
// never fails the message since delivery records are best effort per
// recipient.
func (c *Consumer) handleMessage(msg *nats.Msg) {
	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			_ = msg.Nak()
			return
		}
	}

	c.metrics.MessagesConsumed.Inc()

	n, err := notification.Decode(msg.Data)
	if err != nil {
		c.metrics.MessagesDropped.Inc()
		c.logger.Error().
			Err(err).
			Str("subject", msg.Subject).
			Msg("Dropping malformed broker message")
		_ = msg.Ack()
		return
	}

	c.broadcaster.Broadcast(context.Background(), n, topicFor(n))

	if err := msg.Ack(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to ack broker message")
	}
}

// topicFor maps a notification to its fan-out topic. Creation events have no
// subscribers yet and go to everyone connected; everything else targets the
// event's subscriber set.
func topicFor(n *notification.Notification) string {
	if n.NotificationType == notification.TypeEventCreated {
		return ""
	}
	return n.Event.ID
}
