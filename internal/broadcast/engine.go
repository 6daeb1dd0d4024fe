// Package broadcast fans one notification out to its recipients: a durable
// record per recipient, plus a best-effort push to every live connection.
package broadcast

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/aslanahmtv/event-management-system/internal/metrics"
	"github.com/aslanahmtv/event-management-system/internal/notification"
	"github.com/aslanahmtv/event-management-system/internal/registry"
	"github.com/aslanahmtv/event-management-system/internal/store"
)

// Engine resolves recipients, persists delivery records, and pushes payloads.
type Engine struct {
	registry *registry.Registry
	store    store.Store
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a broadcast engine.
func New(reg *registry.Registry, st store.Store, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		registry: reg,
		store:    st,
		metrics:  m,
		logger:   logger.With().Str("component", "broadcast").Logger(),
	}
}

// Broadcast delivers n to its recipient set and returns how many distinct
// recipients were processed, regardless of push success.
//
// With a topic, recipients are the topic's subscribers plus the event's
// creator, who is always included even when not subscribed. Without a topic
// (creation-style notifications) every connected subject receives it.
//
// Delivery is not atomic: a persistence or push failure for one recipient is
// logged and never aborts the others.
func (e *Engine) Broadcast(ctx context.Context, n *notification.Notification, topicID string) int {
	var recipients map[string]struct{}
	if topicID != "" {
		recipients = e.registry.RecipientsFor(topicID)
		if creator := n.Creator(); creator != "" {
			recipients[creator] = struct{}{}
		}
	} else {
		recipients = e.registry.AllConnectedSubjects()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to encode notification payload")
		return 0
	}

	for recipient := range recipients {
		rec := notification.NewRecord(n, recipient)
		if err := e.store.Insert(ctx, rec); err != nil {
			e.metrics.PersistFailures.Inc()
			e.logger.Error().
				Err(err).
				Str("recipient", recipient).
				Str("notification_id", rec.NotificationID).
				Msg("Failed to persist delivery record")
			continue
		}
		e.metrics.RecordsPersisted.Inc()
	}

	for recipient := range recipients {
		for _, conn := range e.registry.LiveConnectionsFor(recipient) {
			e.metrics.PushesTotal.Inc()
			if err := conn.Send(payload); err != nil {
				e.metrics.PushFailures.Inc()
				e.logger.Warn().
					Err(err).
					Str("recipient", recipient).
					Msg("Push failed, closing connection")
				// The gateway's termination path deregisters it.
				_ = conn.Close()
			}
		}
	}

	e.metrics.BroadcastsTotal.Inc()
	e.logger.Info().
		Str("notification_type", string(n.NotificationType)).
		Str("topic", topicID).
		Int("recipients", len(recipients)).
		Msg("Broadcast complete")

	return len(recipients)
}
