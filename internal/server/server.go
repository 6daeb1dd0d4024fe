// Package server wires the hub together and owns its lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aslanahmtv/event-management-system/internal/api"
	"github.com/aslanahmtv/event-management-system/internal/auth"
	"github.com/aslanahmtv/event-management-system/internal/broadcast"
	"github.com/aslanahmtv/event-management-system/internal/config"
	"github.com/aslanahmtv/event-management-system/internal/consumer"
	"github.com/aslanahmtv/event-management-system/internal/gateway"
	"github.com/aslanahmtv/event-management-system/internal/metrics"
	"github.com/aslanahmtv/event-management-system/internal/registry"
	"github.com/aslanahmtv/event-management-system/internal/store"
)

// Server is the assembled notification hub.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	registry *registry.Registry
	store    store.Store
	consumer *consumer.Consumer
	http     *http.Server

	startedAt time.Time
}

// New builds the hub from configuration. It opens the store but does not
// start any loops; Start does that.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	m := metrics.New()

	st, err := store.Open(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := registry.New(logger)
	engine := broadcast.New(reg, st, m, logger)
	validator := auth.NewJWTValidator(cfg.JWTSecret, cfg.DebugMode)
	gw := gateway.New(reg, validator, m, cfg.SendBuffer, cfg.PushTimeout, logger)

	cons := consumer.New(consumer.Config{
		URL:               cfg.BrokerURL,
		StreamName:        cfg.ExchangeName,
		Durable:           cfg.QueueName,
		Subject:           cfg.RoutingKey,
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		AckWait:           cfg.AckWait,
		MaxMessagesPerSec: cfg.MaxMessagesPerSec,
	}, engine, m, logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		store:     st,
		consumer:  cons,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", gw.ServeWS)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", m.Handler())

	apiMux := http.NewServeMux()
	api.New(st, logger).Register(apiMux)
	mux.Handle("/api/", auth.Middleware(validator)(apiMux))

	if cfg.DebugMode {
		mux.HandleFunc("POST /debug/token", func(w http.ResponseWriter, r *http.Request) {
			subject := r.URL.Query().Get("subject")
			if subject == "" {
				subject = auth.DebugSubject
			}
			token, err := validator.Generate(subject, time.Hour)
			if err != nil {
				http.Error(w, "token generation failed", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
		})
	}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start runs the consumer and the HTTP listener. It blocks until the listener
// stops. A consumer that exhausts its retry budget leaves the hub serving in
// degraded mode: connected clients and history stay available, new broker
// messages do not arrive.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("Consumer gave up, serving without broker feed")
		}
	}()

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Notification hub listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the hub in order: broker feed first so no new fan-outs
// start, then the listener, then open client connections, then the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down")

	s.consumer.Stop()

	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
	}

	s.registry.CloseAll()

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	consumerState := s.consumer.State()
	if consumerState == consumer.StateDisconnected {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         healthLabel(status),
		"consumer_state": consumerState.String(),
		"connections":    s.registry.ConnectionCount(),
		"subjects":       s.registry.SubjectCount(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func healthLabel(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
