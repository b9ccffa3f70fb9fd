// Package api provides the LeadPipe HTTP server: a chat endpoint that runs conversation
// turns, flow definition management, lead lookup, the Twilio webhook, health and metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Server holds the collaborators behind the HTTP endpoints. Only turns is required; the
// routes of missing collaborators answer 501.
type Server struct {
	turns   messaging.TurnHandler
	flows   store.FlowRepository
	leads   store.LeadReader
	twilio  *messaging.TwilioService
	domain  models.Domain
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithFlowRepository enables the flow management endpoints.
func WithFlowRepository(repo store.FlowRepository) Option {
	return func(s *Server) { s.flows = repo }
}

// WithLeadReader enables lead lookup.
func WithLeadReader(r store.LeadReader) Option {
	return func(s *Server) { s.leads = r }
}

// WithTwilioWebhook mounts the Twilio inbound webhook.
func WithTwilioWebhook(svc *messaging.TwilioService) Option {
	return func(s *Server) { s.twilio = svc }
}

// WithDefaultDomain sets the domain used when a chat request names none.
func WithDefaultDomain(d models.Domain) Option {
	return func(s *Server) { s.domain = d }
}

// WithTurnTimeout bounds each chat turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewServer creates a Server.
func NewServer(turns messaging.TurnHandler, opts ...Option) *Server {
	s := &Server{
		turns:   turns,
		domain:  models.DefaultDomain,
		timeout: messaging.DefaultTurnTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/flows/validate", s.validateFlowHandler)
	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Post("/chat", s.chatHandler)
		r.Get("/flows", s.listFlowsHandler)
		r.Post("/flows/{domain}", s.saveFlowHandler)
		r.Post("/flows/{domain}/{version}/publish", s.publishFlowHandler)
		r.Get("/leads/{phone}", s.getLeadHandler)
	})
	if s.twilio != nil {
		r.Post("/webhooks/twilio", s.twilio.TwilioWebhookHandler)
	}
	return r
}

// Run serves the API on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("LeadPipe API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("API server failed", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	slog.Info("API server stopped")
	return nil
}
