// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi is the HTTP boundary of the auth engine: routing, request
// validation, bearer extraction and the JSON response envelope.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/holomush/holoauth/internal/admission"
	"github.com/holomush/holoauth/internal/observability"
)

// HealthPath is the unauthenticated liveness route under the API prefix.
const HealthPath = "/api/v1/auth/healthz"

// RouterConfig holds the router's collaborators.
type RouterConfig struct {
	Service AuthService
	// Limiter is optional; nil disables admission control.
	Limiter *admission.Limiter
	// Metrics is optional.
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewRouter builds the API handler, wrapped for OpenTelemetry tracing.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(cfg.Service, cfg.Metrics, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(requestMetrics(cfg.Metrics))
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, Envelope{
			Status:       StatusError,
			Message:      "Not found",
			ErrorDetails: &ErrorDetails{Error: CodeInvalidRequest, ErrorDescription: "no such route"},
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/healthz", h.Health)
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/token/refresh", h.Refresh)
			r.Post("/token/revoke", h.Revoke)
			r.Post("/logout", h.Logout)
			r.Put("/password", h.ChangePassword)
			r.Put("/email", h.ChangeEmail)
		})
		r.Route("/users", func(r chi.Router) {
			r.Get("/me", h.Me)
			r.Delete("/me", h.DeleteMe)
		})
	})

	return otelhttp.NewHandler(r, "holoauth.http")
}
