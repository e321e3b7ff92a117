// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// @title insightd API
// @version 1.0.0
// @description Multi-tenant insight batch orchestrator
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name insightd_session

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/insightd/internal/insight"
	"github.com/opentrusty/insightd/internal/observability/logger"
	"github.com/opentrusty/insightd/internal/orchestrator"
	"github.com/opentrusty/insightd/internal/scheduler"
	"github.com/opentrusty/insightd/internal/session"
)

// RunService starts runs, retries tenants and serves run history
type RunService interface {
	Start(ctx context.Context, trigger, actor string, opts ...orchestrator.RunOption) (string, error)
	Running() bool
	RetryFailed(ctx context.Context, tenantID, actor string) (insight.RetryResult, error)
	Latest(ctx context.Context) (*orchestrator.RunReport, error)
	Get(ctx context.Context, id string) (*orchestrator.RunReport, error)
	List(ctx context.Context, limit int) ([]*orchestrator.RunReport, error)
}

// ScheduleLister reports registered cron schedules
type ScheduleLister interface {
	Entries() []scheduler.EntryInfo
}

// Pinger checks a backing dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds transport configuration
type Config struct {
	// APIToken authenticates operator requests
	APIToken string
	// SessionCookieName carries the dashboard session ID
	SessionCookieName string
	// RequestTimeout bounds synchronous handlers such as retry
	RequestTimeout time.Duration
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	runs      RunService
	sessions  *session.Registry
	schedules ScheduleLister
	db        Pinger
	cfg       Config

	// baseCtx outlives requests; runs started over HTTP use it
	baseCtx context.Context
}

// NewHandler creates a new HTTP handler. baseCtx bounds background runs and
// should be cancelled on shutdown.
func NewHandler(
	baseCtx context.Context,
	runs RunService,
	sessions *session.Registry,
	schedules ScheduleLister,
	db Pinger,
	cfg Config,
) *Handler {
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "insightd_session"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Handler{
		runs:      runs,
		sessions:  sessions,
		schedules: schedules,
		db:        db,
		cfg:       cfg,
		baseCtx:   baseCtx,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.cfg.RequestTimeout))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.OperatorAuthMiddleware)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/", h.TriggerRun)
			r.Get("/latest", h.GetLatestRun)
			r.Get("/{runID}", h.GetRun)
		})

		r.Post("/tenants/{tenantID}/retry", h.RetryTenant)
		r.Get("/schedules", h.ListSchedules)

		// Dashboard session scoped
		r.Group(func(r chi.Router) {
			r.Use(h.SessionMiddleware)

			r.Delete("/session", h.EndSession)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.ListNotifications)
				r.Post("/", h.CreateNotification)
				r.Delete("/", h.ClearNotifications)
				r.Delete("/{notificationID}", h.DeleteNotification)
				r.Post("/{notificationID}/action", h.InvokeNotificationAction)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service and its database are reachable
// @Tags System
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			slog.WarnContext(r.Context(), "health check: database unreachable", logger.Error(err))
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	respondJSON(w, code, map[string]any{
		"status":      status,
		"service":     "insightd",
		"run_running": h.runs.Running(),
	})
}

// Helper functions
func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.cfg.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.cfg.SessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// decodeJSON decodes an optional JSON body; an empty body leaves dst untouched
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
