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

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/insightd/internal/insight"
	"github.com/opentrusty/insightd/internal/observability/logger"
	"github.com/opentrusty/insightd/internal/orchestrator"
	"github.com/opentrusty/insightd/internal/run"
	"github.com/opentrusty/insightd/internal/scheduler"
	"github.com/opentrusty/insightd/internal/tenant"
	"github.com/opentrusty/insightd/internal/tenantlock"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 200
)

// TriggerRunRequest optionally caps a manual run
type TriggerRunRequest struct {
	RunDeadline string `json:"run_deadline,omitempty"`
}

// TriggerRunResponse identifies an accepted run
type TriggerRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RetryResponse reports a per-tenant retry
type RetryResponse struct {
	TenantID  string `json:"tenant_id"`
	Retried   int    `json:"retried"`
	Succeeded int    `json:"succeeded"`
}

// TriggerRun starts a manual insight run
// @Summary Trigger insight run
// @Description Starts a run for every tenant in the background. Poll GET /runs/{runID} for the report.
// @Tags Runs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TriggerRunRequest false "Run options"
// @Success 202 {object} TriggerRunResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /runs [post]
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var opts []orchestrator.RunOption
	if req.RunDeadline != "" {
		d, err := time.ParseDuration(req.RunDeadline)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "run_deadline must be a positive duration")
			return
		}
		opts = append(opts, orchestrator.WithRunDeadline(d))
	}

	runID, err := h.runs.Start(h.baseCtx, orchestrator.TriggerManual, GetActor(r.Context()), opts...)
	if err != nil {
		if errors.Is(err, run.ErrRunInProgress) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "failed to start run", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	respondJSON(w, http.StatusAccepted, TriggerRunResponse{RunID: runID, Status: "running"})
}

// ListRuns returns recent run reports
// @Summary List run reports
// @Tags Runs
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum reports" default(20)
// @Success 200 {array} orchestrator.RunReport
// @Failure 400 {object} map[string]string
// @Router /runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunListLimit)
	}

	reports, err := h.runs.List(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list runs", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondJSON(w, http.StatusOK, reports)
}

// GetLatestRun returns the most recent run report
// @Summary Latest run report
// @Tags Runs
// @Produce json
// @Security BearerAuth
// @Success 200 {object} orchestrator.RunReport
// @Failure 404 {object} map[string]string
// @Router /runs/latest [get]
func (h *Handler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.runs.Latest(r.Context())
	h.respondReport(w, r, report, err)
}

// GetRun returns one run report
// @Summary Get run report
// @Tags Runs
// @Produce json
// @Security BearerAuth
// @Param runID path string true "Run ID"
// @Success 200 {object} orchestrator.RunReport
// @Failure 404 {object} map[string]string
// @Router /runs/{runID} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.runs.Get(r.Context(), chi.URLParam(r, "runID"))
	h.respondReport(w, r, report, err)
}

func (h *Handler) respondReport(w http.ResponseWriter, r *http.Request, report *orchestrator.RunReport, err error) {
	if err != nil {
		if errors.Is(err, run.ErrReportNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "failed to load run report", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load run report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// RetryTenant retries previously failed insight items for one tenant
// @Summary Retry failed items
// @Description Waits for any in-flight work on the tenant, then asks the insight service to retry its failed items.
// @Tags Tenants
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} RetryResponse
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Failure 504 {object} map[string]string
// @Router /tenants/{tenantID}/retry [post]
func (h *Handler) RetryTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	res, err := h.runs.RetryFailed(r.Context(), tenantID, GetActor(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrTenantNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, tenantlock.ErrLockTimeout):
			respondError(w, http.StatusConflict, "tenant is busy; try again later")
		case errors.Is(err, insight.ErrTimeout):
			respondError(w, http.StatusGatewayTimeout, err.Error())
		case errors.Is(err, insight.ErrRejected), errors.Is(err, insight.ErrTransport), errors.Is(err, insight.ErrMalformed):
			respondError(w, http.StatusBadGateway, err.Error())
		default:
			slog.ErrorContext(r.Context(), "retry failed", logger.TenantID(tenantID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "retry failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, RetryResponse{
		TenantID:  tenantID,
		Retried:   res.Retried,
		Succeeded: res.Succeeded,
	})
}

// ListSchedules returns the registered cron schedules
// @Summary List schedules
// @Tags Runs
// @Produce json
// @Security BearerAuth
// @Success 200 {array} scheduler.EntryInfo
// @Router /schedules [get]
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	entries := []scheduler.EntryInfo{}
	if h.schedules != nil {
		entries = h.schedules.Entries()
	}
	respondJSON(w, http.StatusOK, entries)
}
