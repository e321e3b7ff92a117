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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/insightd/internal/notification"
)

const maxNotificationDuration = 24 * time.Hour

// NotificationResponse is the wire form of a notification
type NotificationResponse struct {
	ID         string                `json:"id"`
	Severity   notification.Severity `json:"severity"`
	Title      string                `json:"title"`
	Message    string                `json:"message"`
	CreatedAt  time.Time             `json:"created_at"`
	DurationMS int64                 `json:"duration_ms,omitempty"`
	Action     *ActionResponse       `json:"action,omitempty"`
}

// ActionResponse describes an invokable action
type ActionResponse struct {
	Label string `json:"label"`
}

// CreateNotificationRequest adds a notification to the caller's session
type CreateNotificationRequest struct {
	Severity   notification.Severity `json:"severity"`
	Title      string                `json:"title"`
	Message    string                `json:"message"`
	DurationMS int64                 `json:"duration_ms"`
}

func toNotificationResponse(n notification.Notification) NotificationResponse {
	resp := NotificationResponse{
		ID:         n.ID,
		Severity:   n.Severity,
		Title:      n.Title,
		Message:    n.Message,
		CreatedAt:  n.CreatedAt,
		DurationMS: n.Duration.Milliseconds(),
	}
	if n.Action != nil {
		resp.Action = &ActionResponse{Label: n.Action.Label}
	}
	return resp
}

// ListNotifications returns the session's notifications, oldest first
// @Summary List notifications
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Security CookieAuth
// @Success 200 {array} NotificationResponse
// @Router /notifications [get]
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list := GetSession(r.Context()).Notifications().List()
	out := make([]NotificationResponse, len(list))
	for i, n := range list {
		out[i] = toNotificationResponse(n)
	}
	respondJSON(w, http.StatusOK, out)
}

// CreateNotification adds a notification to the session
// @Summary Add notification
// @Description Unknown severities are stored as info. duration_ms > 0 dismisses the notification automatically.
// @Tags Notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Security CookieAuth
// @Param request body CreateNotificationRequest true "Notification"
// @Success 201 {object} NotificationResponse
// @Failure 400 {object} map[string]string
// @Router /notifications [post]
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.DurationMS < 0 || req.DurationMS > maxNotificationDuration.Milliseconds() {
		respondError(w, http.StatusBadRequest, "duration_ms must be between 0 and 86400000")
		return
	}
	d := time.Duration(req.DurationMS) * time.Millisecond

	agg := GetSession(r.Context()).Notifications()
	id := agg.Add(notification.Input{
		Severity: req.Severity,
		Title:    req.Title,
		Message:  req.Message,
		Duration: d,
	})

	n, ok := agg.Get(id)
	if !ok {
		// already expired
		n = notification.Notification{ID: id}
	}
	respondJSON(w, http.StatusCreated, toNotificationResponse(n))
}

// DeleteNotification removes one notification. Removing an unknown ID succeeds.
// @Summary Remove notification
// @Tags Notifications
// @Security BearerAuth
// @Security CookieAuth
// @Param notificationID path string true "Notification ID"
// @Success 204
// @Router /notifications/{notificationID} [delete]
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	GetSession(r.Context()).Notifications().Remove(chi.URLParam(r, "notificationID"))
	w.WriteHeader(http.StatusNoContent)
}

// ClearNotifications removes every notification in the session
// @Summary Clear notifications
// @Tags Notifications
// @Security BearerAuth
// @Security CookieAuth
// @Success 204
// @Router /notifications [delete]
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	GetSession(r.Context()).Notifications().ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

// InvokeNotificationAction runs a notification's action and dismisses it
// @Summary Invoke notification action
// @Tags Notifications
// @Security BearerAuth
// @Security CookieAuth
// @Param notificationID path string true "Notification ID"
// @Success 202
// @Failure 404 {object} map[string]string
// @Router /notifications/{notificationID}/action [post]
func (h *Handler) InvokeNotificationAction(w http.ResponseWriter, r *http.Request) {
	if !GetSession(r.Context()).Notifications().Invoke(chi.URLParam(r, "notificationID")) {
		respondError(w, http.StatusNotFound, "notification not found or has no action")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// EndSession ends the dashboard session and discards its notifications
// @Summary End session
// @Tags Notifications
// @Security BearerAuth
// @Security CookieAuth
// @Success 204
// @Router /session [delete]
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.End(GetSession(r.Context()).ID)
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
