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

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/opentrusty/insightd/internal/notification"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInvalid  = errors.New("session invalid")
)

// Session is a dashboard viewer session. Sessions are issued by the
// external identity provider; this service only tracks their lifetime
// and the notifications shown to them.
type Session struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	LastSeenAt time.Time

	notifications *notification.Aggregator
}

// Notifications returns the session's notification aggregator
func (s *Session) Notifications() *notification.Aggregator {
	return s.notifications
}

// IsIdle checks if the session has been idle for too long
func (s *Session) IsIdle(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(s.LastSeenAt) > idleTimeout
}

// Registry tracks live sessions. A session's notifications are created
// when the session starts and discarded when it ends.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Touch returns the session with the given ID, starting it if needed,
// and refreshes its last-seen time
func (r *Registry) Touch(id, userID string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s, ok := r.sessions[id]
	if !ok {
		s = &Session{
			ID:            id,
			UserID:        userID,
			CreatedAt:     now,
			notifications: notification.NewAggregator(),
		}
		r.sessions[id] = s
	}
	s.LastSeenAt = now
	return s, nil
}

// Get retrieves a live session
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End closes a session and discards its notifications. Ending an unknown session is a no-op.
func (r *Registry) End(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.notifications.Close()
	}
}

// CleanupIdle ends sessions idle for longer than idleTimeout and returns how many ended
func (r *Registry) CleanupIdle(idleTimeout time.Duration) int {
	r.mu.Lock()
	now := r.now()
	var idle []*Session
	for id, s := range r.sessions {
		if s.IsIdle(now, idleTimeout) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.notifications.Close()
	}
	return len(idle)
}

// Broadcast adds a notification to every live session and returns the number of sessions reached
func (r *Registry) Broadcast(in notification.Input) int {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.notifications.Add(in)
	}
	return len(targets)
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
