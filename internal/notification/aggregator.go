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

package notification

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity of a notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Action is an optional user action attached to a notification.
// It only runs through Invoke, never on removal or expiry.
type Action struct {
	Label   string `json:"label"`
	Handler func() `json:"-"`
}

// Input holds the caller-provided fields of a new notification
type Input struct {
	Severity Severity
	Title    string
	Message  string
	Duration time.Duration // zero keeps the notification until removed
	Action   *Action
}

// Notification is a user-facing notice
type Notification struct {
	ID        string        `json:"id"`
	Severity  Severity      `json:"severity"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"-"`
	Action    *Action       `json:"action,omitempty"`
}

type entry struct {
	n     Notification
	timer *time.Timer
}

// Aggregator owns a set of notifications in insertion order, oldest first.
// All mutations, including timer-driven expiry, are serialized by one mutex.
type Aggregator struct {
	mu      sync.Mutex
	entries []*entry
	byID    map[string]*entry
	now     func() time.Time
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		byID: make(map[string]*entry),
		now:  time.Now,
	}
}

// Add stores a notification and returns its ID. A positive Duration
// schedules exactly one automatic removal.
func (a *Aggregator) Add(in Input) string {
	sev := in.Severity
	if !sev.Valid() {
		sev = SeverityInfo
	}

	e := &entry{n: Notification{
		ID:        newID(),
		Severity:  sev,
		Title:     in.Title,
		Message:   in.Message,
		CreatedAt: a.now(),
		Duration:  max(in.Duration, 0),
	}}
	if in.Action != nil {
		act := *in.Action
		e.n.Action = &act
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, e)
	a.byID[e.n.ID] = e
	if e.n.Duration > 0 {
		e.timer = time.AfterFunc(e.n.Duration, func() { a.expire(e) })
	}
	return e.n.ID
}

// expire removes e only if it is still the live entry for its ID
func (a *Aggregator) expire(e *entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.byID[e.n.ID]; ok && cur == e {
		a.removeLocked(e.n.ID)
	}
}

// Remove deletes a notification and cancels its timer. Unknown IDs are ignored.
func (a *Aggregator) Remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(id)
}

func (a *Aggregator) removeLocked(id string) *entry {
	e, ok := a.byID[id]
	if !ok {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(a.byID, id)
	for i, cur := range a.entries {
		if cur == e {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			break
		}
	}
	return e
}

// ClearAll removes every notification and cancels all timers
func (a *Aggregator) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	a.entries = nil
	a.byID = make(map[string]*entry)
}

// List returns a snapshot in insertion order
func (a *Aggregator) List() []Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Notification, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.n
		if e.n.Action != nil {
			act := *e.n.Action
			out[i].Action = &act
		}
	}
	return out
}

// Get returns a copy of one notification
func (a *Aggregator) Get(id string) (Notification, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.byID[id]
	if !ok {
		return Notification{}, false
	}
	n := e.n
	if n.Action != nil {
		act := *n.Action
		n.Action = &act
	}
	return n, true
}

// Len returns the number of live notifications
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Invoke runs the action of a notification and removes it.
// It returns false when the notification is gone or has no action.
func (a *Aggregator) Invoke(id string) bool {
	a.mu.Lock()
	e, ok := a.byID[id]
	if !ok || e.n.Action == nil {
		a.mu.Unlock()
		return false
	}
	a.removeLocked(id)
	a.mu.Unlock()

	// outside the lock: handlers may call back into the aggregator
	if e.n.Action.Handler != nil {
		e.n.Action.Handler()
	}
	return true
}

// Close ends the aggregator's lifecycle, discarding everything it holds
func (a *Aggregator) Close() {
	a.ClearAll()
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
