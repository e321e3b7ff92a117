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

// Package tenantlock serializes remote work for the same tenant so a
// retry of failed items and a full insight run never overlap.
package tenantlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLockTimeout is returned when the lock could not be acquired before the context ended
var ErrLockTimeout = errors.New("tenant is busy")

// Locker hands out one exclusive lock per tenant ID
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // capacity 1; holding a token means holding the lock
	refs int
}

// New creates a new per-tenant locker
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until the tenant lock is held or ctx is done. An uncontended
// lock is always granted.
// The returned function releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, tenantID string) (func(), error) {
	e := l.acquireEntry(tenantID)

	select {
	case e.ch <- struct{}{}:
	default:
		select {
		case e.ch <- struct{}{}:
		case <-ctx.Done():
			l.releaseEntry(tenantID, e)
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, tenantID, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.releaseEntry(tenantID, e)
		})
	}, nil
}

// Held reports whether the tenant lock is currently held
func (l *Locker) Held(tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[tenantID]
	return ok && len(e.ch) > 0
}

func (l *Locker) acquireEntry(tenantID string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[tenantID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[tenantID] = e
	}
	e.refs++
	return e
}

// releaseEntry drops the map entry once no caller references it
func (l *Locker) releaseEntry(tenantID string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, tenantID)
	}
}
