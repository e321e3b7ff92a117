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

package run

import (
	"context"
	"sync"

	"github.com/opentrusty/insightd/internal/orchestrator"
)

// MemoryStore keeps reports in process memory, newest last
type MemoryStore struct {
	mu      sync.RWMutex
	reports []*orchestrator.RunReport
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a report, replacing one with the same ID
func (m *MemoryStore) Save(ctx context.Context, report *orchestrator.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.reports {
		if r.ID == report.ID {
			m.reports[i] = report
			return nil
		}
	}
	m.reports = append(m.reports, report)
	return nil
}

// Get returns a report by ID
func (m *MemoryStore) Get(ctx context.Context, id string) (*orchestrator.RunReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reports {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrReportNotFound
}

// Latest returns the most recently saved report
func (m *MemoryStore) Latest(ctx context.Context) (*orchestrator.RunReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.reports) == 0 {
		return nil, ErrReportNotFound
	}
	return m.reports[len(m.reports)-1], nil
}

// List returns up to limit reports, newest first
func (m *MemoryStore) List(ctx context.Context, limit int) ([]*orchestrator.RunReport, error) {
	if limit <= 0 {
		return []*orchestrator.RunReport{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*orchestrator.RunReport, 0, min(limit, len(m.reports)))
	for i := len(m.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.reports[i])
	}
	return out, nil
}
