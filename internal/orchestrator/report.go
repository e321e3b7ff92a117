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

package orchestrator

import (
	"time"

	"github.com/opentrusty/insightd/internal/tenant"
)

// Trigger sources
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Outcome is the recorded result of one tenant in one run
type Outcome struct {
	Tenant        tenant.Tenant `json:"tenant"`
	Succeeded     bool          `json:"succeeded"`
	ItemsProduced int           `json:"items_produced"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
}

// RunReport summarizes one full orchestrator invocation.
// Reports are read-only once returned; use NewRunReport to build one.
type RunReport struct {
	ID                 string    `json:"id"`
	Trigger            string    `json:"trigger"`
	TenantsProcessed   int       `json:"tenants_processed"`
	TenantsSucceeded   int       `json:"tenants_succeeded"`
	TotalItemsProduced int       `json:"total_items_produced"`
	Outcomes           []Outcome `json:"outcomes"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// NewRunReport builds a report whose aggregate fields are derived from outcomes.
// The outcomes slice is copied.
func NewRunReport(id, trigger string, outcomes []Outcome, startedAt, finishedAt time.Time) *RunReport {
	r := &RunReport{
		ID:         id,
		Trigger:    trigger,
		Outcomes:   make([]Outcome, len(outcomes)),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	copy(r.Outcomes, outcomes)

	r.TenantsProcessed = len(r.Outcomes)
	for _, o := range r.Outcomes {
		if o.Succeeded {
			r.TenantsSucceeded++
		}
		r.TotalItemsProduced += o.ItemsProduced
	}
	return r
}

// TenantsFailed returns the number of tenants whose unit of work failed
func (r *RunReport) TenantsFailed() int {
	return r.TenantsProcessed - r.TenantsSucceeded
}

// Duration returns the wall time of the run
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Result classifies the run as completed (no failures) or partial
func (r *RunReport) Result() string {
	if r.TenantsFailed() == 0 {
		return "completed"
	}
	return "partial"
}

// FailedOutcomes returns the failed outcomes in enumeration order
func (r *RunReport) FailedOutcomes() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.Succeeded {
			failed = append(failed, o)
		}
	}
	return failed
}
