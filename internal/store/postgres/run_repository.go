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

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/insightd/internal/orchestrator"
	"github.com/opentrusty/insightd/internal/run"
)

// RunRepository implements run.Store
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run report repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, trigger, tenants_processed, tenants_succeeded, total_items_produced, outcomes, started_at, finished_at`

// Save stores a run report. Saving the same ID again replaces it.
func (r *RunRepository) Save(ctx context.Context, report *orchestrator.RunReport) error {
	outcomes, err := json.Marshal(report.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO insight_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			trigger = EXCLUDED.trigger,
			tenants_processed = EXCLUDED.tenants_processed,
			tenants_succeeded = EXCLUDED.tenants_succeeded,
			total_items_produced = EXCLUDED.total_items_produced,
			outcomes = EXCLUDED.outcomes,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`,
		report.ID, report.Trigger, report.TenantsProcessed, report.TenantsSucceeded,
		report.TotalItemsProduced, outcomes, report.StartedAt, report.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	return nil
}

// Get retrieves a run report by ID
func (r *RunRepository) Get(ctx context.Context, id string) (*orchestrator.RunReport, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM insight_runs WHERE id = $1`, id)
	return scanRun(row)
}

// Latest retrieves the most recently started run report
func (r *RunRepository) Latest(ctx context.Context) (*orchestrator.RunReport, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM insight_runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	return scanRun(row)
}

// List retrieves up to limit run reports, newest first
func (r *RunRepository) List(ctx context.Context, limit int) ([]*orchestrator.RunReport, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM insight_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list run reports: %w", err)
	}
	defer rows.Close()

	reports := []*orchestrator.RunReport{}
	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run reports: %w", err)
	}
	return reports, nil
}

func scanRun(row pgx.Row) (*orchestrator.RunReport, error) {
	var (
		report   orchestrator.RunReport
		outcomes []byte
	)
	err := row.Scan(
		&report.ID, &report.Trigger, &report.TenantsProcessed, &report.TenantsSucceeded,
		&report.TotalItemsProduced, &outcomes, &report.StartedAt, &report.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, run.ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to scan run report: %w", err)
	}

	if err := json.Unmarshal(outcomes, &report.Outcomes); err != nil {
		return nil, fmt.Errorf("failed to decode outcomes: %w", err)
	}
	if report.Outcomes == nil {
		report.Outcomes = []orchestrator.Outcome{}
	}
	return &report, nil
}
