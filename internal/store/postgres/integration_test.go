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

//go:build integration
// +build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/insightd/internal/orchestrator"
	"github.com/opentrusty/insightd/internal/run"
	"github.com/opentrusty/insightd/internal/tenant"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		password = "insightd_dev_password"
	}

	ctx := context.Background()
	db, err := New(ctx, Config{
		Host:         "localhost",
		Port:         "5432",
		User:         "insightd",
		Password:     password,
		Database:     "insightd",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to database: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx, InitialSchema))
	return db
}

// TestPurpose: Validates the tenant directory pages in a stable order.
// Scope: Database Integration Test
// Expected: Pages follow created_at then id; unknown IDs return ErrTenantNotFound.
// Test Case ID: DB-01
func TestTenantRepository_ListOrder(t *testing.T) {
	db := testDB(t)
	repo := NewTenantRepository(db)
	ctx := context.Background()

	prefix := "it-" + uuid.NewString()[:8] + "-"
	base := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{prefix + "b", prefix + "a", prefix + "c"}
	for i, id := range ids {
		created := base
		if i == 2 {
			created = base.Add(time.Second)
		}
		require.NoError(t, repo.Upsert(ctx, &tenant.Tenant{
			ID: id, Name: id, Status: tenant.StatusActive, CreatedAt: created, UpdatedAt: created,
		}))
	}
	t.Cleanup(func() {
		_, _ = db.pool.Exec(context.Background(), "DELETE FROM tenants WHERE id LIKE $1", prefix+"%")
	})

	first, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, prefix+"a", first[0].ID)
	assert.Equal(t, prefix+"b", first[1].ID)

	got, err := repo.GetByID(ctx, prefix+"c")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusActive, got.Status)

	_, err = repo.GetByID(ctx, prefix+"missing")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

// TestPurpose: Validates run reports round-trip through the JSONB outcomes column.
// Scope: Database Integration Test
// Expected: Saved reports keep their outcomes in enumeration order; Latest returns the newest.
// Test Case ID: DB-02
func TestRunRepository_SaveAndLoad(t *testing.T) {
	db := testDB(t)
	repo := NewRunRepository(db)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Microsecond)
	older := orchestrator.NewRunReport(uuid.NewString(), orchestrator.TriggerSchedule, nil, start.Add(-time.Hour), start.Add(-time.Hour))
	newer := orchestrator.NewRunReport(uuid.NewString(), orchestrator.TriggerManual, []orchestrator.Outcome{
		{Tenant: tenant.Tenant{ID: "T1", Name: "Org 1"}, Succeeded: true, ItemsProduced: 5, Duration: time.Second},
		{Tenant: tenant.Tenant{ID: "T2", Name: "Org 2"}, ErrorMessage: "timeout"},
		{Tenant: tenant.Tenant{ID: "T3", Name: "Org 3"}, Succeeded: true},
	}, start, start.Add(2*time.Second))
	t.Cleanup(func() {
		_, _ = db.pool.Exec(context.Background(), "DELETE FROM insight_runs WHERE id = ANY($1)", []string{older.ID, newer.ID})
	})

	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))
	require.NoError(t, repo.Save(ctx, newer))

	got, err := repo.Get(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TenantsProcessed)
	assert.Equal(t, 2, got.TenantsSucceeded)
	assert.Equal(t, 5, got.TotalItemsProduced)
	require.Len(t, got.Outcomes, 3)
	assert.Equal(t, "T2", got.Outcomes[1].Tenant.ID)
	assert.Equal(t, "timeout", got.Outcomes[1].ErrorMessage)
	assert.Equal(t, time.Second, got.Outcomes[0].Duration)

	empty, err := repo.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty.Outcomes)

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, run.ErrReportNotFound)
}
