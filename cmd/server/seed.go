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

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/opentrusty/insightd/internal/config"
	"github.com/opentrusty/insightd/internal/store/postgres"
	"github.com/opentrusty/insightd/internal/tenant"
)

// seedFile lists development tenants:
//
//	[[tenant]]
//	id = "acme"
//	name = "Acme Corp"
//	status = "active"
type seedFile struct {
	Tenants []seedTenant `toml:"tenant"`
}

type seedTenant struct {
	ID     string `toml:"id"`
	Name   string `toml:"name"`
	Status string `toml:"status"`
}

func loadSeedFile(path string) ([]*tenant.Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f seedFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	now := time.Now().UTC()
	out := make([]*tenant.Tenant, 0, len(f.Tenants))
	for i, st := range f.Tenants {
		if st.ID == "" || st.Name == "" {
			return nil, fmt.Errorf("tenant %d: id and name are required", i)
		}
		status := st.Status
		if status == "" {
			status = tenant.StatusActive
		}
		if status != tenant.StatusActive && status != tenant.StatusInactive {
			return nil, fmt.Errorf("tenant %d: unknown status %q", i, status)
		}
		out = append(out, &tenant.Tenant{
			ID:        st.ID,
			Name:      st.Name,
			Status:    status,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: now,
		})
	}
	return out, nil
}

func runSeed(cfg *config.Config, path string) error {
	tenants, err := loadSeedFile(path)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := postgres.NewTenantRepository(db)
	for _, t := range tenants {
		if err := repo.Upsert(ctx, t); err != nil {
			return fmt.Errorf("tenant %s: %w", t.ID, err)
		}
	}
	fmt.Printf("Seeded %d tenants.\n", len(tenants))
	return nil
}
