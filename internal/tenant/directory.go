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

package tenant

import (
	"context"
	"errors"
	"fmt"
)

// DefaultPageSize is used when a Directory is created without a page size
const DefaultPageSize = 500

// ErrEnumeration matches every EnumerationError via errors.Is
var ErrEnumeration = errors.New("tenant enumeration failed")

// EnumerationError reports that the tenant directory could not be read.
// A run cannot proceed without it.
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrEnumeration.Error(), e.Err)
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrEnumeration) hold for any EnumerationError
func (e *EnumerationError) Is(target error) bool {
	return target == ErrEnumeration
}

// Enumerator resolves the set of tenants a run processes
type Enumerator interface {
	ListTenants(ctx context.Context) ([]Tenant, error)
}

// Directory enumerates active tenants from a Repository.
// Every call reads the repository again; nothing is cached between runs.
type Directory struct {
	repo     Repository
	pageSize int
}

// NewDirectory creates a new tenant directory
func NewDirectory(repo Repository, pageSize int) *Directory {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Directory{
		repo:     repo,
		pageSize: pageSize,
	}
}

// ListTenants returns every active tenant in repository order
func (d *Directory) ListTenants(ctx context.Context) ([]Tenant, error) {
	var tenants []Tenant
	for offset := 0; ; offset += d.pageSize {
		page, err := d.repo.List(ctx, d.pageSize, offset)
		if err != nil {
			return nil, &EnumerationError{Err: fmt.Errorf("list tenants at offset %d: %w", offset, err)}
		}
		for _, t := range page {
			if t == nil || !t.IsActive() {
				continue
			}
			tenants = append(tenants, *t)
		}
		if len(page) < d.pageSize {
			break
		}
	}

	if tenants == nil {
		tenants = []Tenant{}
	}
	return tenants, nil
}

// GetTenant resolves a single tenant, used by per-tenant operations outside a run
func (d *Directory) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	if id == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	return d.repo.GetByID(ctx, id)
}
