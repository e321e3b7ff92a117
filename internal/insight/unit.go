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

package insight

import (
	"context"

	"github.com/opentrusty/insightd/internal/tenant"
)

// WorkResult is the successful result of one unit of work
type WorkResult struct {
	ItemsProduced int `json:"items_produced"`
}

// RetryResult is the result of retrying previously failed items for a tenant
type RetryResult struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
}

// UnitOfWork performs one remote insight computation for a tenant.
// Implementations report every failure through the returned error and
// must be safe to call again for the same tenant.
type UnitOfWork interface {
	Generate(ctx context.Context, t tenant.Tenant) (WorkResult, error)
}

// UnitOfWorkFunc adapts a function to the UnitOfWork interface
type UnitOfWorkFunc func(ctx context.Context, t tenant.Tenant) (WorkResult, error)

// Generate calls f(ctx, t)
func (f UnitOfWorkFunc) Generate(ctx context.Context, t tenant.Tenant) (WorkResult, error) {
	return f(ctx, t)
}

// Retrier asks the computation service to retry failed sub-units for one tenant
type Retrier interface {
	RetryFailed(ctx context.Context, tenantID string) (RetryResult, error)
}
