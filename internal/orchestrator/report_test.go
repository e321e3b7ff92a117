package orchestrator

import (
	"testing"
	"time"

	"github.com/opentrusty/insightd/internal/tenant"
	"github.com/stretchr/testify/assert"
)

func TestNewRunReport_DerivesAggregates(t *testing.T) {
	start := time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC)
	outcomes := []Outcome{
		{Tenant: tenant.Tenant{ID: "a"}, Succeeded: true, ItemsProduced: 4},
		{Tenant: tenant.Tenant{ID: "b"}, Succeeded: false, ErrorMessage: "timeout"},
		{Tenant: tenant.Tenant{ID: "c"}, Succeeded: true, ItemsProduced: 1},
	}

	r := NewRunReport("run-1", TriggerManual, outcomes, start, start.Add(3*time.Second))

	assert.Equal(t, 3, r.TenantsProcessed)
	assert.Equal(t, 2, r.TenantsSucceeded)
	assert.Equal(t, 1, r.TenantsFailed())
	assert.Equal(t, 5, r.TotalItemsProduced)
	assert.Equal(t, 3*time.Second, r.Duration())
	assert.Equal(t, "partial", r.Result())
	assert.Equal(t, []Outcome{outcomes[1]}, r.FailedOutcomes())

	// the report owns its own copy
	outcomes[0].ItemsProduced = 100
	assert.Equal(t, 4, r.Outcomes[0].ItemsProduced)
}
