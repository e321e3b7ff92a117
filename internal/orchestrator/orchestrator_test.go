package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opentrusty/insightd/internal/insight"
	"github.com/opentrusty/insightd/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEnumerator struct {
	tenants []tenant.Tenant
	err     error
	calls   int32
}

func (s *staticEnumerator) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.tenants, nil
}

func tenants(ids ...string) []tenant.Tenant {
	out := make([]tenant.Tenant, len(ids))
	for i, id := range ids {
		out[i] = tenant.Tenant{ID: id, Name: "Org " + id, Status: tenant.StatusActive}
	}
	return out
}

func outcomeIDs(r *RunReport) []string {
	ids := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		ids[i] = o.Tenant.ID
	}
	return ids
}

func assertAggregates(t *testing.T, r *RunReport) {
	t.Helper()
	succeeded, items := 0, 0
	for _, o := range r.Outcomes {
		if o.Succeeded {
			succeeded++
			assert.Empty(t, o.ErrorMessage)
		} else {
			assert.Equal(t, 0, o.ItemsProduced)
			assert.NotEmpty(t, o.ErrorMessage)
		}
		items += o.ItemsProduced
	}
	assert.Equal(t, len(r.Outcomes), r.TenantsProcessed)
	assert.Equal(t, succeeded, r.TenantsSucceeded)
	assert.Equal(t, items, r.TotalItemsProduced)
	assert.False(t, r.FinishedAt.Before(r.StartedAt))
}

// TestPurpose: Validates the reference scenario of one success, one timeout and one empty success.
// Scope: Unit Test
// Expected: tenantsProcessed=3, tenantsSucceeded=2, totalItemsProduced=5 and outcomes in enumeration order.
// Test Case ID: ORC-01
func TestOrchestrator_ReferenceScenario(t *testing.T) {
	enum := &staticEnumerator{tenants: tenants("T1", "T2", "T3")}
	o := New(enum, Config{Concurrency: 1, TenantTimeout: 50 * time.Millisecond})

	uow := insight.UnitOfWorkFunc(func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
		switch tn.ID {
		case "T1":
			return insight.WorkResult{ItemsProduced: 5}, nil
		case "T2":
			<-ctx.Done()
			return insight.WorkResult{}, ctx.Err()
		default:
			return insight.WorkResult{ItemsProduced: 0}, nil
		}
	})

	report, err := o.RunInsightGeneration(context.Background(), uow, WithTrigger(TriggerSchedule), WithRunID("run-1"))
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, "run-1", report.ID)
	assert.Equal(t, TriggerSchedule, report.Trigger)
	assert.Equal(t, 3, report.TenantsProcessed)
	assert.Equal(t, 2, report.TenantsSucceeded)
	assert.Equal(t, 5, report.TotalItemsProduced)
	assert.Equal(t, "partial", report.Result())

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, []string{"T1", "T2", "T3"}, outcomeIDs(report))

	assert.True(t, report.Outcomes[0].Succeeded)
	assert.Equal(t, 5, report.Outcomes[0].ItemsProduced)
	assert.Equal(t, "", report.Outcomes[0].ErrorMessage)

	assert.False(t, report.Outcomes[1].Succeeded)
	assert.Equal(t, 0, report.Outcomes[1].ItemsProduced)
	assert.Equal(t, "timeout", report.Outcomes[1].ErrorMessage)

	assert.True(t, report.Outcomes[2].Succeeded)
	assert.Equal(t, 0, report.Outcomes[2].ItemsProduced)
	assert.Equal(t, "", report.Outcomes[2].ErrorMessage)

	assertAggregates(t, report)
}

// TestPurpose: Validates fault isolation for every failing subset of tenants, sequentially and concurrently.
// Scope: Unit Test
// Expected: All tenants are processed and each non-failing tenant keeps its own item count.
// Test Case ID: ORC-02
func TestOrchestrator_Isolation(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	enum := &staticEnumerator{tenants: tenants(ids...)}

	for _, concurrency := range []int{1, 3} {
		for mask := 0; mask < 1<<len(ids)-1; mask++ {
			failing := map[string]bool{}
			for i, id := range ids {
				if mask&(1<<i) != 0 {
					failing[id] = true
				}
			}

			t.Run(fmt.Sprintf("concurrency=%d/mask=%05b", concurrency, mask), func(t *testing.T) {
				o := New(enum, Config{Concurrency: concurrency, TenantTimeout: time.Second})
				uow := insight.UnitOfWorkFunc(func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
					if failing[tn.ID] {
						return insight.WorkResult{}, &insight.UnitOfWorkError{Kind: insight.KindRejected, StatusCode: 500, Err: errors.New("boom")}
					}
					return insight.WorkResult{ItemsProduced: len(tn.ID) + int(tn.ID[0]-'a')}, nil
				})

				report, err := o.RunInsightGeneration(context.Background(), uow)
				require.NoError(t, err)

				assert.Equal(t, len(ids), report.TenantsProcessed)
				assert.Equal(t, len(ids)-len(failing), report.TenantsSucceeded)
				assert.Equal(t, ids, outcomeIDs(report))
				for _, out := range report.Outcomes {
					if failing[out.Tenant.ID] {
						assert.False(t, out.Succeeded)
						assert.Equal(t, "rejected: status 500: boom", out.ErrorMessage)
					} else {
						assert.True(t, out.Succeeded)
						assert.Equal(t, 1+int(out.Tenant.ID[0]-'a'), out.ItemsProduced)
					}
				}
				assertAggregates(t, report)
			})
		}
	}
}

// TestPurpose: Validates aggregate consistency for the empty and all-failing tenant sets.
// Scope: Unit Test
// Expected: Zero outcomes with zero sums; all-failing runs produce zero items and still return a report.
// Test Case ID: ORC-03
func TestOrchestrator_AggregateEdgeCases(t *testing.T) {
	t.Run("empty tenant set", func(t *testing.T) {
		o := New(&staticEnumerator{tenants: []tenant.Tenant{}}, Config{})
		called := false
		report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
			func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
				called = true
				return insight.WorkResult{}, nil
			}))

		require.NoError(t, err)
		require.NotNil(t, report)
		assert.False(t, called)
		assert.Equal(t, 0, report.TenantsProcessed)
		assert.Equal(t, 0, report.TenantsSucceeded)
		assert.Equal(t, 0, report.TotalItemsProduced)
		assert.NotNil(t, report.Outcomes)
		assert.Empty(t, report.Outcomes)
		assert.Equal(t, "completed", report.Result())
	})

	t.Run("all failing", func(t *testing.T) {
		o := New(&staticEnumerator{tenants: tenants("a", "b", "c")}, Config{Concurrency: 2})
		report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
			func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
				return insight.WorkResult{ItemsProduced: 7}, errors.New("connection reset")
			}))

		require.NoError(t, err)
		assert.Equal(t, 3, report.TenantsProcessed)
		assert.Equal(t, 0, report.TenantsSucceeded)
		assert.Equal(t, 0, report.TotalItemsProduced)
		assert.Len(t, report.FailedOutcomes(), 3)
		assertAggregates(t, report)
	})
}

// TestPurpose: Validates that outcomes follow enumeration order rather than completion order.
// Scope: Unit Test
// Expected: With A slowest and C fastest under concurrency, outcomes are still A, B, C.
// Test Case ID: ORC-04
func TestOrchestrator_OrderPreservation(t *testing.T) {
	delays := map[string]time.Duration{"A": 60 * time.Millisecond, "B": 30 * time.Millisecond, "C": 0}
	o := New(&staticEnumerator{tenants: tenants("A", "B", "C")}, Config{Concurrency: 3, TenantTimeout: time.Second})

	var mu sync.Mutex
	var completion []string
	report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
		func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
			time.Sleep(delays[tn.ID])
			mu.Lock()
			completion = append(completion, tn.ID)
			mu.Unlock()
			return insight.WorkResult{ItemsProduced: 1}, nil
		}))

	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, completion)
	assert.Equal(t, []string{"A", "B", "C"}, outcomeIDs(report))
}

// TestPurpose: Validates that enumeration failure is fatal and produces no report.
// Scope: Unit Test
// Expected: The error matches ErrEnumeration, the report is nil and the unit of work is never invoked.
// Test Case ID: ORC-05
func TestOrchestrator_FatalEnumeration(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"typed enumeration error", &tenant.EnumerationError{Err: errors.New("directory down")}},
		{"plain error from custom enumerator", errors.New("directory down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(&staticEnumerator{err: tt.err}, Config{})
			var calls int32
			report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
				func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
					atomic.AddInt32(&calls, 1)
					return insight.WorkResult{}, nil
				}))

			assert.Nil(t, report)
			require.Error(t, err)
			assert.ErrorIs(t, err, tenant.ErrEnumeration)
			assert.Contains(t, err.Error(), "directory down")
			assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
		})
	}
}

// TestPurpose: Validates that a panicking unit of work is contained to its tenant.
// Scope: Unit Test
// Expected: The panicking tenant fails with a panic message; the next tenant still succeeds.
// Test Case ID: ORC-06
func TestOrchestrator_PanicIsolation(t *testing.T) {
	o := New(&staticEnumerator{tenants: tenants("a", "b")}, Config{})
	report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
		func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
			if tn.ID == "a" {
				panic("nil map write")
			}
			return insight.WorkResult{ItemsProduced: 2}, nil
		}))

	require.NoError(t, err)
	assert.False(t, report.Outcomes[0].Succeeded)
	assert.Contains(t, report.Outcomes[0].ErrorMessage, "nil map write")
	assert.True(t, report.Outcomes[1].Succeeded)
	assert.Equal(t, 2, report.TotalItemsProduced)
}

// TestPurpose: Validates that a unit of work ignoring cancellation cannot stall the run past its timeout.
// Scope: Unit Test
// Expected: The stuck tenant is recorded as a timeout and the following tenant is processed.
// Test Case ID: ORC-07
func TestOrchestrator_UnresponsiveUnitOfWork(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	o := New(&staticEnumerator{tenants: tenants("stuck", "ok")}, Config{TenantTimeout: 30 * time.Millisecond})
	start := time.Now()
	report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
		func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
			if tn.ID == "stuck" {
				<-release
			}
			return insight.WorkResult{ItemsProduced: 1}, nil
		}))

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "timeout", report.Outcomes[0].ErrorMessage)
	assert.True(t, report.Outcomes[1].Succeeded)
}

// TestPurpose: Validates the optional run deadline.
// Scope: Unit Test
// Expected: Tenants not started before the deadline fail with "run deadline exceeded" and are still counted.
// Test Case ID: ORC-08
func TestOrchestrator_RunDeadline(t *testing.T) {
	o := New(&staticEnumerator{tenants: tenants("a", "b", "c")}, Config{
		Concurrency:   1,
		TenantTimeout: time.Second,
		RunDeadline:   20 * time.Millisecond,
	})

	report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
		func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
			time.Sleep(60 * time.Millisecond)
			return insight.WorkResult{ItemsProduced: 3}, nil
		}))

	require.NoError(t, err)
	assert.Equal(t, 3, report.TenantsProcessed)
	assert.Equal(t, []string{"a", "b", "c"}, outcomeIDs(report))
	assert.True(t, report.Outcomes[0].Succeeded, "work started before the deadline runs to completion")
	for _, out := range report.Outcomes[1:] {
		assert.False(t, out.Succeeded)
		assert.Equal(t, ErrRunDeadlineExceeded.Error(), out.ErrorMessage)
	}
	assertAggregates(t, report)
}

func TestOrchestrator_RunDeadlineOverride(t *testing.T) {
	o := New(&staticEnumerator{tenants: tenants("a", "b")}, Config{Concurrency: 1, TenantTimeout: time.Second})

	report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
		func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
			time.Sleep(40 * time.Millisecond)
			return insight.WorkResult{ItemsProduced: 1}, nil
		}), WithRunDeadline(10*time.Millisecond), WithTrigger(TriggerSchedule))

	require.NoError(t, err)
	assert.Equal(t, TriggerSchedule, report.Trigger)
	assert.True(t, report.Outcomes[0].Succeeded)
	assert.Equal(t, ErrRunDeadlineExceeded.Error(), report.Outcomes[1].ErrorMessage)
}

func TestOrchestrator_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := New(&staticEnumerator{tenants: tenants("a", "b", "c")}, Config{Concurrency: 1, TenantTimeout: time.Second})

	report, err := o.RunInsightGeneration(ctx, insight.UnitOfWorkFunc(
		func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
			if tn.ID == "a" {
				cancel()
				<-ctx.Done()
				return insight.WorkResult{}, ctx.Err()
			}
			return insight.WorkResult{ItemsProduced: 1}, nil
		}))

	require.NoError(t, err)
	assert.Equal(t, 3, report.TenantsProcessed)
	for _, out := range report.Outcomes {
		assert.False(t, out.Succeeded)
		assert.Equal(t, ErrRunCancelled.Error(), out.ErrorMessage)
	}
}

// TestPurpose: Validates that the worker pool never exceeds the configured concurrency.
// Scope: Unit Test
// Expected: The observed maximum number of in-flight units of work equals the limit.
// Test Case ID: ORC-09
func TestOrchestrator_ConcurrencyBound(t *testing.T) {
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%02d", i)
	}
	o := New(&staticEnumerator{tenants: tenants(ids...)}, Config{Concurrency: 4, TenantTimeout: time.Second})

	var inFlight, maxInFlight int32
	report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
		func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return insight.WorkResult{ItemsProduced: 1}, nil
		}))

	require.NoError(t, err)
	assert.Equal(t, 12, report.TotalItemsProduced)
	assert.Equal(t, int32(4), atomic.LoadInt32(&maxInFlight))
	assert.Equal(t, ids, outcomeIDs(report))
}

func TestOrchestrator_NegativeItemCountIsMalformed(t *testing.T) {
	o := New(&staticEnumerator{tenants: tenants("a")}, Config{})
	report, err := o.RunInsightGeneration(context.Background(), insight.UnitOfWorkFunc(
		func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
			return insight.WorkResult{ItemsProduced: -4}, nil
		}))

	require.NoError(t, err)
	assert.False(t, report.Outcomes[0].Succeeded)
	assert.Contains(t, report.Outcomes[0].ErrorMessage, "malformed")
	assert.Equal(t, 0, report.TotalItemsProduced)
}

func TestOrchestrator_FreshEnumerationPerRun(t *testing.T) {
	enum := &staticEnumerator{tenants: tenants("a")}
	o := New(enum, Config{})
	uow := insight.UnitOfWorkFunc(func(ctx context.Context, tn tenant.Tenant) (insight.WorkResult, error) {
		return insight.WorkResult{}, nil
	})

	first, err := o.RunInsightGeneration(context.Background(), uow)
	require.NoError(t, err)
	second, err := o.RunInsightGeneration(context.Background(), uow)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&enum.calls))
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, TriggerManual, first.Trigger)
}
