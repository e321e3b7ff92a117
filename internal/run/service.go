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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opentrusty/insightd/internal/audit"
	"github.com/opentrusty/insightd/internal/insight"
	"github.com/opentrusty/insightd/internal/notification"
	"github.com/opentrusty/insightd/internal/observability/logger"
	"github.com/opentrusty/insightd/internal/orchestrator"
	"github.com/opentrusty/insightd/internal/tenant"
	"github.com/opentrusty/insightd/internal/tenantlock"
)

// Domain errors
var (
	ErrRunInProgress  = errors.New("an insight run is already in progress")
	ErrReportNotFound = errors.New("run report not found")
)

// Store persists run reports
type Store interface {
	Save(ctx context.Context, report *orchestrator.RunReport) error
	Get(ctx context.Context, id string) (*orchestrator.RunReport, error)
	Latest(ctx context.Context) (*orchestrator.RunReport, error)
	List(ctx context.Context, limit int) ([]*orchestrator.RunReport, error)
}

// Runner executes one insight run
type Runner interface {
	RunInsightGeneration(ctx context.Context, uow insight.UnitOfWork, opts ...orchestrator.RunOption) (*orchestrator.RunReport, error)
}

// TenantResolver looks up a single tenant
type TenantResolver interface {
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
}

// Notifier surfaces run outcomes to dashboard viewers
type Notifier interface {
	Broadcast(in notification.Input) int
}

// Config holds run service configuration
type Config struct {
	// NotificationDuration auto-dismisses success and warning notices; errors stay until dismissed
	NotificationDuration time.Duration

	// RetryTimeout bounds retries started from a notification action
	RetryTimeout time.Duration
}

// Service is the single entry point for scheduled and manual runs and for
// per-tenant retries. It owns the per-tenant lock both paths share.
type Service struct {
	runner      Runner
	uow         insight.UnitOfWork
	retrier     insight.Retrier
	tenants     TenantResolver
	locker      *tenantlock.Locker
	store       Store
	notifier    Notifier
	auditLogger audit.Logger
	cfg         Config

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewService creates a new run service
func NewService(
	runner Runner,
	uow insight.UnitOfWork,
	retrier insight.Retrier,
	tenants TenantResolver,
	locker *tenantlock.Locker,
	store Store,
	notifier Notifier,
	auditLogger audit.Logger,
	cfg Config,
) *Service {
	if locker == nil {
		locker = tenantlock.New()
	}
	return &Service{
		runner:      runner,
		uow:         uow,
		retrier:     retrier,
		tenants:     tenants,
		locker:      locker,
		store:       store,
		notifier:    notifier,
		auditLogger: auditLogger,
		cfg:         cfg,
	}
}

// Trigger runs insight generation for every tenant and waits for the report.
// Schedule and manual triggers behave identically apart from the trigger
// recorded on the report. Only one run executes at a time; a concurrent call
// returns ErrRunInProgress.
func (s *Service) Trigger(ctx context.Context, trigger, actor string, opts ...orchestrator.RunOption) (*orchestrator.RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.execute(ctx, trigger, actor, opts...)
}

// Start begins a run in the background and returns its report ID. ctx bounds
// the run, so it must outlive the caller's request.
func (s *Service) Start(ctx context.Context, trigger, actor string, opts ...orchestrator.RunOption) (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}

	id, err := uuid.NewV7()
	if err != nil {
		s.running.Store(false)
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}
	opts = append(opts, orchestrator.WithRunID(id.String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		// failures are logged, audited and announced by execute
		_, _ = s.execute(ctx, trigger, actor, opts...)
	}()
	return id.String(), nil
}

// Wait blocks until runs started with Start, and retries started from
// their notifications, have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) execute(ctx context.Context, trigger, actor string, opts ...orchestrator.RunOption) (*orchestrator.RunReport, error) {
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRunStarted,
		ActorID:  actor,
		Resource: "insight_run",
		Metadata: map[string]any{"trigger": trigger},
	})

	opts = append([]orchestrator.RunOption{orchestrator.WithTrigger(trigger)}, opts...)
	report, err := s.runner.RunInsightGeneration(ctx, &lockedUnitOfWork{uow: s.uow, locker: s.locker}, opts...)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeRunFailed,
			ActorID:  actor,
			Resource: "insight_run",
			Metadata: map[string]any{"trigger": trigger, "error": err.Error()},
		})
		s.notify(notification.Input{
			Severity: notification.SeverityError,
			Title:    "Insight run failed",
			Message:  err.Error(),
		})
		return nil, err
	}

	if err := s.store.Save(ctx, report); err != nil {
		// the run itself succeeded; history is best effort
		slog.ErrorContext(ctx, "failed to save run report",
			logger.Component("run"),
			logger.RunID(report.ID),
			logger.Error(err),
		)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRunCompleted,
		ActorID:  actor,
		Resource: "insight_run",
		Metadata: map[string]any{
			"run_id":               report.ID,
			"trigger":              report.Trigger,
			"tenants_processed":    report.TenantsProcessed,
			"tenants_succeeded":    report.TenantsSucceeded,
			"total_items_produced": report.TotalItemsProduced,
		},
	})
	s.notify(s.summarize(ctx, report))

	return report, nil
}

// Running reports whether a run is in progress
func (s *Service) Running() bool {
	return s.running.Load()
}

// RetryFailed asks the insight service to retry failed items for one tenant.
// It waits for the tenant lock so it never overlaps that tenant's run.
func (s *Service) RetryFailed(ctx context.Context, tenantID, actor string) (insight.RetryResult, error) {
	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return insight.RetryResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, t.ID)
	if err != nil {
		return insight.RetryResult{}, err
	}
	defer unlock()

	res, err := s.retrier.RetryFailed(ctx, t.ID)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeRetryFailed,
			TenantID: t.ID,
			ActorID:  actor,
			Resource: "insight_items",
			Metadata: map[string]any{"error": err.Error()},
		})
		s.notify(notification.Input{
			Severity: notification.SeverityError,
			Title:    "Retry failed",
			Message:  fmt.Sprintf("%s: %v", t.Name, err),
		})
		return insight.RetryResult{}, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRetryCompleted,
		TenantID: t.ID,
		ActorID:  actor,
		Resource: "insight_items",
		Metadata: map[string]any{"retried": res.Retried, "succeeded": res.Succeeded},
	})

	sev := notification.SeveritySuccess
	if res.Succeeded < res.Retried {
		sev = notification.SeverityWarning
	}
	s.notify(notification.Input{
		Severity: sev,
		Title:    "Retry finished",
		Message:  fmt.Sprintf("%s: %d of %d failed items succeeded", t.Name, res.Succeeded, res.Retried),
		Duration: s.cfg.NotificationDuration,
	})
	return res, nil
}

// Latest returns the most recent stored report
func (s *Service) Latest(ctx context.Context) (*orchestrator.RunReport, error) {
	return s.store.Latest(ctx)
}

// Get returns a stored report by ID
func (s *Service) Get(ctx context.Context, id string) (*orchestrator.RunReport, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit stored reports, newest first
func (s *Service) List(ctx context.Context, limit int) ([]*orchestrator.RunReport, error) {
	return s.store.List(ctx, limit)
}

func (s *Service) notify(in notification.Input) {
	if s.notifier != nil {
		s.notifier.Broadcast(in)
	}
}

// summarize turns a report into the notification shown to viewers.
// Partial runs carry an action that retries the failed tenants under the
// run's context; Wait covers those retries.
func (s *Service) summarize(ctx context.Context, r *orchestrator.RunReport) notification.Input {
	if r.TenantsFailed() == 0 {
		return notification.Input{
			Severity: notification.SeveritySuccess,
			Title:    "Insight run completed",
			Message:  fmt.Sprintf("Generated %d insights for %d organizations", r.TotalItemsProduced, r.TenantsProcessed),
			Duration: s.cfg.NotificationDuration,
		}
	}

	failed := r.FailedOutcomes()
	ids := make([]string, len(failed))
	for i, o := range failed {
		ids[i] = o.Tenant.ID
	}
	return notification.Input{
		Severity: notification.SeverityWarning,
		Title:    "Insight run completed with failures",
		Message: fmt.Sprintf("%d of %d organizations failed; generated %d insights",
			r.TenantsFailed(), r.TenantsProcessed, r.TotalItemsProduced),
		Action: &notification.Action{
			Label:   "Retry failed organizations",
			Handler: func() {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.retryAll(ctx, ids)
				}()
			},
		},
	}
}

// retryAll retries each tenant in turn; results surface as notifications
func (s *Service) retryAll(parent context.Context, tenantIDs []string) {
	timeout := s.cfg.RetryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	for _, id := range tenantIDs {
		if ctx.Err() != nil {
			slog.WarnContext(ctx, "retry from notification stopped",
				logger.Component("run"),
				logger.TenantID(id),
				logger.Error(ctx.Err()),
			)
			return
		}
		if _, err := s.RetryFailed(ctx, id, "notification"); err != nil {
			slog.WarnContext(ctx, "retry from notification failed",
				logger.Component("run"),
				logger.TenantID(id),
				logger.Error(err),
			)
		}
	}
}

// lockedUnitOfWork holds the tenant lock for the duration of each call
type lockedUnitOfWork struct {
	uow    insight.UnitOfWork
	locker *tenantlock.Locker
}

func (l *lockedUnitOfWork) Generate(ctx context.Context, t tenant.Tenant) (insight.WorkResult, error) {
	unlock, err := l.locker.Lock(ctx, t.ID)
	if err != nil {
		return insight.WorkResult{}, err
	}
	defer unlock()
	return l.uow.Generate(ctx, t)
}
