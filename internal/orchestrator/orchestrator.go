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

// Package orchestrator fans insight generation out over every tenant.
//
// Each tenant's unit of work runs in isolation: a failure, timeout or panic
// becomes a failed Outcome for that tenant and the run continues. Only a
// tenant enumeration failure aborts a run, and then no report is produced.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opentrusty/insightd/internal/insight"
	"github.com/opentrusty/insightd/internal/observability/logger"
	"github.com/opentrusty/insightd/internal/observability/metrics"
	"github.com/opentrusty/insightd/internal/tenant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// Causes recorded for tenants that never started
var (
	ErrRunDeadlineExceeded = errors.New("run deadline exceeded")
	ErrRunCancelled        = errors.New("run cancelled")
)

// DefaultTenantTimeout bounds a unit of work when Config.TenantTimeout is unset
const DefaultTenantTimeout = 60 * time.Second

// Config holds orchestrator configuration
type Config struct {
	// Concurrency is the number of tenants processed at once; 1 is sequential
	Concurrency int
	// TenantTimeout bounds each unit of work
	TenantTimeout time.Duration
	// RunDeadline optionally caps the run; zero means no cap
	RunDeadline time.Duration
}

// Orchestrator runs a unit of work once per enumerated tenant
type Orchestrator struct {
	tenants tenant.Enumerator
	cfg     Config
	tracer  trace.Tracer
	metrics *metrics.RunMetrics
	now     func() time.Time
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithTracer sets the tracer used for run and tenant spans
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMetrics sets the run instruments
func WithMetrics(m *metrics.RunMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates a new orchestrator
func New(tenants tenant.Enumerator, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TenantTimeout <= 0 {
		cfg.TenantTimeout = DefaultTenantTimeout
	}
	if cfg.RunDeadline < 0 {
		cfg.RunDeadline = 0
	}

	o := &Orchestrator{
		tenants: tenants,
		cfg:     cfg,
		tracer:  noop.NewTracerProvider().Tracer("orchestrator"),
		metrics: metrics.NoopRunMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunOptions identify a run
type RunOptions struct {
	ID      string
	Trigger string
	// RunDeadline caps the run; it defaults to Config.RunDeadline
	RunDeadline time.Duration
}

// RunOption customizes a single run
type RunOption func(*RunOptions)

// WithRunID sets the report ID instead of generating one
func WithRunID(id string) RunOption {
	return func(r *RunOptions) { r.ID = id }
}

// WithTrigger records what started the run
func WithTrigger(trigger string) RunOption {
	return func(r *RunOptions) { r.Trigger = trigger }
}

// WithRunDeadline caps this run instead of the configured deadline
func WithRunDeadline(d time.Duration) RunOption {
	return func(r *RunOptions) { r.RunDeadline = d }
}

type indexedOutcome struct {
	index   int
	outcome Outcome
}

// RunInsightGeneration executes uow for every tenant and returns the run report.
// The only error it returns is a tenant.EnumerationError, in which case the report is nil.
func (o *Orchestrator) RunInsightGeneration(ctx context.Context, uow insight.UnitOfWork, opts ...RunOption) (*RunReport, error) {
	ro := RunOptions{Trigger: TriggerManual, RunDeadline: o.cfg.RunDeadline}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.ID == "" {
		ro.ID = newRunID()
	}

	startedAt := o.now()

	ctx, span := o.tracer.Start(ctx, "insight.run", trace.WithAttributes(
		attribute.String("run.id", ro.ID),
		attribute.String("run.trigger", ro.Trigger),
	))
	defer span.End()

	log := slog.Default().With(logger.Component("orchestrator"), logger.RunID(ro.ID), logger.Trigger(ro.Trigger))

	tenants, err := o.tenants.ListTenants(ctx)
	if err != nil {
		var enumErr *tenant.EnumerationError
		if !errors.As(err, &enumErr) {
			err = &tenant.EnumerationError{Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant enumeration failed")
		log.ErrorContext(ctx, "insight run aborted", logger.Error(err))
		o.metrics.RecordRun(ctx, ro.Trigger, "failed", o.now().Sub(startedAt))
		return nil, err
	}

	span.SetAttributes(attribute.Int("run.tenants", len(tenants)))
	log.InfoContext(ctx, "insight run started", logger.TenantCount(len(tenants)))

	outcomes := o.fanOut(ctx, uow, tenants, ro.RunDeadline)

	report := NewRunReport(ro.ID, ro.Trigger, outcomes, startedAt, o.now())

	span.SetAttributes(
		attribute.Int("run.tenants_succeeded", report.TenantsSucceeded),
		attribute.Int("run.items_produced", report.TotalItemsProduced),
	)
	o.metrics.RecordRun(ctx, ro.Trigger, report.Result(), report.Duration())
	log.InfoContext(ctx, "insight run finished",
		slog.Int("tenants_processed", report.TenantsProcessed),
		slog.Int("tenants_succeeded", report.TenantsSucceeded),
		slog.Int("total_items_produced", report.TotalItemsProduced),
		logger.Duration(report.Duration().Milliseconds()),
	)

	return report, nil
}

// fanOut runs every tenant on a bounded errgroup. Workers send results to a
// single collector that places each outcome at its enumeration index, so the
// returned order never depends on completion order.
func (o *Orchestrator) fanOut(ctx context.Context, uow insight.UnitOfWork, tenants []tenant.Tenant, deadline time.Duration) []Outcome {
	runCtx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	results := make(chan indexedOutcome)

	go func() {
		var g errgroup.Group
		g.SetLimit(o.cfg.Concurrency)
		for i, t := range tenants {
			g.Go(func() error {
				if err := runCtx.Err(); err != nil {
					results <- indexedOutcome{index: i, outcome: o.notStarted(ctx, t)}
					return nil
				}
				// In-flight work is bounded by the tenant timeout, not the run deadline
				results <- indexedOutcome{index: i, outcome: o.execute(ctx, uow, t)}
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, len(tenants))
	for r := range results {
		outcomes[r.index] = r.outcome
	}
	return outcomes
}

// notStarted records a tenant skipped because the run deadline passed or the run was cancelled
func (o *Orchestrator) notStarted(ctx context.Context, t tenant.Tenant) Outcome {
	cause := ErrRunDeadlineExceeded
	if ctx.Err() != nil {
		cause = ErrRunCancelled
	}

	slog.WarnContext(ctx, "tenant skipped",
		logger.Component("orchestrator"),
		logger.TenantID(t.ID),
		logger.Error(cause),
	)
	o.metrics.RecordTenant(ctx, false, "not_started", 0, 0)

	return Outcome{
		Tenant:        t,
		Succeeded:     false,
		ItemsProduced: 0,
		ErrorMessage:  cause.Error(),
	}
}

type workResponse struct {
	result insight.WorkResult
	err    error
}

// execute runs uow for one tenant under its own timeout and converts every
// failure, including panics and calls that ignore cancellation, into data.
func (o *Orchestrator) execute(ctx context.Context, uow insight.UnitOfWork, t tenant.Tenant) Outcome {
	start := o.now()

	tctx, cancel := context.WithTimeout(ctx, o.cfg.TenantTimeout)
	defer cancel()

	tctx, span := o.tracer.Start(tctx, "insight.tenant", trace.WithAttributes(
		attribute.String("tenant.id", t.ID),
	))
	defer span.End()

	done := o.metrics.TenantStarted(tctx)
	defer done()

	respCh := make(chan workResponse, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				respCh <- workResponse{err: fmt.Errorf("unit of work panicked: %v", rec)}
			}
		}()
		res, err := uow.Generate(tctx, t)
		respCh <- workResponse{result: res, err: err}
	}()

	var resp workResponse
	select {
	case resp = <-respCh:
	case <-tctx.Done():
		resp = workResponse{err: tctx.Err()}
	}

	if resp.err == nil && resp.result.ItemsProduced < 0 {
		resp.err = &insight.UnitOfWorkError{
			Kind: insight.KindMalformed,
			Err:  fmt.Errorf("negative item count %d", resp.result.ItemsProduced),
		}
	}

	elapsed := o.now().Sub(start)

	if resp.err != nil {
		message, kind := o.describeFailure(ctx, resp.err)
		span.RecordError(resp.err)
		span.SetStatus(codes.Error, message)
		o.metrics.RecordTenant(ctx, false, kind, 0, elapsed)
		slog.WarnContext(tctx, "tenant insight generation failed",
			logger.Component("orchestrator"),
			logger.TenantID(t.ID),
			logger.ErrorType(kind),
			logger.Error(resp.err),
			logger.Duration(elapsed.Milliseconds()),
		)
		return Outcome{
			Tenant:        t,
			Succeeded:     false,
			ItemsProduced: 0,
			ErrorMessage:  message,
			Duration:      elapsed,
		}
	}

	span.SetAttributes(attribute.Int("tenant.items_produced", resp.result.ItemsProduced))
	o.metrics.RecordTenant(ctx, true, "", resp.result.ItemsProduced, elapsed)
	slog.DebugContext(tctx, "tenant insight generation succeeded",
		logger.Component("orchestrator"),
		logger.TenantID(t.ID),
		logger.ItemsProduced(resp.result.ItemsProduced),
		logger.Duration(elapsed.Milliseconds()),
	)
	return Outcome{
		Tenant:        t,
		Succeeded:     true,
		ItemsProduced: resp.result.ItemsProduced,
		Duration:      elapsed,
	}
}

// describeFailure returns the outcome message and failure kind for err.
// ctx is the run context: a cancelled run is reported as such rather than as a timeout.
func (o *Orchestrator) describeFailure(ctx context.Context, err error) (string, string) {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ErrRunCancelled.Error(), "cancelled"
	}
	uowErr := insight.Classify(err)
	if uowErr.Kind == insight.KindTimeout {
		return "timeout", string(insight.KindTimeout)
	}
	var typed *insight.UnitOfWorkError
	if errors.As(err, &typed) {
		return typed.Error(), string(typed.Kind)
	}
	return err.Error(), string(uowErr.Kind)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
