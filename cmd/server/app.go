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
	"log/slog"

	"github.com/opentrusty/insightd/internal/audit"
	"github.com/opentrusty/insightd/internal/config"
	"github.com/opentrusty/insightd/internal/insight"
	"github.com/opentrusty/insightd/internal/observability/logger"
	"github.com/opentrusty/insightd/internal/observability/metrics"
	"github.com/opentrusty/insightd/internal/observability/tracing"
	"github.com/opentrusty/insightd/internal/orchestrator"
	"github.com/opentrusty/insightd/internal/run"
	"github.com/opentrusty/insightd/internal/session"
	"github.com/opentrusty/insightd/internal/store/postgres"
	"github.com/opentrusty/insightd/internal/tenant"
	"github.com/opentrusty/insightd/internal/tenantlock"
)

// app holds the wired services shared by serve and run-once
type app struct {
	db       *postgres.DB
	tracer   *tracing.Tracer
	meter    *metrics.Meter
	sessions *session.Registry
	runs     *run.Service
	audit    audit.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer, tracing disabled", logger.Error(err))
		tracer, _ = tracing.New(ctx, tracing.Config{ServiceName: cfg.Observability.ServiceName})
	}

	meter, err := metrics.New(ctx, metrics.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, cfg.Observability.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize meter: %w", err)
	}
	runMetrics, err := meter.NewRunMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create run metrics: %w", err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database")

	client, err := insight.NewClient(insight.ClientConfig{
		BaseURL:  cfg.Insights.BaseURL,
		APIToken: cfg.Insights.APIToken,
		Timeout:  cfg.Insights.RequestTimeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create insight client: %w", err)
	}

	directory := tenant.NewDirectory(postgres.NewTenantRepository(db), cfg.Orchestrator.TenantPageSize)
	orch := orchestrator.New(directory, orchestrator.Config{
		Concurrency:   cfg.Orchestrator.Concurrency,
		TenantTimeout: cfg.Orchestrator.TenantTimeout,
		RunDeadline:   cfg.Orchestrator.RunDeadline,
	},
		orchestrator.WithTracer(tracer.GetTracer()),
		orchestrator.WithMetrics(runMetrics),
	)

	auditLogger := audit.NewSlogLogger()
	sessions := session.NewRegistry()
	runs := run.NewService(
		orch,
		client,
		client,
		directory,
		tenantlock.New(),
		postgres.NewRunRepository(db),
		sessions,
		auditLogger,
		run.Config{
			NotificationDuration: cfg.Notifications.DefaultDuration,
			RetryTimeout:         cfg.Notifications.RetryTimeout,
		},
	)

	return &app{
		db:       db,
		tracer:   tracer,
		meter:    meter,
		sessions: sessions,
		runs:     runs,
		audit:    auditLogger,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.tracer.Shutdown(ctx); err != nil {
		slog.Error("tracer shutdown error", logger.Error(err))
	}
	if err := a.meter.Shutdown(ctx); err != nil {
		slog.Error("meter shutdown error", logger.Error(err))
	}
	a.db.Close()
}

func openDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}
