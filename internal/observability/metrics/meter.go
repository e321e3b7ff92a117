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

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// DefaultExportInterval is how often metrics are pushed to the collector
const DefaultExportInterval = 30 * time.Second

// Config holds metrics configuration
type Config struct {
	Enabled        bool
	ServiceVersion string
	ExportInterval time.Duration
	// Reader replaces the periodic OTLP reader when set
	Reader sdkmetric.Reader
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
}

// New creates a new meter instance. When enabled it installs an SDK meter
// provider as the global provider.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: noop.NewMeterProvider().Meter(serviceName),
		}, nil
	}

	reader := cfg.Reader
	if reader == nil {
		// Endpoint and headers come from the standard OTEL_EXPORTER_OTLP_* variables
		exporter, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = DefaultExportInterval
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	}

	res, err := resource.New(ctx, resource.WithFromEnv(), resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return &Meter{
		meter:    provider.Meter(serviceName),
		provider: provider,
	}, nil
}

// Shutdown flushes pending metrics and stops the provider
func (m *Meter) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// CreateUpDownCounter creates a new up/down counter metric
func (m *Meter) CreateUpDownCounter(name, description string) (metric.Int64UpDownCounter, error) {
	counter, err := m.meter.Int64UpDownCounter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create up/down counter %s: %w", name, err)
	}
	return counter, nil
}

// RunMetrics holds the instruments recorded by insight runs
type RunMetrics struct {
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
	tenantOutcomes metric.Int64Counter
	tenantDuration metric.Float64Histogram
	itemsProduced  metric.Int64Counter
	inFlight       metric.Int64UpDownCounter
}

// NewRunMetrics registers the insight run instruments on m
func (m *Meter) NewRunMetrics() (*RunMetrics, error) {
	var (
		rm  RunMetrics
		err error
	)
	if rm.runs, err = m.CreateCounter("insight_runs_total", "Insight generation runs by trigger and result"); err != nil {
		return nil, err
	}
	if rm.runDuration, err = m.CreateHistogram("insight_run_duration_seconds", "Wall time of insight generation runs", "s"); err != nil {
		return nil, err
	}
	if rm.tenantOutcomes, err = m.CreateCounter("insight_tenant_outcomes_total", "Per-tenant outcomes by result and failure kind"); err != nil {
		return nil, err
	}
	if rm.tenantDuration, err = m.CreateHistogram("insight_tenant_duration_seconds", "Per-tenant unit of work latency", "s"); err != nil {
		return nil, err
	}
	if rm.itemsProduced, err = m.CreateCounter("insight_items_produced_total", "Insights produced across all tenants"); err != nil {
		return nil, err
	}
	if rm.inFlight, err = m.CreateUpDownCounter("insight_tenants_in_flight", "Tenant units of work currently executing"); err != nil {
		return nil, err
	}
	return &rm, nil
}

// NoopRunMetrics returns instruments that record nothing
func NoopRunMetrics() *RunMetrics {
	m := &Meter{meter: noop.NewMeterProvider().Meter("noop")}
	rm, _ := m.NewRunMetrics()
	return rm
}

// RecordRun records a finished run; result is completed, partial or failed
func (rm *RunMetrics) RecordRun(ctx context.Context, trigger, result string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("result", result),
	)
	rm.runs.Add(ctx, 1, attrs)
	rm.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordTenant records one tenant outcome; kind is empty on success
func (rm *RunMetrics) RecordTenant(ctx context.Context, succeeded bool, kind string, items int, d time.Duration) {
	result := "success"
	if !succeeded {
		result = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("kind", kind),
	)
	rm.tenantOutcomes.Add(ctx, 1, attrs)
	rm.tenantDuration.Record(ctx, d.Seconds(), attrs)
	if items > 0 {
		rm.itemsProduced.Add(ctx, int64(items))
	}
}

// TenantStarted tracks a unit of work entering execution; call the returned func when it ends
func (rm *RunMetrics) TenantStarted(ctx context.Context) func() {
	rm.inFlight.Add(ctx, 1)
	return func() { rm.inFlight.Add(ctx, -1) }
}
