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

// Package scheduler fires insight runs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opentrusty/insightd/internal/audit"
	"github.com/opentrusty/insightd/internal/observability/logger"
	"github.com/opentrusty/insightd/internal/orchestrator"
	"github.com/opentrusty/insightd/internal/run"
)

// Runner starts an insight run
type Runner interface {
	Trigger(ctx context.Context, trigger, actor string, opts ...orchestrator.RunOption) (*orchestrator.RunReport, error)
}

// EntryInfo describes a registered schedule
type EntryInfo struct {
	Name string    `json:"name"`
	Cron string    `json:"cron"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Scheduler fires runs on cron schedules
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	schedules []Schedule
	ids       []cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// New registers every schedule. Runs fired by the scheduler share a context
// that is cancelled when Stop gives up waiting.
func New(runner Runner, schedules []Schedule, auditLogger audit.Logger, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}

	l := cronLogger{log: slog.Default().With(logger.Component("scheduler"))}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   c,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}

	for _, sch := range schedules {
		if err := sch.Validate(); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %q: %w", sch.Name, err)
		}
		id, err := c.AddFunc(sch.Cron, func() { s.fire(sch) })
		if err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %q: %w", sch.Name, err)
		}
		s.schedules = append(s.schedules, sch)
		s.ids = append(s.ids, id)

		auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeScheduleRegistered,
			ActorID:  "system",
			Resource: "schedule",
			Metadata: map[string]any{"name": sch.Name, "cron": sch.Cron, "run_deadline": sch.RunDeadline},
		})
	}

	return s, nil
}

// Start begins firing schedules in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.Entries() {
		slog.Info("schedule active",
			logger.Component("scheduler"),
			logger.Schedule(e.Name),
			slog.Time("next", e.Next),
		)
	}
}

// Stop stops firing and waits for a running job. If ctx ends first the
// running job's context is cancelled and ctx.Err() is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// Entries returns the registered schedules in registration order
func (s *Scheduler) Entries() []EntryInfo {
	out := make([]EntryInfo, len(s.schedules))
	for i, sch := range s.schedules {
		e := s.cron.Entry(s.ids[i])
		out[i] = EntryInfo{Name: sch.Name, Cron: sch.Cron, Next: e.Next, Prev: e.Prev}
	}
	return out
}

func (s *Scheduler) fire(sch Schedule) {
	var opts []orchestrator.RunOption
	if d := sch.Deadline(); d > 0 {
		opts = append(opts, orchestrator.WithRunDeadline(d))
	}

	log := slog.Default().With(logger.Component("scheduler"), logger.Schedule(sch.Name))
	report, err := s.runner.Trigger(s.ctx, orchestrator.TriggerSchedule, "scheduler:"+sch.Name, opts...)
	switch {
	case errors.Is(err, run.ErrRunInProgress):
		log.WarnContext(s.ctx, "scheduled run skipped: a run is already in progress")
	case err != nil:
		log.ErrorContext(s.ctx, "scheduled run failed", logger.Error(err))
	default:
		log.InfoContext(s.ctx, "scheduled run finished",
			logger.RunID(report.ID),
			slog.String("result", report.Result()),
		)
	}
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{logger.Error(err)}, keysAndValues...)...)
}
