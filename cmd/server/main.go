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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/insightd/internal/config"
	"github.com/opentrusty/insightd/internal/observability/logger"
	"github.com/opentrusty/insightd/internal/orchestrator"
	"github.com/opentrusty/insightd/internal/scheduler"
	"github.com/opentrusty/insightd/internal/store/postgres"
	transportHTTP "github.com/opentrusty/insightd/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTelEnabled: cfg.Observability.OTELEnabled,
	})

	// Phase: CLI Commands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			if err := runMigrate(cfg); err != nil {
				fmt.Printf("Migration failed: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		case "seed":
			if len(os.Args) < 3 {
				fmt.Println("usage: insightd seed <tenants.toml>")
				os.Exit(2)
			}
			if err := runSeed(cfg, os.Args[2]); err != nil {
				fmt.Printf("Seed failed: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		case "run-once":
			os.Exit(runOnce(cfg))
		case "serve":
		default:
			fmt.Printf("unknown command %q (want serve, migrate, seed or run-once)\n", os.Args[1])
			os.Exit(2)
		}
	}

	if err := serve(cfg); err != nil {
		slog.Error("server error", logger.Error(err))
		os.Exit(1)
	}
}

func serve(cfg *config.Config) error {
	slog.Info("starting insightd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	// runs outlive individual requests but end on shutdown
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	var sched *scheduler.Scheduler
	var schedules transportHTTP.ScheduleLister
	if cfg.Scheduler.Enabled {
		entries, err := scheduler.Resolve(cfg.Scheduler.File, cfg.Scheduler.Cron)
		if err != nil {
			return fmt.Errorf("failed to load schedules: %w", err)
		}
		sched, err = scheduler.New(a.runs, entries, a.audit, cfg.Scheduler.Location())
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		sched.Start()
		schedules = sched
	} else {
		slog.Info("scheduler disabled", logger.Component("scheduler"))
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		runCtx,
		a.runs,
		a.sessions,
		schedules,
		a.db,
		transportHTTP.Config{
			APIToken:          cfg.Security.APIToken,
			SessionCookieName: cfg.Session.CookieName,
			RequestTimeout:    cfg.Insights.RequestTimeout + 5*time.Second,
		},
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session cleanup goroutine
	go func() {
		ticker := time.NewTicker(cfg.Session.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.sessions.CleanupIdle(cfg.Session.IdleTimeout); n > 0 {
					slog.Info("ended idle sessions", logger.Component("session"), slog.Int("count", n))
				}
			}
		}
	}()

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return err
	}

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			slog.Warn("scheduled run cancelled at shutdown", logger.Error(err))
		}
	}

	// Give manual runs until the shutdown deadline, then cancel what is left
	waited := make(chan struct{})
	go func() {
		a.runs.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-shutdownCtx.Done():
		slog.Warn("cancelling in-flight run at shutdown")
		cancelRuns()
		<-waited
	}

	a.sessions.CleanupIdle(0)
	a.close(context.Background())

	slog.Info("server stopped")
	return nil
}

// runOnce executes a single manual run and prints its report. The exit code
// is 0 when every tenant succeeded, 3 for a partial run and 1 on failure.
func runOnce(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", logger.Error(err))
		return 1
	}
	defer a.close(context.Background())

	report, err := a.runs.Trigger(ctx, orchestrator.TriggerManual, "cli")
	if err != nil {
		slog.Error("insight run failed", logger.Error(err))
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Error("failed to write report", logger.Error(err))
		return 1
	}

	if report.TenantsFailed() > 0 {
		return 3
	}
	return 0
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
