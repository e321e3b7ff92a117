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

package scheduler

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// DefaultCron runs once a day at 02:00
const DefaultCron = "0 2 * * *"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Schedule is one named cron trigger
type Schedule struct {
	Name        string `toml:"name"`
	Cron        string `toml:"cron"`
	RunDeadline string `toml:"run_deadline"`

	deadline time.Duration
}

// Validate checks the schedule and parses its run deadline
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if s.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(s.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.deadline = 0
	if s.RunDeadline != "" {
		d, err := time.ParseDuration(s.RunDeadline)
		if err != nil {
			return fmt.Errorf("invalid run_deadline: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("run_deadline must not be negative")
		}
		s.deadline = d
	}
	return nil
}

// Deadline returns the parsed run deadline; zero defers to the orchestrator default
func (s Schedule) Deadline() time.Duration {
	return s.deadline
}

// File is the TOML schedule file
type File struct {
	Schedules []Schedule `toml:"schedule"`
}

// LoadFile reads and validates a schedule file. A missing file yields no schedules.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{}, nil
		}
		return nil, err
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schedule file: %w", err)
	}

	seen := make(map[string]bool, len(f.Schedules))
	for i := range f.Schedules {
		if err := f.Schedules[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if seen[f.Schedules[i].Name] {
			return nil, fmt.Errorf("schedule %d: duplicate name %q", i, f.Schedules[i].Name)
		}
		seen[f.Schedules[i].Name] = true
	}

	return &f, nil
}

// Resolve returns the schedules from path, or a single "default" schedule
// using fallbackCron when the file defines none
func Resolve(path, fallbackCron string) ([]Schedule, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if len(f.Schedules) > 0 {
		return f.Schedules, nil
	}

	if fallbackCron == "" {
		fallbackCron = DefaultCron
	}
	def := Schedule{Name: "default", Cron: fallbackCron}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return []Schedule{def}, nil
}
