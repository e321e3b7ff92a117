package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 2 * * *", false},
		{"0 12 * * 1-5", false},
		{"*/15 * * * *", false},
		{"0 0 2 * * *", true},
		{"invalid", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		assert.Equal(t, tt.wantErr, err != nil, "ParseCron(%q): %v", tt.expr, err)
	}
}

func TestSchedule_Validate(t *testing.T) {
	s := Schedule{Name: "nightly", Cron: "0 2 * * *", RunDeadline: "45m"}
	require.NoError(t, s.Validate())
	assert.Equal(t, 45*time.Minute, s.Deadline())

	for _, bad := range []Schedule{
		{Cron: "0 2 * * *"},
		{Name: "x"},
		{Name: "x", Cron: "bogus"},
		{Name: "x", Cron: "0 2 * * *", RunDeadline: "soon"},
		{Name: "x", Cron: "0 2 * * *", RunDeadline: "-1m"},
	} {
		assert.Error(t, bad.Validate(), "%+v", bad)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedules.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestPurpose: Validates schedule file loading.
// Scope: Unit Test
// Expected: Every [[schedule]] table is parsed and validated in file order.
// Test Case ID: SCH-01
func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
[[schedule]]
name = "nightly"
cron = "0 2 * * *"
run_deadline = "2h"

[[schedule]]
name = "midday"
cron = "0 12 * * 1-5"
`)

	f, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, f.Schedules, 2)
	assert.Equal(t, "nightly", f.Schedules[0].Name)
	assert.Equal(t, 2*time.Hour, f.Schedules[0].Deadline())
	assert.Equal(t, "midday", f.Schedules[1].Name)
	assert.Zero(t, f.Schedules[1].Deadline())
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(writeFile(t, `[[schedule]]
name = "a"
cron = "not a cron"
`))
	assert.ErrorContains(t, err, "schedule 0")

	_, err = LoadFile(writeFile(t, `[[schedule]]
name = "a"
cron = "0 2 * * *"

[[schedule]]
name = "a"
cron = "0 3 * * *"
`))
	assert.ErrorContains(t, err, "duplicate name")

	_, err = LoadFile(writeFile(t, `[[schedule]`))
	assert.ErrorContains(t, err, "parse schedule file")
}

// TestPurpose: Validates the fallback schedule when no file defines one.
// Scope: Unit Test
// Expected: A single "default" schedule using the fallback cron expression.
// Test Case ID: SCH-02
func TestResolve_Fallback(t *testing.T) {
	got, err := Resolve(filepath.Join(t.TempDir(), "missing.toml"), "30 3 * * *")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "default", got[0].Name)
	assert.Equal(t, "30 3 * * *", got[0].Cron)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultCron, got[0].Cron)

	_, err = Resolve("", "every day")
	assert.Error(t, err)
}
