package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/insightd/internal/tenant"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSeedFile(t *testing.T) {
	got, err := loadSeedFile(writeSeed(t, `
[[tenant]]
id = "acme"
name = "Acme Corp"

[[tenant]]
id = "globex"
name = "Globex"
status = "inactive"
`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, tenant.StatusActive, got[0].Status)
	assert.Equal(t, tenant.StatusInactive, got[1].Status)
	assert.True(t, got[0].CreatedAt.Before(got[1].CreatedAt), "file order becomes enumeration order")
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	_, err := loadSeedFile(writeSeed(t, `[[tenant]]
name = "no id"
`))
	assert.ErrorContains(t, err, "id and name are required")

	_, err = loadSeedFile(writeSeed(t, `[[tenant]]
id = "x"
name = "x"
status = "paused"
`))
	assert.ErrorContains(t, err, "unknown status")

	_, err = loadSeedFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
