package atlas

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestApplySkipsWhenHCLMissing(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "atlas.hcl"))

	// No pool is needed: a missing config resolves to an empty migration set
	// before any connection is made.
	err := a.Apply(context.Background(), nil, zaptest.NewLogger(t))
	assert.NoError(t, err)
}

func TestApplyFailsOnMalformedHCL(t *testing.T) {
	dir := t.TempDir()
	hclPath := filepath.Join(dir, "atlas.hcl")
	writeFile(t, hclPath, `env "local" { migration {`)

	a := New(hclPath)
	err := a.Apply(context.Background(), nil, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "atlas applier initialization failed")
}

func TestApplySkipsWhenNoMigrationDirConfigured(t *testing.T) {
	dir := t.TempDir()
	hclPath := filepath.Join(dir, "atlas.hcl")
	writeFile(t, hclPath, `env "local" {}`)

	a := New(hclPath)
	err := a.Apply(context.Background(), nil, zaptest.NewLogger(t))
	assert.NoError(t, err)
}

func TestApplyFailsWhenMigrationDirMissing(t *testing.T) {
	dir := t.TempDir()
	hclPath := filepath.Join(dir, "atlas.hcl")
	writeFile(t, hclPath, `env "local" {
  migration {
    dir = "file://does-not-exist"
  }
}`)

	a := New(hclPath)
	err := a.Apply(context.Background(), nil, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "atlas applier initialization failed")
}

func TestInitErrorIsSticky(t *testing.T) {
	dir := t.TempDir()
	hclPath := filepath.Join(dir, "atlas.hcl")
	writeFile(t, hclPath, `not hcl at all = = =`)

	a := New(hclPath)
	first := a.Apply(context.Background(), nil, zaptest.NewLogger(t))
	second := a.Apply(context.Background(), nil, zaptest.NewLogger(t))
	require.Error(t, first)
	require.Error(t, second)
	assert.Equal(t, first.Error(), second.Error())
}

func TestFindMigrationDirPrefersLocalEnv(t *testing.T) {
	conf := &atlasConfigHCL{Envs: []*atlasEnvHCL{
		{Name: "ci", Migration: &atlasMigrationHCL{Dir: "file://ci-migrations"}},
		{Name: "local", Migration: &atlasMigrationHCL{Dir: "file://migrations"}},
	}}

	got, found := findMigrationDir(conf, "atlas.hcl", zaptest.NewLogger(t))
	require.True(t, found)
	assert.Equal(t, "file://migrations", got)
}

func TestFindMigrationDirFallsBackToFirstEnv(t *testing.T) {
	conf := &atlasConfigHCL{Envs: []*atlasEnvHCL{
		{Name: "ci", Migration: &atlasMigrationHCL{Dir: "file://ci-migrations"}},
	}}

	got, found := findMigrationDir(conf, "atlas.hcl", zaptest.NewLogger(t))
	require.True(t, found)
	assert.Equal(t, "file://ci-migrations", got)
}
