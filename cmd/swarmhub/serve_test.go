package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunServeUsageErrorsExitConfig(t *testing.T) {
	assert.Equal(t, exitConfig, runServe([]string{"--no-such-flag"}))
	assert.Equal(t, exitConfig, runServe([]string{"--log-level", "shouty"}))
}

func TestRunServeMissingConfigFileExitsConfig(t *testing.T) {
	assert.Equal(t, exitConfig, runServe([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}))
}

func TestRunServeInvalidConfigExitsConfig(t *testing.T) {
	t.Setenv("AUTH_TOKEN", "")
	assert.Equal(t, exitConfig, runServe(nil), "a missing auth token is invalid configuration")
}

func TestRunServeUnusableDataDirExitsData(t *testing.T) {
	t.Setenv("AUTH_TOKEN", "secret")

	// data_dir resolves under a regular file, so mkdir must fail.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data_dir: "+filepath.Join(blocker, "nested")+"\n"), 0o600))

	assert.Equal(t, exitData, runServe([]string{"--config", cfgPath}))
}
