package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The hub's asynchronous paths (the event log writer, snapshot
// rotation, idle project eviction) settle within milliseconds, so the
// shared polling window stays short.
const (
	waitTimeout = 5 * time.Second
	waitTick    = 20 * time.Millisecond
)

// AssertEventually wraps assert.Eventually with the shared timeout
// and polling interval.
func AssertEventually(t *testing.T, condition func() bool, msgAndArgs ...interface{}) bool {
	t.Helper()
	return assert.Eventually(t, condition, waitTimeout, waitTick, msgAndArgs...)
}

// RequireEventually wraps require.Eventually with the shared timeout
// and polling interval.
func RequireEventually(t *testing.T, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, condition, waitTimeout, waitTick, msgAndArgs...)
}

// WaitForFile polls until path exists. Snapshot and archive files are
// written by background goroutines, so tests wait for them instead of
// sleeping.
func WaitForFile(t *testing.T, path string) {
	t.Helper()
	RequireEventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, "file %s never appeared", path)
}
