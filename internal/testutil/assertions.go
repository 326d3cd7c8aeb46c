package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
)

// AssertFileExists asserts that a file exists at the given path.
func AssertFileExists(t testing.TB, path string) {
	t.Helper()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		assert.Fail(t, "file does not exist", "expected file to exist: %s", path)
		return
	}
	require.NoError(t, err)
	assert.False(t, info.IsDir(), "expected file but got directory: %s", path)
}

// AssertFileContains asserts that a file contains the expected substring.
func AssertFileContains(t testing.TB, path, expected string, msgAndArgs ...interface{}) {
	t.Helper()

	content, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read file: %s", path)

	assert.Contains(t, string(content), expected, msgAndArgs...)
}

// AssertErrorContains asserts that err contains the expected message.
func AssertErrorContains(t testing.TB, err error, expected string, msgAndArgs ...interface{}) {
	t.Helper()

	require.Error(t, err)
	assert.Contains(t, err.Error(), expected, msgAndArgs...)
}

// AssertPluginStatus asserts the status the manager reports for id.
func AssertPluginStatus(t testing.TB, m *plugin.Manager, id string, want plugin.Status) {
	t.Helper()

	info, err := m.GetPluginInfo(id)
	require.NoError(t, err)
	assert.Equal(t, want, info.Status, "plugin %s: %s", id, info.Error)
}

// AssertEventually asserts that a condition becomes true within waitFor.
func AssertEventually(t testing.TB, condition func() bool, waitFor time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Eventually(t, condition, waitFor, 10*time.Millisecond, msgAndArgs...)
}
