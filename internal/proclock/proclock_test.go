package proclock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "driftbot.lock")
}

func TestAcquire_CreatesLockFile(t *testing.T) {
	path := lockPath(t)

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var info lockInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.False(t, info.AcquiredAt.IsZero())
}

func TestAcquire_ContestedByLiveProcess(t *testing.T) {
	path := lockPath(t)

	// The test's own pid is as live as it gets.
	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	_, err = Acquire(path)
	assert.ErrorIs(t, err, ErrContested)
}

func TestAcquire_ReclaimsStaleLock(t *testing.T) {
	path := lockPath(t)

	stale, err := json.Marshal(lockInfo{
		PID:        1 << 22, // beyond any plausible pid
		AcquiredAt: time.Now().Add(-time.Hour),
		Hostname:   "gone",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, stale, 0o644))

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var info lockInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestAcquire_ReclaimsUnreadableLock(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	lock, err := Acquire(path)
	require.NoError(t, err)
	lock.Release()
}

func TestRelease_RemovesFile(t *testing.T) {
	path := lockPath(t)

	lock, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Releasing twice is harmless.
	assert.NoError(t, lock.Release())
}
