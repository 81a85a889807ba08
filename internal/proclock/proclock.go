// Package proclock enforces the single-process guarantee with a
// filesystem lock validated against process liveness. A lock left behind
// by a dead process is reclaimed; a lock held by a live one is fatal to
// startup.
package proclock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrContested is returned when another live process holds the lock. The
// caller exits with a distinct code.
var ErrContested = errors.New("lock held by live process")

type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Hostname   string    `json:"hostname"`
}

// Lock is a held process lock.
type Lock struct {
	path string
}

// Acquire takes the lock at path, reclaiming it if the recorded process
// no longer exists.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := writeLockInfo(f); err != nil {
				f.Close()
				os.Remove(path)
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock %s: %w", path, err)
		}

		holder, readErr := readLockInfo(path)
		if readErr == nil && holder.PID > 0 {
			alive, liveErr := process.PidExists(int32(holder.PID))
			if liveErr == nil && alive {
				return nil, fmt.Errorf("%w: pid %d since %s", ErrContested, holder.PID, holder.AcquiredAt.Format(time.RFC3339))
			}
		}

		// Holder is gone or the file is unreadable: reclaim.
		log.Warn().
			Str("path", path).
			Int("stale_pid", holder.PID).
			Msg("Reclaiming stale process lock")
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to reclaim stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to acquire lock %s after reclaim", path)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	return nil
}

func writeLockInfo(f *os.File) error {
	hostname, _ := os.Hostname()
	data, err := json.MarshalIndent(lockInfo{
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
		Hostname:   hostname,
	}, "", "  ")
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write lock info: %w", err)
	}
	return f.Sync()
}

func readLockInfo(path string) (lockInfo, error) {
	var info lockInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}
