package store

import (
	"path/filepath"
	"time"
)

// Restart contexts recorded in the startup marker.
const (
	RestartContextNormal  = "normal"
	RestartContextRestart = "restart"
	RestartContextStop    = "stop"
)

// StartupInfo is written at startup and again before a graceful exit so
// the dashboard can distinguish a clean stop from a crash.
type StartupInfo struct {
	PID            int       `json:"pid"`
	StartupTime    time.Time `json:"startup_time"`
	SessionID      string    `json:"session_id"`
	RestartContext string    `json:"restart_context"`
}

func startupPath(dataDir string) string {
	return filepath.Join(dataDir, "cache", "bot_startup.json")
}

// WriteStartupInfo persists the startup marker atomically.
func WriteStartupInfo(dataDir string, info StartupInfo) error {
	return WriteJSONAtomic(startupPath(dataDir), info)
}

// ReadStartupInfo reads the previous startup marker; a missing file
// surfaces as an error wrapping os.ErrNotExist.
func ReadStartupInfo(dataDir string) (*StartupInfo, error) {
	var info StartupInfo
	if err := ReadJSON(startupPath(dataDir), &info); err != nil {
		return nil, err
	}
	return &info, nil
}
