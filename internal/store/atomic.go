// Package store implements the file persistence layer: atomic JSON writes
// (write-temp, fsync, rename, .bak promotion), schema-versioned reads with
// backup fallback, and the engine's persisted documents.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// WriteJSONAtomic writes v as indented JSON to path. The previous version,
// if any, is promoted to path+".bak" before the rename so readers always
// see either the new or the previous complete document.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path via a temp file in the same
// directory, fsyncs, then renames over the existing file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	// Promote the current version to .bak before replacing it.
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to promote backup, continuing")
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and parses path into v. On parse failure the .bak file is
// tried before giving up; a corrupt primary is never silently overwritten.
// A missing file is retried briefly to tolerate a concurrent rename.
func ReadJSON(path string, v any) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				lastErr = err
				time.Sleep(20 * time.Millisecond)
				continue
			}
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, v); err == nil {
			return nil
		} else {
			lastErr = err
			break
		}
	}

	if os.IsNotExist(lastErr) {
		return fmt.Errorf("failed to read %s: %w", path, lastErr)
	}

	// Primary is corrupt; try the backup.
	bak := path + ".bak"
	data, err := os.ReadFile(bak)
	if err != nil {
		return fmt.Errorf("%s corrupt (%v) and no backup: %w", path, lastErr, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s and its backup are both corrupt: %w", path, err)
	}

	log.Warn().
		Str("path", path).
		Msg("Primary file corrupt, loaded from backup")
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
