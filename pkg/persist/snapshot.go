// Package persist provides atomic whole-store JSON snapshots. Every store in
// the system mutates in memory and flushes wholesale; a save writes to a
// temporary file in the same directory and renames it into place so a crash
// mid-write never leaves a partial snapshot behind.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/promptops/rlm-go/pkg/errors"
)

// SaveJSON atomically writes v as indented JSON to path, creating parent
// directories as needed.
func SaveJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.PersistenceFailed, "create snapshot directory")
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.PersistenceFailed, "encode snapshot")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.PersistenceFailed, "create temp snapshot")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.PersistenceFailed, "write temp snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.PersistenceFailed, "sync temp snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.PersistenceFailed, "close temp snapshot")
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.PersistenceFailed, "rename snapshot into place")
	}
	return nil
}

// LoadJSON reads a snapshot into v. A missing file is not an error: the store
// simply starts empty. Decode failures surface as PersistenceFailed so the
// caller can log and continue with in-memory state.
func LoadJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.PersistenceFailed, "read snapshot")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.Wrap(err, errors.PersistenceFailed, "decode snapshot")
	}
	return true, nil
}
