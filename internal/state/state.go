// Package state persists engine state across restarts.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Manager persists and recovers a JSON-serializable state value.
type Manager interface {
	Save(v any) error
	Load(v any) error
}

// FileManager stores state as a JSON file, written atomically via a
// temp-file rename.
type FileManager struct {
	path string
}

func NewFileManager(path string) *FileManager {
	return &FileManager{path: path}
}

func (f *FileManager) Save(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Load fills v from the state file. A missing file is not an error; v is
// left untouched.
func (f *FileManager) Load(v any) error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	return nil
}
