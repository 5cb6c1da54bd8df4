// Package sidecar implements the small on-disk file holding a monotonic
// head version plus a per-workspace name -> commit-id map. It is metadata
// only, never an authority for the head set itself; that authority is
// internal/repodb's op-heads key.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// State is the sidecar's on-disk shape.
type State struct {
	Version        uint64            `json:"version"`
	WorkspaceHeads map[string]string `json:"workspace_heads"`
}

// Load reads the sidecar at path. A missing file is not an error: it means
// no head transition has ever been persisted, and the zero State (version 0,
// empty workspace map) is the correct starting point.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{WorkspaceHeads: map[string]string{}}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("sidecar: read %s: %w", path, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("sidecar: decode %s: %w", path, err)
	}
	if s.WorkspaceHeads == nil {
		s.WorkspaceHeads = map[string]string{}
	}
	return s, nil
}

// Write persists s to path atomically via write-to-temp-then-rename, so a
// reader never observes a partially-written sidecar.
func Write(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("sidecar: encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".heads-*.json.tmp")
	if err != nil {
		return fmt.Errorf("sidecar: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("sidecar: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sidecar: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sidecar: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("sidecar: rename into place: %w", err)
	}
	return nil
}
