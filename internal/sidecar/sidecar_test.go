package sidecar_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/tandem/internal/sidecar"
)

func TestLoadMissingFileIsZeroState(t *testing.T) {
	s, err := sidecar.Load(filepath.Join(t.TempDir(), "heads.json"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), s.Version)
	require.NotNil(t, s.WorkspaceHeads)
	require.Empty(t, s.WorkspaceHeads)
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heads.json")

	want := sidecar.State{
		Version:        7,
		WorkspaceHeads: map[string]string{"ws-a": "aaaa", "ws-b": "bbbb"},
	}
	require.NoError(t, sidecar.Write(path, want))

	got, err := sidecar.Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestWriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heads.json")

	require.NoError(t, sidecar.Write(path, sidecar.State{Version: 1, WorkspaceHeads: map[string]string{}}))
	require.NoError(t, sidecar.Write(path, sidecar.State{Version: 2, WorkspaceHeads: map[string]string{}}))

	got, err := sidecar.Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.Version)

	// No temp files are left behind after the rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heads.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	_, err := sidecar.Load(path)
	require.Error(t, err)
}
