package state

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))
	rec, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, rec)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns an equal record.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo := NewFileRepository(filepath.Join(dir, "state.json"))

	want := &InstallRecord{
		Version:             "1.3.0",
		InstallPath:         filepath.Join(dir, "versions", "1.3.0"),
		InstalledAt:         time.Now().UTC().Truncate(time.Second),
		PreviousVersion:     "1.2.0",
		PreviousInstallPath: filepath.Join(dir, "versions", "1.2.0"),
	}
	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.True(t, got.HasPrevious())
}

// TestFileRepository_Corrupt ensures undecodable content surfaces as ErrCorrupt.
func TestFileRepository_Corrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileRepository(path).Load(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)

	// A decodable record missing required fields is corrupt too.
	require.NoError(t, os.WriteFile(path, []byte(`{"version":""}`), 0o600))
	_, err = NewFileRepository(path).Load(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)
}

// TestFileRepository_Save_LeavesNoTempFiles checks that the staging file used
// for atomic writes is gone after a successful save.
func TestFileRepository_Save_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo := NewFileRepository(filepath.Join(dir, "state.json"))

	rec := &InstallRecord{
		Version:     "1.0.0",
		InstallPath: filepath.Join(dir, "versions", "1.0.0"),
		InstalledAt: time.Now(),
	}
	require.NoError(t, repo.Save(context.Background(), rec))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.False(t, strings.Contains(entry.Name(), ".tmp-"), "leftover temp file %s", entry.Name())
	}
}

// TestFileRepository_Save_OverwritesPrevious verifies the newest record wins wholesale.
func TestFileRepository_Save_OverwritesPrevious(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo := NewFileRepository(filepath.Join(dir, "state.json"))
	ctx := context.Background()

	first := &InstallRecord{
		Version:             "1.2.0",
		InstallPath:         filepath.Join(dir, "versions", "1.2.0"),
		InstalledAt:         time.Now(),
		PreviousVersion:     "1.1.0",
		PreviousInstallPath: filepath.Join(dir, "versions", "1.1.0"),
	}
	require.NoError(t, repo.Save(ctx, first))

	second := &InstallRecord{
		Version:     "1.3.0",
		InstallPath: filepath.Join(dir, "versions", "1.3.0"),
		InstalledAt: time.Now(),
	}
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.3.0", got.Version)
	require.False(t, got.HasPrevious())
}
