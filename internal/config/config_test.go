package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLoad_DefaultsApplied verifies that a minimal settings file is filled
// in with defaults for every optional field.
func TestLoad_DefaultsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manifest_url: https://updates.example.com/manifest.yaml\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://updates.example.com/manifest.yaml", cfg.ManifestURL)
	require.NotEmpty(t, cfg.InstallRoot)
	require.NotEmpty(t, cfg.CacheDir)
	require.NotEmpty(t, cfg.StateFile)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, uint64(DefaultMaxRetries), cfg.MaxRetries)
}

// TestLoad_EnvOverrides ensures the environment variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	body := "manifest_url: https://updates.example.com/manifest.yaml\ninstall_root: /opt/from-file\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv(EnvInstallRoot, filepath.Join(dir, "root"))
	t.Setenv(EnvCacheDir, filepath.Join(dir, "cache"))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "root"), cfg.InstallRoot)
	require.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)
}

// TestValidate_RequiresManifestURL checks the only mandatory field.
func TestValidate_RequiresManifestURL(t *testing.T) {
	t.Parallel()

	err := Validate(&Config{})
	require.Error(t, err)

	err = Validate(&Config{ManifestURL: "not a url"})
	require.Error(t, err)
}

// TestSaveLoad_Roundtrip ensures Save followed by Load returns equal settings.
func TestSaveLoad_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "settings.yaml")

	want := &Config{
		ManifestURL: "https://updates.example.com/manifest.yaml",
		InstallRoot: filepath.Join(dir, "root"),
		CacheDir:    filepath.Join(dir, "cache"),
		StateFile:   filepath.Join(dir, "state.json"),
		Timeout:     10 * time.Second,
		MaxRetries:  2,
	}
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
