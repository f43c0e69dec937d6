package integration

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/thunderkeep/thunderkeep/internal/domain/release"
	"github.com/thunderkeep/thunderkeep/internal/repository/state"
	"github.com/thunderkeep/thunderkeep/internal/service/downloader"
	"github.com/thunderkeep/thunderkeep/internal/service/extractor"
	"github.com/thunderkeep/thunderkeep/internal/service/installer"
	"github.com/thunderkeep/thunderkeep/internal/service/resolver"
)

// releaseServer is a tiny in-memory release host: one manifest, one archive
// per published version.
type releaseServer struct {
	mu       sync.Mutex
	manifest []byte
	archives map[string][]byte
	server   *httptest.Server
}

func newReleaseServer(t *testing.T) *releaseServer {
	t.Helper()

	rs := &releaseServer{archives: make(map[string][]byte)}

	rs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		defer rs.mu.Unlock()

		if r.URL.Path == "/manifest.yaml" {
			_, _ = w.Write(rs.manifest)
			return
		}

		if payload, ok := rs.archives[r.URL.Path]; ok {
			_, _ = w.Write(payload)
			return
		}

		http.NotFound(w, r)
	}))

	t.Cleanup(rs.server.Close)

	return rs
}

func (rs *releaseServer) manifestURL() string {
	return rs.server.URL + "/manifest.yaml"
}

// publish makes version the newest release, serving a freshly built archive.
func (rs *releaseServer) publish(t *testing.T, version string) {
	rs.publishDescriptor(t, rs.descriptorFor(t, version, true))
}

// publishTampered publishes an archive whose declared checksum does not
// match its contents.
func (rs *releaseServer) publishTampered(t *testing.T, version string) {
	rs.publishDescriptor(t, rs.descriptorFor(t, version, false))
}

func (rs *releaseServer) descriptorFor(t *testing.T, version string, honest bool) release.Descriptor {
	t.Helper()

	payload := buildBundleArchive(t, version)
	urlPath := "/archives/thunderbird-" + version + ".tar.gz"

	digest := sha256.Sum256(payload)
	if !honest {
		digest[0] ^= 0xff
	}

	rs.mu.Lock()
	rs.archives[urlPath] = payload
	rs.mu.Unlock()

	return release.Descriptor{
		Version:     version,
		DownloadURL: rs.server.URL + urlPath,
		Checksum:    release.Checksum{Algorithm: "sha256", Digest: hex.EncodeToString(digest[:])},
		SizeBytes:   int64(len(payload)),
	}
}

func (rs *releaseServer) publishDescriptor(t *testing.T, desc release.Descriptor) {
	t.Helper()

	manifest, err := yaml.Marshal(&resolver.Manifest{Releases: []release.Descriptor{desc}})
	require.NoError(t, err)

	rs.mu.Lock()
	rs.manifest = manifest
	rs.mu.Unlock()
}

// buildBundleArchive produces a gzip tarball with the layout real release
// archives use: a single top-level directory holding the executable.
func buildBundleArchive(t *testing.T, version string) []byte {
	t.Helper()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	launcher := []byte("#!/bin/sh\necho " + version + "\n")

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "thunderbird/", Typeflag: tar.TypeDir, Mode: 0o755,
	}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "thunderbird/thunderbird", Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(launcher)),
	}))
	_, err := tw.Write(launcher)
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "thunderbird/thunderbird-bin", Typeflag: tar.TypeSymlink, Linkname: "thunderbird", Mode: 0o777,
	}))

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

// newManager wires the real pipeline against the fixture server.
func newManager(t *testing.T, rs *releaseServer) (*installer.Manager, string) {
	t.Helper()

	dir := t.TempDir()
	installRoot := filepath.Join(dir, "install")

	manager := installer.NewManager(
		installRoot,
		state.NewFileRepository(filepath.Join(dir, "state.json")),
		resolver.New(rs.manifestURL(), 5*time.Second, 1, resolver.WithRetryInterval(10*time.Millisecond)),
		downloader.New(filepath.Join(dir, "cache"), 5*time.Second, 1,
			downloader.WithRetryInterval(10*time.Millisecond)),
		extractor.New(installer.StagingDir(installRoot)),
	)

	return manager, installRoot
}

// launcherContents reads the executable through the current link, the way
// the application would actually be started.
func launcherContents(t *testing.T, installRoot string) string {
	t.Helper()

	contents, err := os.ReadFile(filepath.Join(installRoot, "current", "thunderbird"))
	require.NoError(t, err)

	return string(contents)
}

// TestPipeline_UpdateRollbackPrune drives the whole lifecycle over HTTP:
// fresh install, no-op re-run, upgrade, rollback, catch-up, prune.
func TestPipeline_UpdateRollbackPrune(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t)
	rs.publish(t, "1.2.0")

	manager, installRoot := newManager(t, rs)
	ctx := context.Background()

	// Fresh install.
	outcome, err := manager.Update(ctx)
	require.NoError(t, err)
	require.Equal(t, installer.StatusUpdated, outcome.Status)
	require.Contains(t, launcherContents(t, installRoot), "1.2.0")

	// Second run with the same manifest changes nothing.
	outcome, err = manager.Update(ctx)
	require.NoError(t, err)
	require.Equal(t, installer.StatusUpToDate, outcome.Status)

	// Upgrade.
	rs.publish(t, "1.3.0")

	outcome, err = manager.Update(ctx)
	require.NoError(t, err)
	require.Equal(t, installer.StatusUpdated, outcome.Status)
	require.Equal(t, "1.2.0", outcome.PreviousVersion)
	require.Contains(t, launcherContents(t, installRoot), "1.3.0")

	// The symlink inside the bundle survived extraction.
	linkTarget, err := os.Readlink(filepath.Join(installRoot, "current", "thunderbird-bin"))
	require.NoError(t, err)
	require.Equal(t, "thunderbird", linkTarget)

	// Roll back to 1.2.0.
	rollback, err := manager.Rollback(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", rollback.Version)
	require.Contains(t, launcherContents(t, installRoot), "1.2.0")

	// The manifest still advertises 1.3.0, so the next update catches up.
	outcome, err = manager.Update(ctx)
	require.NoError(t, err)
	require.Equal(t, installer.StatusUpdated, outcome.Status)
	require.Contains(t, launcherContents(t, installRoot), "1.3.0")

	// Prune drops the retained 1.2.0 directory.
	pruned, err := manager.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", pruned)

	_, statErr := os.Stat(filepath.Join(installRoot, "versions", "1.2.0"))
	require.True(t, os.IsNotExist(statErr))

	_, err = manager.Rollback(ctx)
	require.ErrorIs(t, err, installer.ErrNothingToRollBack)
}

// TestPipeline_TamperedArchiveRejected publishes a checksum that does not
// match the archive and verifies the install stays on its current version.
func TestPipeline_TamperedArchiveRejected(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t)
	rs.publish(t, "1.2.0")

	manager, installRoot := newManager(t, rs)
	ctx := context.Background()

	_, err := manager.Update(ctx)
	require.NoError(t, err)

	rs.publishTampered(t, "1.3.0")

	_, err = manager.Update(ctx)
	require.ErrorIs(t, err, downloader.ErrIntegrityMismatch)

	// Still on the old version, and nothing half-installed.
	require.Contains(t, launcherContents(t, installRoot), "1.2.0")

	_, statErr := os.Stat(filepath.Join(installRoot, "versions", "1.3.0"))
	require.True(t, os.IsNotExist(statErr))
}

// TestPipeline_Check confirms check is read-only over HTTP.
func TestPipeline_Check(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t)
	rs.publish(t, "2.0.0")

	manager, installRoot := newManager(t, rs)

	result, err := manager.Check(context.Background())
	require.NoError(t, err)
	require.True(t, result.UpdateAvailable)
	require.Equal(t, "2.0.0", result.LatestVersion)

	// Nothing was created.
	_, statErr := os.Stat(installRoot)
	require.True(t, os.IsNotExist(statErr))
}
