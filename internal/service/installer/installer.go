package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thunderkeep/thunderkeep/internal/domain/release"
	"github.com/thunderkeep/thunderkeep/internal/logger"
	"github.com/thunderkeep/thunderkeep/internal/repository/state"
)

// ErrNothingToRollBack is returned when no previous version is retained.
var ErrNothingToRollBack = errors.New("no previous version to roll back to")

const (
	// currentLinkName is the indirection the application is launched from.
	currentLinkName = "current"
	// versionsDirName holds one complete bundle per installed version.
	versionsDirName = "versions"
	// stagingDirName holds per-attempt extraction directories.
	stagingDirName = ".staging"
	// lockFileName is the advisory lock scoped to one pipeline run.
	lockFileName = "thunderkeep.lock"
)

// Resolver yields the newest published release.
type Resolver interface {
	Latest(ctx context.Context) (release.Descriptor, error)
}

// Downloader fetches and verifies a release archive, returning its path.
type Downloader interface {
	Fetch(ctx context.Context, descriptor release.Descriptor) (string, error)
}

// Extractor unpacks an archive into staging and returns the bundle path.
type Extractor interface {
	Extract(ctx context.Context, archivePath string) (string, error)
}

// Manager orchestrates the update pipeline against a single install root:
//
//	<install root>/current            -> versions/<active>   (symlink)
//	<install root>/versions/<ver>/    one complete bundle per version
//	<install root>/.staging/          per-attempt extraction directories
//
// Repointing the current link is the only step that changes what the
// operator runs, and it is a single atomic rename.
type Manager struct {
	installRoot   string
	repo          state.Repository
	resolver      Resolver
	downloader    Downloader
	extractor     Extractor
	appExecutable string
	phase         Phase
	now           func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithAppExecutable names the process to warn about when it is running
// during an update.
func WithAppExecutable(name string) Option {
	return func(m *Manager) {
		m.appExecutable = name
	}
}

// withClock overrides time for tests.
func withClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager wires the pipeline components around an install root.
func NewManager(
	installRoot string,
	repo state.Repository,
	res Resolver,
	dl Downloader,
	ex Extractor,
	opts ...Option,
) *Manager {
	m := &Manager{
		installRoot: filepath.Clean(installRoot),
		repo:        repo,
		resolver:    res,
		downloader:  dl,
		extractor:   ex,
		phase:       PhaseIdle,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// StagingDir returns the staging directory for an install root. Extractors
// must stage there so the promotion rename stays on one filesystem.
func StagingDir(installRoot string) string {
	return filepath.Join(filepath.Clean(installRoot), stagingDirName)
}

// StagingRoot returns the directory extractors must stage into.
func (m *Manager) StagingRoot() string {
	return StagingDir(m.installRoot)
}

func (m *Manager) currentLink() string {
	return filepath.Join(m.installRoot, currentLinkName)
}

func (m *Manager) versionDir(version string) string {
	return filepath.Join(m.installRoot, versionsDirName, version)
}

func (m *Manager) lockPath() string {
	return filepath.Join(m.installRoot, lockFileName)
}

// Status is the outcome category of an Update call.
type Status string

const (
	// StatusUpToDate means no newer release exists; nothing was touched.
	StatusUpToDate Status = "up to date"
	// StatusUpdated means a new version was installed and committed.
	StatusUpdated Status = "updated"
)

// Outcome reports what an Update call did.
type Outcome struct {
	Status          Status
	Version         string
	PreviousVersion string
}

// CheckResult reports what Check learned without touching anything.
type CheckResult struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
}

// Check resolves the latest release and compares it to the install record.
// Read-only: no lock, no filesystem mutation.
func (m *Manager) Check(ctx context.Context) (*CheckResult, error) {
	ctx = logger.WithName(ctx, "installer")

	current, err := m.loadRecord(ctx)
	if err != nil {
		return nil, err
	}

	latest, err := m.resolver.Latest(ctx)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{LatestVersion: latest.Version, UpdateAvailable: true}
	if current != nil {
		result.CurrentVersion = current.Version
		result.UpdateAvailable = isNewer(latest.Version, current.Version)
	}

	return result, nil
}

// Update runs the full pipeline: resolve, fetch, extract, swap, commit.
// Calling it again when no new release exists performs no filesystem
// mutation and succeeds. Cancellation is honored between stages; the swap
// itself always runs to completion or fails atomically.
func (m *Manager) Update(ctx context.Context) (*Outcome, error) {
	ctx = logger.WithName(ctx, "installer")

	lock, err := acquireLock(ctx, m.lockPath())
	if err != nil {
		return nil, err
	}

	defer lock.release(ctx)

	current, err := m.loadRecord(ctx)
	if err != nil {
		return nil, err
	}

	m.transition(ctx, PhaseResolving)

	latest, err := m.resolver.Latest(ctx)
	if err != nil {
		return nil, m.fail(ctx, err)
	}

	if current != nil && !isNewer(latest.Version, current.Version) {
		m.transition(ctx, PhaseCommitted)
		logger.InfoKV(ctx, "Already up to date", "version", current.Version)

		return &Outcome{Status: StatusUpToDate, Version: current.Version}, nil
	}

	if err = ctx.Err(); err != nil {
		return nil, m.fail(ctx, err)
	}

	m.transition(ctx, PhaseDownloading)

	// A failure from here until the swap needs no rollback: the live
	// install is untouched.
	archivePath, err := m.downloader.Fetch(ctx, latest)
	if err != nil {
		return nil, m.fail(ctx, err)
	}

	if err = ctx.Err(); err != nil {
		return nil, m.fail(ctx, err)
	}

	m.transition(ctx, PhaseExtracting)

	bundlePath, err := m.extractor.Extract(ctx, archivePath)
	if err != nil {
		return nil, m.fail(ctx, err)
	}

	stagingDir := filepath.Dir(bundlePath)

	defer func() {
		if removeErr := os.RemoveAll(stagingDir); removeErr != nil {
			logger.WarnKV(ctx, "Unable to remove staging directory", "path", stagingDir, "error", removeErr)
		}
	}()

	if err = ctx.Err(); err != nil {
		return nil, m.fail(ctx, err)
	}

	m.warnIfApplicationRunning(ctx)
	m.transition(ctx, PhaseSwapping)

	newDir := m.versionDir(latest.Version)
	if err = m.swap(ctx, bundlePath, newDir); err != nil {
		return nil, m.fail(ctx, err)
	}

	record := &state.InstallRecord{
		Version:     latest.Version,
		InstallPath: newDir,
		InstalledAt: m.now().UTC(),
	}

	outcome := &Outcome{Status: StatusUpdated, Version: latest.Version}
	if current != nil {
		record.PreviousVersion = current.Version
		record.PreviousInstallPath = current.InstallPath
		outcome.PreviousVersion = current.Version
	}

	if err = m.repo.Save(ctx, record); err != nil {
		// The swap already happened; the install is valid but the record
		// is behind and cannot be unwound. Surface loudly rather than
		// guessing.
		m.transition(ctx, PhaseFailed)

		return nil, fmt.Errorf("install swapped to %s but record not saved: %w", latest.Version, err)
	}

	m.transition(ctx, PhaseCommitted)
	logger.InfoKV(ctx, "Update committed",
		"version", latest.Version, "previous", outcome.PreviousVersion)

	return outcome, nil
}

// Rollback repoints the current link at the retained previous version and
// restores the record. Idempotent: with nothing retained it reports
// ErrNothingToRollBack and does nothing.
func (m *Manager) Rollback(ctx context.Context) (*Outcome, error) {
	ctx = logger.WithName(ctx, "installer")

	lock, err := acquireLock(ctx, m.lockPath())
	if err != nil {
		return nil, err
	}

	defer lock.release(ctx)

	current, err := m.loadRecord(ctx)
	if err != nil {
		return nil, err
	}

	if !current.HasPrevious() {
		return nil, ErrNothingToRollBack
	}

	if _, err = os.Stat(current.PreviousInstallPath); err != nil {
		return nil, fmt.Errorf("previous install %s is gone: %w", current.PreviousInstallPath, err)
	}

	m.transition(ctx, PhaseRollingBack)

	if err = m.repoint(current.PreviousInstallPath); err != nil {
		return nil, m.fail(ctx, err)
	}

	record := &state.InstallRecord{
		Version:     current.PreviousVersion,
		InstallPath: current.PreviousInstallPath,
		InstalledAt: m.now().UTC(),
	}
	if err = m.repo.Save(ctx, record); err != nil {
		return nil, m.fail(ctx, err)
	}

	m.transition(ctx, PhaseCommitted)
	logger.InfoKV(ctx, "Rolled back",
		"version", record.Version, "abandoned", current.Version)

	return &Outcome{Status: StatusUpdated, Version: record.Version, PreviousVersion: current.Version}, nil
}

// Prune deletes the retained previous versioned directory once the operator
// is satisfied with the active version. Never performed automatically.
// With nothing retained it is a logged no-op.
func (m *Manager) Prune(ctx context.Context) (string, error) {
	ctx = logger.WithName(ctx, "installer")

	lock, err := acquireLock(ctx, m.lockPath())
	if err != nil {
		return "", err
	}

	defer lock.release(ctx)

	current, err := m.loadRecord(ctx)
	if err != nil {
		return "", err
	}

	if !current.HasPrevious() {
		logger.Info(ctx, "No previous version retained, nothing to prune")
		return "", nil
	}

	pruned := current.PreviousVersion

	if err = os.RemoveAll(current.PreviousInstallPath); err != nil {
		return "", fmt.Errorf("remove previous install: %w", err)
	}

	record := &state.InstallRecord{
		Version:     current.Version,
		InstallPath: current.InstallPath,
		InstalledAt: current.InstalledAt,
	}
	if err = m.repo.Save(ctx, record); err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Pruned previous version", "version", pruned)

	return pruned, nil
}

// CurrentTarget resolves where the current link points, for inspection.
func (m *Manager) CurrentTarget() (string, error) {
	target, err := os.Readlink(m.currentLink())
	if err != nil {
		return "", err
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(m.installRoot, target)
	}

	return filepath.Clean(target), nil
}

// loadRecord treats a missing record as a fresh install (nil record) for
// Update/Check; Rollback and Prune need an existing record.
func (m *Manager) loadRecord(ctx context.Context) (*state.InstallRecord, error) {
	record, err := m.repo.Load(ctx)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil //nolint:nilnil // Absent record means fresh install.
	}

	if err != nil {
		return nil, err
	}

	return record, nil
}

// swap promotes the extracted bundle to a versioned directory and
// atomically repoints the current link at it. The previous versioned
// directory is left intact for rollback. If the repoint fails, the link
// still names the old, intact version and the half-made directory is
// pruned on a best-effort basis.
func (m *Manager) swap(ctx context.Context, bundlePath, newDir string) error {
	if err := os.MkdirAll(filepath.Dir(newDir), 0o755); err != nil {
		return fmt.Errorf("create versions directory: %w", err)
	}

	if _, err := os.Lstat(newDir); err == nil {
		// A run that died between the repoint and the record save leaves
		// this directory as the live target with a stale record. Keep it
		// and let the caller commit the record; only a directory the
		// current link does not point at is a removable leftover.
		if target, targetErr := m.CurrentTarget(); targetErr == nil && target == newDir {
			logger.InfoKV(ctx, "Versioned directory is already live, committing record only", "path", newDir)
			return nil
		}

		if err = os.RemoveAll(newDir); err != nil {
			return fmt.Errorf("clear leftover versioned directory: %w", err)
		}
	}

	if err := os.Rename(bundlePath, newDir); err != nil {
		return fmt.Errorf("promote bundle to versioned directory: %w", err)
	}

	if err := m.repoint(newDir); err != nil {
		logger.ErrorKV(ctx, "Swap failed, install still points at the previous version", "error", err)

		if removeErr := os.RemoveAll(newDir); removeErr != nil {
			logger.WarnKV(ctx, "Unable to prune half-installed version", "path", newDir, "error", removeErr)
		}

		return err
	}

	return nil
}

// repoint atomically replaces the current link: a new symlink is created
// under a temporary name and renamed over the link. Readers only ever see
// the old target or the new one.
func (m *Manager) repoint(targetDir string) error {
	relTarget, err := filepath.Rel(m.installRoot, targetDir)
	if err != nil {
		relTarget = targetDir
	}

	tmpLink := m.currentLink() + ".tmp"
	if err = os.Remove(tmpLink); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear temporary link: %w", err)
	}

	if err = os.Symlink(relTarget, tmpLink); err != nil {
		return fmt.Errorf("create temporary link: %w", err)
	}

	if err = os.Rename(tmpLink, m.currentLink()); err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("repoint current link: %w", err)
	}

	return nil
}

// fail records the failure transitions for one run. Only the middle phases
// pass through RollingBack; a resolve failure has nothing to unwind.
// Download and extract failures need no filesystem recovery either (the
// live install was never touched), and a swap failure leaves the old link
// in place by construction, so RollingBack is a bookkeeping state here.
func (m *Manager) fail(ctx context.Context, err error) error {
	switch m.phase {
	case PhaseDownloading, PhaseExtracting, PhaseSwapping:
		m.transition(ctx, PhaseRollingBack)
	}

	m.transition(ctx, PhaseIdle)

	return err
}

// isNewer swallows version-parse problems from hand-edited records: an
// unorderable pair is treated as requiring an update.
func isNewer(candidate, current string) bool {
	newer, err := release.Newer(candidate, current)
	if err != nil {
		return true
	}

	return newer
}
