package selfupdate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/thunderkeep/thunderkeep/internal/domain/release"
	"github.com/thunderkeep/thunderkeep/internal/logger"
	"github.com/thunderkeep/thunderkeep/internal/version"
)

// UpdaterResolver yields the newest published build of this tool.
type UpdaterResolver interface {
	UpdaterRelease(ctx context.Context) (release.Descriptor, error)
}

// Downloader fetches and verifies a release payload, returning its path.
type Downloader interface {
	Fetch(ctx context.Context, descriptor release.Descriptor) (string, error)
}

// Service replaces the running binary with the newest published build.
// Unlike the application pipeline there is no versioned directory and no
// rollback record: the apply itself is atomic (write to a sibling, rename
// over the executable) and the checksum is verified twice, once by the
// downloader and once by the apply.
type Service struct {
	resolver   UpdaterResolver
	downloader Downloader
	executable func() (string, error)
}

// Option customizes a Service.
type Option func(*Service)

// withExecutable overrides executable discovery for tests.
func withExecutable(f func() (string, error)) Option {
	return func(s *Service) {
		s.executable = f
	}
}

// New wires a self-update Service.
func New(res UpdaterResolver, dl Downloader, opts ...Option) *Service {
	s := &Service{
		resolver:   res,
		downloader: dl,
		executable: os.Executable,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Outcome reports what a Run call did.
type Outcome struct {
	Updated         bool
	Version         string
	PreviousVersion string
}

// Run fetches the manifest's updater entry and, when it is newer than the
// running build, swaps the executable in place. ErrNoUpdaterRelease from the
// resolver passes through untouched.
func (s *Service) Run(ctx context.Context) (*Outcome, error) {
	ctx = logger.WithName(ctx, "selfupdate")

	published, err := s.resolver.UpdaterRelease(ctx)
	if err != nil {
		return nil, err
	}

	running := version.Short()

	newer, err := release.Newer(published.Version, running)
	if err != nil {
		return nil, fmt.Errorf("compare updater versions: %w", err)
	}

	if !newer {
		logger.InfoKV(ctx, "Updater is up to date", "version", running)
		return &Outcome{Version: running}, nil
	}

	payloadPath, err := s.downloader.Fetch(ctx, published)
	if err != nil {
		return nil, err
	}

	if err = s.apply(ctx, published, payloadPath); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Updater replaced",
		"version", published.Version, "previous", running)

	return &Outcome{Updated: true, Version: published.Version, PreviousVersion: running}, nil
}

// apply swaps the executable with the verified payload.
func (s *Service) apply(ctx context.Context, published release.Descriptor, payloadPath string) error {
	targetPath, err := s.executable()
	if err != nil {
		return fmt.Errorf("locate running executable: %w", err)
	}

	checksum, err := published.Checksum.DigestBytes()
	if err != nil {
		return err
	}

	hash, err := published.Checksum.Hash()
	if err != nil {
		return err
	}

	payload, err := os.Open(filepath.Clean(payloadPath))
	if err != nil {
		return fmt.Errorf("open downloaded payload: %w", err)
	}

	defer func() {
		_ = payload.Close()
	}()

	err = goupdate.Apply(payload, goupdate.Options{
		TargetPath: targetPath,
		TargetMode: 0o755,
		Checksum:   checksum,
		Hash:       hash,
	})
	if err != nil {
		return fmt.Errorf("apply updater binary: %w", err)
	}

	// Apply leaves the displaced binary next to the target.
	oldPath := targetPath + ".old"
	if removeErr := os.Remove(oldPath); removeErr != nil && !os.IsNotExist(removeErr) {
		logger.DebugKV(ctx, "Unable to remove displaced executable", "path", oldPath, "error", removeErr)
	}

	return nil
}
