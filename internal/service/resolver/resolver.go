package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/yaml.v3"

	"github.com/thunderkeep/thunderkeep/internal/domain/release"
	"github.com/thunderkeep/thunderkeep/internal/logger"
)

var (
	// ErrUnreachable is returned when the manifest endpoint cannot be
	// reached within the retry budget.
	ErrUnreachable = errors.New("release manifest is unreachable")
	// ErrMalformed is returned when the manifest cannot be parsed or
	// lacks required fields. Never retried.
	ErrMalformed = errors.New("release manifest is malformed")
	// ErrNoUpdaterRelease is returned when the manifest does not publish
	// an updater entry.
	ErrNoUpdaterRelease = errors.New("manifest has no updater release")
)

// manifestSizeLimit bounds how much manifest we are willing to read.
const manifestSizeLimit = 1 << 20

// Manifest is the structured document published upstream. Its schema is an
// external contract this tool consumes but does not define.
type Manifest struct {
	// Releases enumerates the published versions of the application.
	Releases []release.Descriptor `yaml:"releases"`
	// Updater optionally names the newest build of this tool itself.
	Updater *release.Descriptor `yaml:"updater,omitempty"`
}

// Service resolves the newest published release from a fixed manifest URL.
// It is read-only and safe to call repeatedly.
type Service struct {
	manifestURL   string
	client        *http.Client
	maxRetries    uint64
	retryInterval time.Duration
}

// New creates a resolver for the provided manifest URL.
func New(manifestURL string, timeout time.Duration, maxRetries uint64, opts ...Option) *Service {
	s := &Service{
		manifestURL:   manifestURL,
		client:        &http.Client{Timeout: timeout},
		maxRetries:    maxRetries,
		retryInterval: backoff.DefaultInitialInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Latest fetches the manifest and returns the newest release it names.
func (s *Service) Latest(ctx context.Context) (release.Descriptor, error) {
	ctx = logger.WithName(ctx, "resolver")

	manifest, err := s.fetchManifest(ctx)
	if err != nil {
		return release.Descriptor{}, err
	}

	latest, err := newestRelease(manifest.Releases)
	if err != nil {
		return release.Descriptor{}, err
	}

	logger.InfoKV(ctx, "Resolved latest release",
		"version", latest.Version, "url", latest.DownloadURL)

	return latest, nil
}

// UpdaterRelease fetches the manifest and returns the updater entry.
func (s *Service) UpdaterRelease(ctx context.Context) (release.Descriptor, error) {
	ctx = logger.WithName(ctx, "resolver")

	manifest, err := s.fetchManifest(ctx)
	if err != nil {
		return release.Descriptor{}, err
	}

	if manifest.Updater == nil {
		return release.Descriptor{}, ErrNoUpdaterRelease
	}

	if err = manifest.Updater.Validate(); err != nil {
		return release.Descriptor{}, fmt.Errorf("%w: updater entry: %s", ErrMalformed, err)
	}

	return *manifest.Updater, nil
}

// fetchManifest downloads and decodes the manifest, retrying transport
// failures with exponential backoff. Decode failures are permanent.
func (s *Service) fetchManifest(ctx context.Context) (*Manifest, error) {
	var manifest *Manifest

	operation := func() error {
		m, err := s.fetchManifestOnce(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				return backoff.Permanent(err)
			}

			logger.WarnKV(ctx, "Manifest fetch failed, will retry", "error", err)

			return err
		}

		manifest = m

		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.retryInterval

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expo, s.maxRetries), ctx))
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}

	return manifest, nil
}

// fetchManifestOnce performs a single GET of the manifest URL.
func (s *Service) fetchManifestOnce(ctx context.Context) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.manifestURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: %s: unexpected status %s", s.manifestURL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, manifestSizeLimit))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err = yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	return &manifest, nil
}

// newestRelease validates the listed releases and picks the highest version.
func newestRelease(releases []release.Descriptor) (release.Descriptor, error) {
	if len(releases) == 0 {
		return release.Descriptor{}, fmt.Errorf("%w: no releases listed", ErrMalformed)
	}

	var (
		latest release.Descriptor
		found  bool
	)

	for _, candidate := range releases {
		if err := candidate.Validate(); err != nil {
			return release.Descriptor{}, fmt.Errorf("%w: %s", ErrMalformed, err)
		}

		if !found {
			latest, found = candidate, true
			continue
		}

		newer, err := release.Newer(candidate.Version, latest.Version)
		if err != nil {
			return release.Descriptor{}, fmt.Errorf("%w: %s", ErrMalformed, err)
		}

		if newer {
			latest = candidate
		}
	}

	return latest, nil
}
