package downloader

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thunderkeep/thunderkeep/internal/domain/release"
	"github.com/thunderkeep/thunderkeep/internal/logger"
)

var (
	// ErrTransport is returned when the archive cannot be fetched within
	// the retry budget.
	ErrTransport = errors.New("archive download failed")
	// ErrTruncated is returned when the stream ends before the declared
	// number of bytes arrived.
	ErrTruncated = errors.New("archive download truncated")
	// ErrIntegrityMismatch is returned when the computed digest does not
	// match the declared checksum. Never retried: the remote artifact is
	// not trustworthy.
	ErrIntegrityMismatch = errors.New("archive checksum mismatch")
)

// Service streams release archives into a digest-named cache with integrity
// checking. Partial downloads only ever exist behind temporary names.
type Service struct {
	cacheDir      string
	client        *http.Client
	maxRetries    uint64
	retryInterval time.Duration
	idleTimeout   time.Duration
	progress      ProgressFunc
}

// New creates a downloader writing into cacheDir. The timeout bounds how
// long the server may take to start responding and how long the body may
// stall between reads; a healthy transfer can take arbitrarily long, a
// silent one cannot.
func New(cacheDir string, timeout time.Duration, maxRetries uint64, opts ...Option) *Service {
	s := &Service{
		cacheDir: cacheDir,
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: timeout},
		},
		maxRetries:    maxRetries,
		retryInterval: backoff.DefaultInitialInterval,
		idleTimeout:   timeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Fetch acquires the archive described by the descriptor and returns the
// path of its verified, digest-named cache entry.
func (s *Service) Fetch(ctx context.Context, descriptor release.Descriptor) (string, error) {
	ctx = logger.WithName(ctx, "downloader")

	hash, err := descriptor.Checksum.Hash()
	if err != nil {
		return "", err
	}

	want, err := descriptor.Checksum.DigestBytes()
	if err != nil {
		return "", err
	}

	cachePath := filepath.Join(s.cacheDir, descriptor.Checksum.Digest+archiveExt(descriptor.DownloadURL))
	if s.cachedEntryValid(ctx, cachePath, hash, want) {
		logger.InfoKV(ctx, "Reusing verified cached archive", "path", cachePath)
		return cachePath, nil
	}

	if err = os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}

	operation := func() error {
		fetchErr := s.fetchOnce(ctx, descriptor, hash, want, cachePath)
		if fetchErr == nil {
			return nil
		}

		if errors.Is(fetchErr, ErrIntegrityMismatch) {
			return backoff.Permanent(fetchErr)
		}

		logger.WarnKV(ctx, "Archive download failed, will retry", "error", fetchErr)

		return fetchErr
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.retryInterval

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expo, s.maxRetries), ctx))
	if err != nil {
		if errors.Is(err, ErrIntegrityMismatch) || errors.Is(err, ErrTruncated) {
			return "", err
		}

		return "", fmt.Errorf("%w: %s", ErrTransport, err)
	}

	return cachePath, nil
}

// fetchOnce performs a single streaming download attempt. On success the
// verified archive sits at cachePath; on any failure the temporary file is
// removed and cachePath is left untouched.
func (s *Service) fetchOnce(
	ctx context.Context,
	descriptor release.Descriptor,
	hash crypto.Hash,
	want []byte,
	cachePath string,
) (err error) {
	reqCtx, abort := context.WithCancel(ctx)
	defer abort()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, descriptor.DownloadURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch archive: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch archive: %s: unexpected status %s", descriptor.DownloadURL, resp.Status)
	}

	tmp, err := os.CreateTemp(s.cacheDir, "download-*.partial")
	if err != nil {
		return fmt.Errorf("create temporary archive: %w", err)
	}

	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	total := descriptor.SizeBytes
	if total == 0 {
		total = resp.ContentLength
	}

	hasher := hash.New()
	reporter := s.progressReporter(ctx, total)

	var body io.Reader = resp.Body

	if s.idleTimeout > 0 {
		guard := newStallGuard(resp.Body, s.idleTimeout, abort)
		defer guard.stop()

		body = guard
	}

	written, err := io.Copy(io.MultiWriter(tmp, hasher, reporter), body)
	if err != nil {
		return fmt.Errorf("stream archive: %w", err)
	}

	if descriptor.SizeBytes > 0 && written < descriptor.SizeBytes {
		return fmt.Errorf("%w: received %d of %d bytes", ErrTruncated, written, descriptor.SizeBytes)
	}

	if got := hasher.Sum(nil); !bytes.Equal(got, want) {
		return fmt.Errorf("%w: computed %x, manifest declares %s",
			ErrIntegrityMismatch, got, descriptor.Checksum.Digest)
	}

	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	if err = os.Rename(tmpName, cachePath); err != nil {
		return fmt.Errorf("commit archive to cache: %w", err)
	}

	reporter.finish()

	return nil
}

// stallGuard aborts the request when the body delivers no bytes for a full
// idle interval, so a server that stops mid-stream cannot hold the pipeline
// until an operator signal. A slow but moving transfer keeps resetting the
// timer and is never cut off.
type stallGuard struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func newStallGuard(r io.Reader, timeout time.Duration, abort context.CancelFunc) *stallGuard {
	return &stallGuard{
		r:       r,
		timer:   time.AfterFunc(timeout, abort),
		timeout: timeout,
	}
}

func (g *stallGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	if n > 0 {
		g.timer.Reset(g.timeout)
	}

	return n, err
}

func (g *stallGuard) stop() {
	g.timer.Stop()
}

// cachedEntryValid re-hashes an existing cache entry so a tampered or
// half-written file is never reused.
func (s *Service) cachedEntryValid(ctx context.Context, cachePath string, hash crypto.Hash, want []byte) bool {
	f, err := os.Open(cachePath)
	if err != nil {
		return false
	}

	defer func() {
		_ = f.Close()
	}()

	hasher := hash.New()
	if _, err = io.Copy(hasher, f); err != nil {
		return false
	}

	if !bytes.Equal(hasher.Sum(nil), want) {
		logger.WarnKV(ctx, "Cached archive failed verification, discarding", "path", cachePath)
		_ = os.Remove(cachePath)

		return false
	}

	return true
}

// archiveExt preserves the upstream archive extension so cache entries stay
// recognizable; the digest in the name is what makes them unique.
func archiveExt(downloadURL string) string {
	parsed, err := url.Parse(downloadURL)
	if err != nil {
		return ""
	}

	name := path.Base(parsed.Path)

	switch {
	case len(name) > 7 && name[len(name)-7:] == ".tar.gz":
		return ".tar.gz"
	case len(name) > 8 && name[len(name)-8:] == ".tar.bz2":
		return ".tar.bz2"
	default:
		return path.Ext(name)
	}
}
