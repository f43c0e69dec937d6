package extractor

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/thunderkeep/thunderkeep/internal/logger"
)

var (
	// ErrCorrupt is returned when the archive cannot be decoded.
	ErrCorrupt = errors.New("archive is corrupt")
	// ErrUnsafePath is returned when an entry would resolve outside the
	// staging directory. The whole extraction is aborted.
	ErrUnsafePath = errors.New("archive entry escapes staging directory")
	// ErrIncompleteBundle is returned when the archive does not contain
	// exactly one top-level application directory.
	ErrIncompleteBundle = errors.New("archive is not a single application bundle")
)

// Magic prefixes of the supported compression formats.
var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte{'B', 'Z', 'h'}
)

// Service unpacks verified release archives into isolated staging
// directories beneath a fixed staging root. The root must live on the same
// filesystem as the install root so the later promotion is a plain rename.
type Service struct {
	stagingRoot string
}

// New creates an extractor that stages archives under stagingRoot.
func New(stagingRoot string) *Service {
	return &Service{
		stagingRoot: filepath.Clean(stagingRoot),
	}
}

// Extract unpacks the archive into a freshly created staging directory with
// a unique name and returns the path of the single top-level bundle
// directory inside it. On any failure the staging directory is removed and
// nothing is written elsewhere.
func (s *Service) Extract(ctx context.Context, archivePath string) (bundlePath string, err error) {
	ctx = logger.WithName(ctx, "extractor")

	if err = os.MkdirAll(s.stagingRoot, 0o755); err != nil {
		return "", fmt.Errorf("create staging root: %w", err)
	}

	staging, err := os.MkdirTemp(s.stagingRoot, "staging-")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.RemoveAll(staging)
		}
	}()

	archive, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = archive.Close()
	}()

	decompressed, err := decompress(archive)
	if err != nil {
		return "", err
	}

	if err = unpack(ctx, tar.NewReader(decompressed), staging); err != nil {
		return "", err
	}

	bundle, err := singleBundleDir(staging)
	if err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Archive extracted", "bundle", bundle)

	return bundle, nil
}

// decompress sniffs the compression magic and wraps the stream accordingly.
func decompress(r io.Reader) (io.Reader, error) {
	buffered := bufio.NewReader(r)

	magic, err := buffered.Peek(3)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
		}

		return gz, nil
	case bytes.HasPrefix(magic, bzip2Magic):
		return bzip2.NewReader(buffered), nil
	default:
		return nil, fmt.Errorf("%w: unrecognized compression format", ErrCorrupt)
	}
}

// unpack writes the tar entries beneath staging, rejecting anything that
// would land outside it.
func unpack(ctx context.Context, tr *tar.Reader, staging string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("%w: %s", ErrCorrupt, err)
		}

		target, err := securePath(staging, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, header.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
		case tar.TypeReg:
			if err = writeFile(target, header, tr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err = writeSymlink(staging, target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			linkTarget, linkErr := securePath(staging, header.Linkname)
			if linkErr != nil {
				return linkErr
			}

			if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent directory: %w", err)
			}

			if err = os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("create hard link: %w", err)
			}
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			// Metadata entries carry no payload of their own.
		default:
			logger.DebugKV(ctx, "Skipping unsupported archive entry",
				"name", header.Name, "type", header.Typeflag)
		}
	}
}

// securePath joins an entry name onto the staging directory and rejects any
// result that resolves outside it.
func securePath(staging, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	target := filepath.Join(staging, name)

	rel, err := filepath.Rel(staging, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	return target, nil
}

// writeFile streams one regular entry onto disk with its recorded mode.
func writeFile(target string, header *tar.Header, tr *tar.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Clean(target), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, header.FileInfo().Mode().Perm())
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err = io.Copy(f, tr); err != nil { //nolint:gosec // Size is bounded by the tar entry itself.
		_ = f.Close()
		return fmt.Errorf("%w: %s", ErrCorrupt, err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	return nil
}

// writeSymlink creates a symlink after proving its target stays inside the
// staging directory. Application bundles link relatively; anything absolute
// or escaping is hostile.
func writeSymlink(staging, target, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("%w: symlink to %s", ErrUnsafePath, linkname)
	}

	resolved := filepath.Join(filepath.Dir(target), linkname)

	rel, err := filepath.Rel(staging, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: symlink to %s", ErrUnsafePath, linkname)
	}

	if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	if err = os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}

	return nil
}

// singleBundleDir enforces the expected archive shape: exactly one
// top-level directory holding the application.
func singleBundleDir(staging string) (string, error) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", fmt.Errorf("inspect staging directory: %w", err)
	}

	if len(entries) != 1 || !entries[0].IsDir() {
		return "", fmt.Errorf("%w: found %d top-level entries", ErrIncompleteBundle, len(entries))
	}

	return filepath.Join(staging, entries[0].Name()), nil
}
