package release

import (
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"

	// Ensure the supported digest implementations are linked in.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

var (
	// errUnknownAlgorithm is returned for checksum algorithms this tool
	// does not know how to compute.
	errUnknownAlgorithm = errors.New("unknown checksum algorithm")
	// errEmptyDigest is returned when a checksum carries no digest.
	errEmptyDigest = errors.New("checksum digest is empty")
	// errIncomplete is returned when a descriptor lacks required fields.
	errIncomplete = errors.New("release descriptor is incomplete")
)

// Checksum names the digest algorithm and the expected hex-encoded value
// for a release archive.
type Checksum struct {
	// Algorithm is the digest algorithm name, e.g. "sha256" or "sha512".
	Algorithm string `yaml:"algorithm"`
	// Digest is the hex-encoded expected digest.
	Digest string `yaml:"digest"`
}

// Hash maps the algorithm name onto a crypto.Hash.
func (c Checksum) Hash() (crypto.Hash, error) {
	switch strings.ToLower(strings.TrimSpace(c.Algorithm)) {
	case "sha256":
		return crypto.SHA256, nil
	case "sha512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnknownAlgorithm, c.Algorithm)
	}
}

// DigestBytes decodes the hex digest into raw bytes.
func (c Checksum) DigestBytes() ([]byte, error) {
	if c.Digest == "" {
		return nil, errEmptyDigest
	}

	raw, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(c.Digest)))
	if err != nil {
		return nil, fmt.Errorf("decode checksum digest: %w", err)
	}

	return raw, nil
}

// Descriptor identifies one publishable version of the managed application
// and how to obtain it. It is immutable once produced by the resolver.
type Descriptor struct {
	// Version is the dotted-numeric release version, e.g. "141.0.1".
	Version string `yaml:"version"`
	// DownloadURL points at the release archive.
	DownloadURL string `yaml:"download_url"`
	// Checksum is the declared digest of the archive.
	Checksum Checksum `yaml:"checksum"`
	// SizeBytes is the declared archive size.
	SizeBytes int64 `yaml:"size_bytes"`
}

// Validate reports whether the descriptor carries everything the pipeline
// needs to fetch and verify the archive.
func (d Descriptor) Validate() error {
	if d.Version == "" || d.DownloadURL == "" || d.Checksum.Digest == "" {
		return errIncomplete
	}

	if _, err := goversion.NewVersion(d.Version); err != nil {
		return fmt.Errorf("parse version %q: %w", d.Version, err)
	}

	if _, err := d.Checksum.Hash(); err != nil {
		return err
	}

	return nil
}

// Compare orders two dotted-numeric versions: -1 when a < b, 0 when equal,
// +1 when a > b. Components are compared pairwise as integers and shorter
// sequences are padded with zeros, so "1.2" equals "1.2.0".
func Compare(a, b string) (int, error) {
	av, err := goversion.NewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", a, err)
	}

	bv, err := goversion.NewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", b, err)
	}

	return av.Compare(bv), nil
}

// Newer reports whether candidate is strictly newer than current.
func Newer(candidate, current string) (bool, error) {
	cmp, err := Compare(candidate, current)
	if err != nil {
		return false, err
	}

	return cmp > 0, nil
}
