package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// InstallRecord is the single persisted record of what is installed.
// It always points at a complete, runnable versioned directory, or the
// record does not exist at all (first run).
type InstallRecord struct {
	// Version is the currently active release version.
	Version string `json:"version"`
	// InstallPath is the versioned directory the "current" link points at.
	InstallPath string `json:"install_path"`
	// InstalledAt is when the active version was committed.
	InstalledAt time.Time `json:"installed_at"`
	// PreviousVersion is the retained rollback target, if any.
	PreviousVersion string `json:"previous_version,omitempty"`
	// PreviousInstallPath is the retained prior versioned directory, if any.
	PreviousInstallPath string `json:"previous_install_path,omitempty"`
}

// HasPrevious reports whether a rollback target is retained.
func (r *InstallRecord) HasPrevious() bool {
	return r != nil && r.PreviousVersion != "" && r.PreviousInstallPath != ""
}

// Repository defines persistence operations for the install record.
type Repository interface {
	Load(ctx context.Context) (*InstallRecord, error)
	Save(ctx context.Context, record *InstallRecord) error
}

var (
	// ErrNotFound is returned when no record has been written yet.
	ErrNotFound = errors.New("install record not found")
	// ErrCorrupt is returned when a record exists but cannot be decoded.
	ErrCorrupt = errors.New("install record is corrupt")

	errRecordIsNotSet = errors.New("install record is not set")
)

// FileRepository persists the install record to a JSON file on disk.
// Writes go through a temporary file in the same directory followed by a
// rename, so a crash mid-save leaves the previous record intact.
type FileRepository struct {
	// path is the filesystem location of the JSON record.
	path string
	// mu protects concurrent access to the record file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the record from disk.
func (r *FileRepository) Load(_ context.Context) (*InstallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read install record: %w", err)
	}

	var record InstallRecord
	if err = json.Unmarshal(contents, &record); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}

	if record.Version == "" || record.InstallPath == "" {
		return nil, fmt.Errorf("%w: missing version or install path", ErrCorrupt)
	}

	return &record, nil
}

// Save writes the record durably: temporary file in the record's directory,
// flush, then rename over the canonical path. The rename is the atomicity
// boundary; Save never partially overwrites the previous record.
func (r *FileRepository) Save(_ context.Context, record *InstallRecord) error {
	if record == nil {
		return errRecordIsNotSet
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode install record: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary record: %w", err)
	}

	tmpName := tmp.Name()

	if err = writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err = os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit install record: %w", err)
	}

	return nil
}

// writeAndSync writes data, flushes it to stable storage and closes the file.
func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write install record: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush install record: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close install record: %w", err)
	}

	return nil
}
