package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/thunderkeep/thunderkeep/internal/logger"
)

// ErrAlreadyRunning is returned when another run holds the install lock.
// There is no queueing: the caller fails fast.
var ErrAlreadyRunning = errors.New("another update is already running")

// lockToken represents exclusive ownership of the install root for one
// pipeline run. The lock file holds the owner PID so a lock left behind by
// a dead process can be broken.
type lockToken struct {
	path string
}

// acquireLock takes the advisory lock, breaking it once if the recorded
// owner process is no longer alive.
func acquireLock(ctx context.Context, path string) (*lockToken, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create install root: %w", err)
	}

	if err := tryCreateLock(path); err == nil {
		return &lockToken{path: path}, nil
	} else if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	if !lockIsStale(path) {
		return nil, ErrAlreadyRunning
	}

	logger.WarnKV(ctx, "Breaking lock left by a dead process", "path", path)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, ErrAlreadyRunning
	}

	if err := tryCreateLock(path); err != nil {
		return nil, ErrAlreadyRunning
	}

	return &lockToken{path: path}, nil
}

// tryCreateLock atomically creates the lock file with this process's PID.
func tryCreateLock(path string) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	_, writeErr := f.WriteString(strconv.Itoa(os.Getpid()))
	closeErr := f.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write lock file: %w", errors.Join(writeErr, closeErr))
	}

	return nil
}

// lockIsStale reports whether the lock's recorded owner is gone. An
// unreadable or unparsable lock is treated as held: breaking it would be
// guessing.
func lockIsStale(path string) bool {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return false
	}

	return process == nil
}

// release gives the lock up. Safe to call on every exit path.
func (t *lockToken) release(ctx context.Context) {
	if t == nil {
		return
	}

	if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove lock file", "path", t.path, "error", err)
	}
}
