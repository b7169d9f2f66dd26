package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// SessionLockFile is the name of the run lock inside the state directory.
const SessionLockFile = "session.lock"

// SessionLock marks the one active run against a repository.
type SessionLock struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	lockFile string
	logger   *logging.Logger
}

// AcquireSessionLock takes the run lock in dir. A lock held by a live
// process yields ErrSessionLocked; a lock left by a dead process is
// reclaimed.
func AcquireSessionLock(dir, runID string, logger *logging.Logger) (*SessionLock, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	lockPath := filepath.Join(dir, SessionLockFile)

	if existing, err := ReadSessionLock(lockPath); err == nil {
		if processAlive(existing.PID) {
			logger.Error("failed to acquire session lock", "run_id", runID, "holder_pid", existing.PID, "holder_host", existing.Hostname)
			return nil, fmt.Errorf("%w: PID %d on %s", errors.ErrSessionLocked, existing.PID, existing.Hostname)
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale session lock: %w", err)
		}
		logger.Warn("stale session lock reclaimed", "run_id", runID, "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &SessionLock{
		RunID:     runID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
		lockFile:  lockPath,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session lock: %w", err)
	}

	// O_EXCL loses cleanly to a concurrent acquirer.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.ErrSessionLocked
		}
		return nil, fmt.Errorf("create session lock: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("write session lock: %w", err)
	}

	logger.Info("session lock acquired", "run_id", runID, "pid", lock.PID)
	return lock, nil
}

// Release removes the lock if this process still owns it. Safe to call
// more than once.
func (l *SessionLock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}
	existing, err := ReadSessionLock(l.lockFile)
	if err != nil || existing.PID != l.PID || existing.RunID != l.RunID {
		return nil
	}
	if err := os.Remove(l.lockFile); err != nil {
		return err
	}
	if l.logger != nil {
		l.logger.Info("session lock released", "run_id", l.RunID)
	}
	return nil
}

// ReadSessionLock reads a lock file.
func ReadSessionLock(lockPath string) (*SessionLock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var lock SessionLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse session lock: %w", err)
	}
	lock.lockFile = lockPath
	return &lock, nil
}

// ActiveSession returns the live lock holder in dir, if any.
func ActiveSession(dir string) (*SessionLock, bool) {
	lock, err := ReadSessionLock(filepath.Join(dir, SessionLockFile))
	if err != nil || !processAlive(lock.PID) {
		return nil, false
	}
	return lock, true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
