// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Sentinel errors.
var (
	// ErrDirLocked reports a directory already locked by another process.
	ErrDirLocked = errors.New("directory locked")

	// ErrLockNotHeld reports a release of a lock this manager never took.
	ErrLockNotHeld = errors.New("lock not held")
)

// lockFileName is the advisory lock file created inside each guarded
// directory.
const lockFileName = ".statekit.lock"

// LockInfo is the metadata written next to an acquired lock for
// debugging and stale-lock detection.
type LockInfo struct {
	Dir       string    `json:"dir"`
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id,omitempty"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason,omitempty"`
}

// IsExpired reports whether the lock's TTL has elapsed.
func (i *LockInfo) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// DirLockError carries the holder of a contended lock.
type DirLockError struct {
	Dir    string
	Holder *LockInfo
	Err    error
}

func (e *DirLockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("directory %s locked by pid %d since %s",
			e.Dir, e.Holder.PID, e.Holder.LockedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("directory %s locked", e.Dir)
}

func (e *DirLockError) Unwrap() error { return e.Err }

// ManagerConfig configures a DirLockManager.
type ManagerConfig struct {
	// SessionID tags lock info files for debugging. Optional.
	SessionID string

	// DefaultTTL is how long a lock is considered valid before being
	// treated as stale. Default: 1 hour.
	DefaultTTL time.Duration

	// MaxRetries bounds AcquireWithRetry attempts before degrading to an
	// unlocked write. Default: 5.
	MaxRetries int

	// RetryDelay is the pause between retry attempts. Default: 100ms.
	RetryDelay time.Duration
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultTTL: time.Hour,
		MaxRetries: 5,
		RetryDelay: 100 * time.Millisecond,
	}
}

type lockEntry struct {
	file     *os.File
	lockPath string
	infoPath string
	info     *LockInfo
}

// DirLockManager manages advisory locks over data directories.
//
// # Description
//
// Each guarded directory gets a .statekit.lock file that is flock'd for
// the duration of a write. A JSON info file records the holder for
// visibility and stale-lock cleanup (dead PID or expired TTL). An
// fsnotify watcher reports external modifications to locked directories.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type DirLockManager struct {
	config    ManagerConfig
	locker    FileLocker
	locks     map[string]*lockEntry
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watcherMu sync.Mutex
	callbacks map[string][]func(string)
}

// NewDirLockManager creates a lock manager.
func NewDirLockManager(config ManagerConfig) (*DirLockManager, error) {
	if config.DefaultTTL == 0 {
		config.DefaultTTL = time.Hour
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating directory watcher: %w", err)
	}

	m := &DirLockManager{
		config:    config,
		locker:    newFileLocker(),
		locks:     make(map[string]*lockEntry),
		watcher:   watcher,
		callbacks: make(map[string][]func(string)),
	}
	go m.watchLoop()
	return m, nil
}

// Acquire takes an exclusive lock on dir.
//
// # Description
//
// Non-blocking: returns a DirLockError wrapping ErrDirLocked if another
// live process holds the lock. Stale locks (dead PID or expired TTL)
// are cleaned up and re-acquired.
//
// # Inputs
//
//   - dir: Directory to guard. Created if it does not exist.
//   - reason: Human-readable reason recorded in the lock info file.
func (m *DirLockManager) Acquire(dir, reason string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving dir %s: %w", dir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.locks[absDir]; ok {
		// Already held by us, update reason.
		entry.info.Reason = reason
		return nil
	}

	if err := os.MkdirAll(absDir, 0750); err != nil {
		return fmt.Errorf("creating dir %s: %w", absDir, err)
	}

	infoPath := filepath.Join(absDir, lockFileName+".info")
	if existing, err := readLockInfo(infoPath); err == nil && existing != nil {
		if !existing.IsExpired() && IsProcessAlive(existing.PID) {
			return &DirLockError{Dir: absDir, Holder: existing, Err: ErrDirLocked}
		}
		slog.Info("removing stale lock",
			"dir", absDir,
			"old_pid", existing.PID)
		_ = os.Remove(infoPath)
	}

	lockPath := filepath.Join(absDir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}

	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrDirLocked) {
			return &DirLockError{Dir: absDir, Err: ErrDirLocked}
		}
		return fmt.Errorf("locking %s: %w", lockPath, err)
	}

	now := time.Now()
	info := &LockInfo{
		Dir:       absDir,
		PID:       os.Getpid(),
		SessionID: m.config.SessionID,
		LockedAt:  now,
		ExpiresAt: now.Add(m.config.DefaultTTL),
		Reason:    reason,
	}
	if err := writeLockInfo(infoPath, info); err != nil {
		m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("writing lock info: %w", err)
	}

	m.locks[absDir] = &lockEntry{file: f, lockPath: lockPath, infoPath: infoPath, info: info}

	slog.Debug("acquired directory lock",
		"dir", absDir,
		"reason", reason)
	return nil
}

// AcquireWithRetry attempts Acquire a bounded number of times.
//
// # Description
//
// Retries on contention with a fixed delay. After MaxRetries failures it
// gives up and returns held=false with a nil error: the caller proceeds
// without the lock, which is the documented degraded mode for file
// writes under contention. Hard failures (I/O errors) are returned.
//
// # Outputs
//
//   - held: True if the lock was acquired.
//   - error: Non-nil only for non-contention failures.
func (m *DirLockManager) AcquireWithRetry(dir, reason string) (held bool, err error) {
	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		err = m.Acquire(dir, reason)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrDirLocked) {
			return false, err
		}
		if attempt < m.config.MaxRetries {
			time.Sleep(m.config.RetryDelay)
		}
	}
	slog.Warn("proceeding without directory lock after retries",
		"dir", dir,
		"attempts", m.config.MaxRetries+1,
		"error", err)
	return false, nil
}

// Release drops the lock on dir. Returns ErrLockNotHeld if this manager
// does not hold it.
func (m *DirLockManager) Release(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving dir %s: %w", dir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[absDir]
	if !ok {
		return ErrLockNotHeld
	}
	return m.releaseEntry(absDir, entry)
}

// releaseEntry releases a lock entry (must be called with mu held).
func (m *DirLockManager) releaseEntry(absDir string, entry *lockEntry) error {
	m.removeWatch(absDir)

	if err := m.locker.Unlock(entry.file); err != nil {
		slog.Warn("failed to unlock directory",
			"dir", absDir,
			"error", err)
	}
	entry.file.Close()

	if err := os.Remove(entry.infoPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove lock info file",
			"path", entry.infoPath,
			"error", err)
	}
	delete(m.locks, absDir)
	return nil
}

// ReleaseAll releases every lock held by this manager.
func (m *DirLockManager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for dir, entry := range m.locks {
		if err := m.releaseEntry(dir, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsLocked reports whether dir is locked by any live process.
func (m *DirLockManager) IsLocked(dir string) (bool, *LockInfo, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, nil, fmt.Errorf("resolving dir %s: %w", dir, err)
	}

	m.mu.Lock()
	if entry, ok := m.locks[absDir]; ok {
		m.mu.Unlock()
		return true, entry.info, nil
	}
	m.mu.Unlock()

	info, err := readLockInfo(filepath.Join(absDir, lockFileName+".info"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if info == nil || info.IsExpired() || !IsProcessAlive(info.PID) {
		return false, nil, nil
	}
	return true, info, nil
}

// RegisterCallback starts watching dir and registers a callback invoked
// when anything inside it changes. Watching is opt-in so routine store
// writes by this process don't generate events for every mutation.
func (m *DirLockManager) RegisterCallback(dir string, callback func(path string)) {
	absDir, _ := filepath.Abs(dir)

	m.addWatch(absDir)
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()
	m.callbacks[absDir] = append(m.callbacks[absDir], callback)
}

// Close releases all locks and stops the watcher.
func (m *DirLockManager) Close() error {
	if err := m.ReleaseAll(); err != nil {
		slog.Warn("error releasing locks during close",
			"error", err)
	}
	return m.watcher.Close()
}

// =============================================================================
// Internal helpers
// =============================================================================

func writeLockInfo(path string, info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

func readLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (m *DirLockManager) addWatch(dir string) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()
	if err := m.watcher.Add(dir); err != nil {
		slog.Warn("failed to watch directory",
			"dir", dir,
			"error", err)
	}
}

func (m *DirLockManager) removeWatch(dir string) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()
	if err := m.watcher.Remove(dir); err != nil && !os.IsNotExist(err) {
		slog.Debug("directory was not being watched",
			"dir", dir)
	}
	delete(m.callbacks, dir)
}

func (m *DirLockManager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("directory watcher error",
				"error", err)
		}
	}
}

func (m *DirLockManager) handleWatchEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	// Our own lock bookkeeping files churn while locked; ignore them.
	base := filepath.Base(event.Name)
	if base == lockFileName || base == lockFileName+".info" {
		return
	}

	dir := filepath.Dir(event.Name)
	m.watcherMu.Lock()
	callbacks := m.callbacks[dir]
	m.watcherMu.Unlock()
	if len(callbacks) == 0 {
		return
	}

	slog.Debug("modification detected in watched directory",
		"dir", dir,
		"path", event.Name,
		"op", event.Op.String())
	for _, cb := range callbacks {
		cb(event.Name)
	}
}
