// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides directory-scoped advisory locks for the
// file-backed store.
//
// A lock guards a data directory against concurrent mutation by another
// process of this engine. Locks are advisory: acquisition retries a
// bounded number of times and then degrades to proceeding without the
// lock, a documented weak guarantee rather than a correctness promise
// under true concurrent multi-process writers.
package lock

import (
	"os"
)

// FileLocker abstracts platform-specific file locking operations.
//
// # Description
//
// Unified interface across Unix and Windows. Unix uses syscall.Flock,
// Windows uses LockFileEx.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use on different files.
// Locking the same file from multiple goroutines is undefined behavior.
type FileLocker interface {
	// Lock acquires an exclusive lock on the file. Non-blocking: returns
	// ErrDirLocked immediately if the lock cannot be acquired.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call even if not locked.
	Unlock(f *os.File) error
}

// IsProcessAlive checks if a process with the given PID is still running.
//
// # Description
//
// Used for stale lock detection. On Unix, uses kill -0. On Windows,
// uses OpenProcess.
func IsProcessAlive(pid int) bool {
	return isProcessAlive(pid)
}

// newFileLocker creates a platform-appropriate FileLocker.
func newFileLocker() FileLocker {
	return newPlatformLocker()
}
