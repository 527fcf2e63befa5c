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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *DirLockManager {
	t.Helper()
	cfg := DefaultManagerConfig()
	cfg.RetryDelay = 5 * time.Millisecond
	m, err := NewDirLockManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// TestAcquireRelease takes and drops a lock, cleaning up the info file.
func TestAcquireRelease(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()

	require.NoError(t, m.Acquire(dir, "test write"))

	locked, info, err := m.IsLocked(dir)
	require.NoError(t, err)
	assert.True(t, locked)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, "test write", info.Reason)

	require.NoError(t, m.Release(dir))

	locked, _, err = m.IsLocked(dir)
	require.NoError(t, err)
	assert.False(t, locked)
	_, err = os.Stat(filepath.Join(dir, lockFileName+".info"))
	assert.True(t, os.IsNotExist(err))
}

// TestAcquire_Reentrant lets the same manager re-acquire its own lock.
func TestAcquire_Reentrant(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()

	require.NoError(t, m.Acquire(dir, "first"))
	require.NoError(t, m.Acquire(dir, "second"))

	_, info, err := m.IsLocked(dir)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "second", info.Reason)
}

// TestAcquire_Contended reports the holder when another manager owns
// the directory.
func TestAcquire_Contended(t *testing.T) {
	holder := newTestManager(t)
	contender := newTestManager(t)
	dir := t.TempDir()

	require.NoError(t, holder.Acquire(dir, "long write"))

	err := contender.Acquire(dir, "want it")
	require.ErrorIs(t, err, ErrDirLocked)

	var dlErr *DirLockError
	require.ErrorAs(t, err, &dlErr)
	require.NotNil(t, dlErr.Holder)
	assert.Equal(t, os.Getpid(), dlErr.Holder.PID)
}

// TestAcquireWithRetry_DegradesWithoutLock returns held=false with no
// error once retries are exhausted.
func TestAcquireWithRetry_DegradesWithoutLock(t *testing.T) {
	holder := newTestManager(t)

	cfg := DefaultManagerConfig()
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	contender, err := NewDirLockManager(cfg)
	require.NoError(t, err)
	defer contender.Close()

	dir := t.TempDir()
	require.NoError(t, holder.Acquire(dir, "busy"))

	held, err := contender.AcquireWithRetry(dir, "degraded write")
	require.NoError(t, err)
	assert.False(t, held)

	// Once the holder releases, retry succeeds.
	require.NoError(t, holder.Release(dir))
	held, err = contender.AcquireWithRetry(dir, "retry")
	require.NoError(t, err)
	assert.True(t, held)
}

// TestAcquire_StaleLockReclaimed cleans up an expired holder.
func TestAcquire_StaleLockReclaimed(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()

	stale := &LockInfo{
		Dir:       dir,
		PID:       os.Getpid(),
		LockedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, writeLockInfo(filepath.Join(dir, lockFileName+".info"), stale))

	require.NoError(t, m.Acquire(dir, "after stale"))
	_, info, err := m.IsLocked(dir)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "after stale", info.Reason)
}

// TestRelease_NotHeld refuses to release a foreign lock.
func TestRelease_NotHeld(t *testing.T) {
	m := newTestManager(t)
	assert.ErrorIs(t, m.Release(t.TempDir()), ErrLockNotHeld)
}

// TestReleaseAll drops every lock in one call.
func TestReleaseAll(t *testing.T) {
	m := newTestManager(t)
	dirA := t.TempDir()
	dirB := t.TempDir()

	require.NoError(t, m.Acquire(dirA, "a"))
	require.NoError(t, m.Acquire(dirB, "b"))
	require.NoError(t, m.ReleaseAll())

	for _, dir := range []string{dirA, dirB} {
		locked, _, err := m.IsLocked(dir)
		require.NoError(t, err)
		assert.False(t, locked)
	}
}

// TestRegisterCallback fires on external file changes but not on lock
// bookkeeping files.
func TestRegisterCallback(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()

	var fired atomic.Int32
	m.RegisterCallback(dir, func(path string) {
		if filepath.Base(path) == "data.json" {
			fired.Add(1)
		}
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.json"), []byte("x"), 0640))

	require.Eventually(t, func() bool {
		return fired.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestLockInfo_IsExpired checks TTL boundaries.
func TestLockInfo_IsExpired(t *testing.T) {
	live := &LockInfo{ExpiresAt: time.Now().Add(time.Minute)}
	assert.False(t, live.IsExpired())

	expired := &LockInfo{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, expired.IsExpired())
}
