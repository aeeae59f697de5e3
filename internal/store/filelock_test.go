package store

import (
	"testing"
	"time"
)

func TestFileLockExclusion(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &FileLockConfig{
		LockTimeout:  500 * time.Millisecond,
		LockRetry:    10 * time.Millisecond,
		LockMaxRetry: 3,
	}

	first, err := NewFileLock("ws", tmpDir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Unlock()

	if !first.IsLocked() {
		t.Fatal("first lock should be held")
	}

	if _, err := NewFileLock("ws", tmpDir, cfg); err == nil {
		t.Error("second lock on same workspace should fail")
	}
}

func TestFileLockUnlockIsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	fl, err := NewFileLock("ws", tmpDir, nil)
	if err != nil {
		t.Fatal(err)
	}

	fl.Unlock()
	if fl.IsLocked() {
		t.Error("lock should be released")
	}
	fl.Unlock() // second call logs a warning, no panic
}

func TestFileLockReacquireAfterUnlock(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := NewFileLock("ws", tmpDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	first.Unlock()

	second, err := NewFileLock("ws", tmpDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	second.Unlock()
}

func TestCleanupStaleLocksSkipsFresh(t *testing.T) {
	tmpDir := t.TempDir()

	fl, err := NewFileLock("ws", tmpDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	fl.Unlock()

	if err := CleanupStaleLocks(tmpDir, time.Hour, true); err != nil {
		t.Fatal(err)
	}
}
