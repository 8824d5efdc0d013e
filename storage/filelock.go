package storage

import (
	"os"
	"time"
)

// lockTimeout bounds how long a save waits for another writer's rename.
const lockTimeout = 5 * time.Second

// FileLock provides advisory file locking for cross-process synchronization.
// The platform primitive is flock(2) on Unix and LockFileEx on Windows.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a file lock. The lock is not acquired until Lock() is called.
// The lock file will be created at path + ".lock".
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Lock acquires an exclusive lock with the specified timeout.
// Returns ErrLockTimeout if the lock cannot be acquired within the timeout.
func (l *FileLock) Lock(timeout time.Duration) error {
	var err error
	l.file, err = os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return &StorageError{Op: "lock", Entity: "file", ID: l.path, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err = tryLock(l.file); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	l.file.Close()
	l.file = nil
	return ErrLockTimeout
}

// Unlock releases the lock. The lock file stays on disk: removing it would
// let a waiter holding the old inode and a newcomer creating a fresh file
// both acquire the lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	uerr := unlock(l.file)
	cerr := l.file.Close()
	l.file = nil
	if uerr != nil {
		return &StorageError{Op: "unlock", Entity: "file", ID: l.path, Err: uerr}
	}
	if cerr != nil {
		return &StorageError{Op: "unlock", Entity: "file", ID: l.path, Err: cerr}
	}
	return nil
}
