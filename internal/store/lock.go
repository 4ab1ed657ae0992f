package store

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FileLock is an advisory exclusive lock on a sidecar .lock file. The lock
// file is separate from the data file so the data file can be replaced by
// rename while the lock is held. Any writer, the coordinator included,
// must hold the lock for the full read-modify-write. The agent registry
// shares this discipline for its own file.
type FileLock struct {
	f *os.File
}

// Lock takes the exclusive lock, retrying with exponential backoff while
// another writer holds it. The context bounds the total wait.
func Lock(ctx context.Context, path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second

	try := func() error {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("lock %s held by another writer: %w", path, err)
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("flock %s: %w", path, err))
		}
		return nil
	}

	if err := backoff.Retry(try, backoff.WithContext(policy, ctx)); err != nil {
		f.Close()
		return nil, err
	}
	return &FileLock{f: f}, nil
}

// Release drops the lock. Safe to call once only.
func (l *FileLock) Release() error {
	defer l.f.Close()
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("unlocking: %w", err)
	}
	return nil
}
