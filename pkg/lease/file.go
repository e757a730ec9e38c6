package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FileLocker takes advisory flock(2) locks on <dir>/<key>.lock. Locks are
// dropped by the kernel if the holder dies.
type FileLocker struct {
	dir string
}

var _ Locker = (*FileLocker)(nil)

// NewFileLocker returns a locker rooted at dir, creating it if needed.
func NewFileLocker(dir string) (*FileLocker, error) {
	// #nosec G301 -- lock directories are shared between service accounts
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lease dir: %w", err)
	}
	return &FileLocker{dir: dir}, nil
}

func (l *FileLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(l.dir, sanitizeKey(key)+".lock")
	// #nosec G304 -- path is built from a sanitized key under the lease dir
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lease %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrHeld, key)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	return &fileLease{f: f}, nil
}

type fileLease struct {
	f *os.File
}

// Release unlocks and closes the lock file. The file itself is left in
// place; removing it would race with a concurrent Acquire.
func (l *fileLease) Release(context.Context) error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
