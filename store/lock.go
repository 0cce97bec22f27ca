// store/lock.go
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Lock errors.
var (
	ErrLockNotAcquired = errors.New("store: lock not acquired")
	ErrLockNotHeld     = errors.New("store: lock not held")
)

// Locker provides mutual exclusion between writers of the same store entry,
// e.g. a scheduled renewal run and a manual operator run. Locks carry a TTL
// so a crashed holder never wedges the store permanently.
type Locker interface {
	// Acquire attempts to take the lock for key. Returns false without
	// error when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release gives the lock back. Returns false if it was not held by us.
	Release(ctx context.Context, key string) (bool, error)
}

// WithLock runs fn while holding the lock for key, releasing it afterwards.
// A contended lock surfaces ErrLockNotAcquired rather than waiting: the
// other writer is doing the same work, so backing off is correct.
func WithLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	ok, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
	}
	defer locker.Release(ctx, key)

	return fn(ctx)
}

// lockRecord is what a FileLocker writes into the lock file.
type lockRecord struct {
	Owner   string    `json:"owner"`
	PID     int       `json:"pid"`
	Expires time.Time `json:"expires"`
}

// FileLocker implements Locker with exclusive-create lock files under one
// directory. It is advisory: every writer of the store must go through it.
type FileLocker struct {
	dir     string
	ownerID string
}

// NewFileLocker returns a FileLocker keeping its lock files in dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir, ownerID: generateOwnerID()}
}

// OwnerID returns this locker's unique identifier.
func (l *FileLocker) OwnerID() string { return l.ownerID }

func (l *FileLocker) lockPath(key string) string {
	return filepath.Join(l.dir, key+".lock")
}

// Acquire creates the lock file exclusively. An existing file whose TTL has
// lapsed is treated as abandoned by a crashed holder and replaced.
func (l *FileLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := safeEntryName(key); err != nil {
		return false, err
	}
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return false, fmt.Errorf("store: create lock dir: %w", err)
	}

	path := l.lockPath(key)
	rec := lockRecord{Owner: l.ownerID, PID: os.Getpid(), Expires: time.Now().Add(ttl)}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("store: marshal lock record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err == nil {
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(path)
			return false, fmt.Errorf("store: write lock file: %w", errors.Join(werr, cerr))
		}
		return true, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return false, fmt.Errorf("store: create lock file: %w", err)
	}

	existing, readErr := readLockRecord(path)
	if readErr != nil {
		// Unreadable lock file: leave it for the operator rather than
		// stealing a lock we cannot inspect.
		return false, nil
	}
	if existing.Owner == l.ownerID {
		return true, nil
	}
	if time.Now().Before(existing.Expires) {
		return false, nil
	}

	// Stale lock. Remove and retry with exclusive create once; losing the
	// race to another writer is a clean "not acquired".
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("store: remove stale lock: %w", err)
	}
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("store: create lock file: %w", err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("store: write lock file: %w", errors.Join(werr, cerr))
	}
	return true, nil
}

// Release removes the lock file when we are the holder.
func (l *FileLocker) Release(ctx context.Context, key string) (bool, error) {
	if err := safeEntryName(key); err != nil {
		return false, err
	}
	path := l.lockPath(key)

	existing, err := readLockRecord(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("store: read lock file: %w", err)
	}
	if existing.Owner != l.ownerID {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("store: remove lock file: %w", err)
	}
	return true, nil
}

func readLockRecord(path string) (lockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockRecord{}, err
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return lockRecord{}, fmt.Errorf("store: decode lock record: %w", err)
	}
	return rec, nil
}

// MemoryLocker implements Locker in process memory. Tests and the serve
// loop (whose cycles are already sequential) use it.
type MemoryLocker struct {
	mu      sync.Mutex
	locks   map[string]memoryLock
	ownerID string
}

type memoryLock struct {
	owner   string
	expires time.Time
}

// NewMemoryLocker returns an in-memory Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock), ownerID: generateOwnerID()}
}

// Acquire takes or re-enters the lock for key.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if existing, ok := l.locks[key]; ok && existing.expires.After(now) && existing.owner != l.ownerID {
		return false, nil
	}
	l.locks[key] = memoryLock{owner: l.ownerID, expires: now.Add(ttl)}
	return true, nil
}

// Release drops the lock for key when held by us.
func (l *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.locks[key]
	if !ok || existing.owner != l.ownerID {
		return false, nil
	}
	delete(l.locks, key)
	return true, nil
}

func generateOwnerID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
