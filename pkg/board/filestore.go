package board

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// lockRetryInterval is how often a blocked lock acquisition re-polls.
const lockRetryInterval = 10 * time.Millisecond

// FileStore is the production Store: every record is a file under a shared
// data directory, guarded by advisory flock locks.
//
// Locks are per-scope lock files under {root}/.locks. The OS releases a
// flock when its holder dies, so a crashed agent cannot deadlock the fleet;
// record consistency across such crashes comes from the write-temp-then-rename
// discipline in Put, not from the lock itself.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: data directory cannot be empty", ErrValidation)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".locks"), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create data directory: %v", ErrStorage, err)
	}
	return &FileStore{root: dir}, nil
}

// Root returns the data directory the store is rooted at.
func (s *FileStore) Root() string {
	return s.root
}

// Close releases the store's resources. FileStore holds none between calls.
func (s *FileStore) Close() error {
	return nil
}

// WithLock acquires the exclusive advisory lock for scope, runs fn, and
// releases the lock on every exit path. Acquisition polls with a
// non-blocking flock so context cancellation keeps the wait bounded.
func (s *FileStore) WithLock(ctx context.Context, scope string, fn func() error) error {
	lockPath := filepath.Join(s.root, ".locks", sanitizeScope(scope)+".lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("%w: failed to open lock file for scope %q: %v", ErrStorage, scope, err)
	}
	defer f.Close()

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK && err != unix.EINTR {
			return fmt.Errorf("%w: flock on scope %q: %v", ErrStorage, scope, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: lock wait for scope %q cancelled: %v", ErrStorage, scope, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn()
}

// Get returns the record at key.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: key %q", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: failed to read %q: %v", ErrStorage, key, err)
	}
	return data, nil
}

// Put atomically replaces the record at key using write-temp-then-rename.
// The temp file lives in the destination directory so the rename is a
// same-filesystem atomic operation: concurrent readers observe only the
// fully-old or fully-new content, even across a crash mid-write.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	dest := s.path(key)
	dir := filepath.Dir(dest)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create directory for %q: %v", ErrStorage, key, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file for %q: %v", ErrStorage, key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write temp file for %q: %v", ErrStorage, key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to sync temp file for %q: %v", ErrStorage, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close temp file for %q: %v", ErrStorage, key, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to rename temp file over %q: %v", ErrStorage, key, err)
	}
	return nil
}

// Delete removes the record at key. Missing keys are not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to delete %q: %v", ErrStorage, key, err)
	}
	return nil
}

// List returns all keys under prefix.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	// Walk from the directory portion of the prefix; the remainder (if any)
	// filters basenames.
	dir := prefix
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	} else {
		dir = ""
	}

	walkRoot := filepath.Join(s.root, filepath.FromSlash(dir))
	var keys []string
	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Skip in-flight temp files from concurrent atomic writes.
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list keys under %q: %v", ErrStorage, prefix, err)
	}
	return keys, nil
}

// NextID increments and returns the monotonic counter at key, starting at 1.
// Callers must hold the scope lock the counter belongs to; the read-increment
// -write is not atomic on its own.
func (s *FileStore) NextID(ctx context.Context, key string) (int, error) {
	next := 1
	data, err := s.Get(ctx, key)
	if err != nil && !IsNotFound(err) {
		return 0, err
	}
	if err == nil {
		cur, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr != nil {
			return 0, fmt.Errorf("%w: corrupt counter %q: %v", ErrStorage, key, convErr)
		}
		next = cur + 1
	}
	if err := s.Put(ctx, key, []byte(strconv.Itoa(next))); err != nil {
		return 0, err
	}
	return next, nil
}

// path maps a storage key to its location on disk.
func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// sanitizeScope maps a lock scope to a safe lock file basename.
func sanitizeScope(scope string) string {
	var b strings.Builder
	for _, r := range scope {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
