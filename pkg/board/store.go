package board

import "context"

// Store is the key-value contract every Warren component persists through.
//
// Implementations must guarantee two properties:
//
//   - WithLock provides an exclusive critical section per scope, released on
//     every exit path including errors. Lock release on process death must
//     not leave the scope permanently deadlocked.
//   - Put is atomic with respect to readers: a concurrent Get observes only
//     the fully-old or fully-new value, never a partial write, even if the
//     writer crashes mid-operation.
//
// FileStore is the production implementation (shared filesystem, advisory
// flock). RedisStore provides the same contract on a Redis server.
type Store interface {
	// WithLock runs fn inside the exclusive critical section for scope.
	// Errors from fn propagate unchanged; lock failures wrap ErrStorage.
	WithLock(ctx context.Context, scope string, fn func() error) error

	// Get returns the record at key, or an ErrNotFound-wrapped error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put atomically replaces the record at key.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the record at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys under prefix, in unspecified order.
	List(ctx context.Context, prefix string) ([]string, error)

	// NextID atomically increments and returns the counter at key,
	// starting from 1. Callers serialize via WithLock where the counter
	// participates in a larger transaction.
	NextID(ctx context.Context, key string) (int, error)

	// Close releases the store's resources. Implements io.Closer.
	Close() error
}
