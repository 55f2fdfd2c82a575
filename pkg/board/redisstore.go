package board

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long a Redis lease lock survives a dead holder.
// The filesystem store gets crash release from the OS for free; on Redis
// the lease expiry plays that role.
const lockTTL = 30 * time.Second

// releaseScript atomically releases a lease lock only if the caller still
// holds it (token match), so an expired-and-retaken lock is never deleted
// by its previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisStore implements Store on a Redis server for deployments where the
// fleet cannot share a filesystem. All keys are namespaced by instance name
// so multiple Warren instances can coexist on one server.
//
// Locks are SET-NX leases with a per-acquisition token; Redis SET and DEL
// are atomic, so Put already satisfies the no-partial-read contract.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisStore creates a RedisStore for the given instance namespace.
func NewRedisStore(opts *redis.Options, namespace string) (*RedisStore, error) {
	if namespace == "" {
		return nil, fmt.Errorf("%w: namespace cannot be empty", ErrValidation)
	}
	return &RedisStore{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
	}, nil
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection. Implements io.Closer.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// WithLock acquires the lease lock for scope, runs fn, and releases the
// lease on every exit path. Acquisition polls so context cancellation keeps
// the wait bounded.
func (s *RedisStore) WithLock(ctx context.Context, scope string, fn func() error) error {
	lockKey := fmt.Sprintf("warren:%s:lock:%s", s.namespace, scope)
	token := uuid.New().String()

	for {
		ok, err := s.rdb.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("%w: failed to acquire lock for scope %q: %v", ErrStorage, scope, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: lock wait for scope %q cancelled: %v", ErrStorage, scope, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
	defer releaseScript.Run(context.Background(), s.rdb, []string{lockKey}, token)

	return fn()
}

// Get returns the record at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.dataKey(key)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %q: %v", ErrStorage, key, err)
	}
	return data, nil
}

// Put replaces the record at key. Redis SET is atomic.
func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.rdb.Set(ctx, s.dataKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: failed to write %q: %v", ErrStorage, key, err)
	}
	return nil
}

// Delete removes the record at key. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.dataKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: failed to delete %q: %v", ErrStorage, key, err)
	}
	return nil
}

// List returns all keys under prefix using incremental SCAN.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.dataKey(prefix) + "*"
	stripLen := len(s.dataKey(""))

	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[stripLen:])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to scan keys under %q: %v", ErrStorage, prefix, err)
	}
	return keys, nil
}

// NextID increments and returns the monotonic counter at key.
func (s *RedisStore) NextID(ctx context.Context, key string) (int, error) {
	n, err := s.rdb.Incr(ctx, s.dataKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to increment counter %q: %v", ErrStorage, key, err)
	}
	return int(n), nil
}

// dataKey namespaces a storage key for this instance.
// Pattern: warren:{namespace}:data:{key}
func (s *RedisStore) dataKey(key string) string {
	return fmt.Sprintf("warren:%s:data:%s", s.namespace, key)
}
