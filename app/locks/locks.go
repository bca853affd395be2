// Package locks serializes rebuilds of the same segment across runs
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockHeld is returned when another run owns the segment lock
	ErrLockHeld = errors.New("segment lock is held by another run")
	// ErrLockLost is returned by Refresh once the lock expired or was released
	ErrLockLost = errors.New("segment lock was lost")
)

// Lease is an acquired segment lock. Refresh extends it for another TTL and
// fails with ErrLockLost when the holder no longer owns it.
type Lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker grants exclusive access to one segment
type Locker interface {
	Acquire(ctx context.Context, segmentID uint) (Lease, error)
}

// RedisLocker holds locks as Redis keys with a TTL so a crashed run cannot block forever
type RedisLocker struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker creates a Redis backed locker
func NewRedisLocker(rc *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rc: rc, prefix: prefix, ttl: ttl}
}

// compare-and-delete so a run never frees a lock that expired and was taken by another run
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// compare-and-expire; 0 means the key is gone or owned by another token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (l *RedisLocker) key(segmentID uint) string {
	return fmt.Sprintf("%ssegment:rebuild:%d", l.prefix, segmentID)
}

// Acquire takes the lock or returns ErrLockHeld
func (l *RedisLocker) Acquire(ctx context.Context, segmentID uint) (Lease, error) {
	key := l.key(segmentID)
	token := uuid.NewString()

	ok, err := l.rc.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLease{locker: l, key: key, token: token}, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

func (r *redisLease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, r.locker.rc, []string{r.key}, r.token, r.locker.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to refresh lock %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s: %w", r.key, ErrLockLost)
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, r.locker.rc, []string{r.key}, r.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", r.key, err)
	}
	return nil
}

// MemoryLocker serializes segments within one process
type MemoryLocker struct {
	mu   sync.Mutex
	held map[uint]*memoryLease
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[uint]*memoryLease)}
}

// Acquire takes the lock or returns ErrLockHeld
func (l *MemoryLocker) Acquire(_ context.Context, segmentID uint) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[segmentID]; ok {
		return nil, ErrLockHeld
	}
	lease := &memoryLease{locker: l, segmentID: segmentID}
	l.held[segmentID] = lease
	return lease, nil
}

// Expire drops a lock as if its TTL ran out
func (l *MemoryLocker) Expire(segmentID uint) {
	l.mu.Lock()
	delete(l.held, segmentID)
	l.mu.Unlock()
}

type memoryLease struct {
	locker    *MemoryLocker
	segmentID uint
}

func (m *memoryLease) Refresh(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if m.locker.held[m.segmentID] != m {
		return fmt.Errorf("segment %d: %w", m.segmentID, ErrLockLost)
	}
	return nil
}

func (m *memoryLease) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if m.locker.held[m.segmentID] == m {
		delete(m.locker.held, m.segmentID)
	}
	return nil
}
