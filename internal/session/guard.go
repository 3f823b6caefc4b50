package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultGuardPrefix namespaces copy-forward markers.
const DefaultGuardPrefix = "recordings_copied"

// Guard remembers which attempts already received copied-forward recordings.
type Guard interface {
	Marked(ctx context.Context, assignmentID string, attempt int) (bool, error)
	Mark(ctx context.Context, assignmentID string, attempt int) error
}

func guardKey(prefix, assignmentID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", prefix, assignmentID, attempt)
}

// RedisGuard stores markers in redis so they survive restarts and are shared between instances.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisGuard builds a guard. A zero ttl keeps markers forever.
func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = DefaultGuardPrefix
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Marked(ctx context.Context, assignmentID string, attempt int) (bool, error) {
	n, err := g.client.Exists(ctx, guardKey(g.prefix, assignmentID, attempt)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisGuard) Mark(ctx context.Context, assignmentID string, attempt int) error {
	return g.client.SetNX(ctx, guardKey(g.prefix, assignmentID, attempt), "true", g.ttl).Err()
}

// MemoryGuard is a process-local guard for single-instance deployments.
type MemoryGuard struct {
	mu      sync.Mutex
	markers map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{markers: make(map[string]struct{})}
}

func (g *MemoryGuard) Marked(_ context.Context, assignmentID string, attempt int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.markers[guardKey(DefaultGuardPrefix, assignmentID, attempt)]
	return ok, nil
}

func (g *MemoryGuard) Mark(_ context.Context, assignmentID string, attempt int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markers[guardKey(DefaultGuardPrefix, assignmentID, attempt)] = struct{}{}
	return nil
}
