package dao

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vadim/neo-publisher/internal/domain/session/entity"
)

// LocalGuard implements AccountGuard for a single instance
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]*localHold
}

type localHold struct {
	until time.Time
}

// NewLocalGuard creates an in-process account guard
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]*localHold)}
}

func (g *LocalGuard) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if h, ok := g.held[key]; ok && now.Before(h.until) {
		return nil, entity.ErrOperationInProgress
	}
	hold := &localHold{until: now.Add(ttl)}
	g.held[key] = hold

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		// an expired hold may already belong to someone else
		if g.held[key] == hold {
			delete(g.held, key)
		}
	}, nil
}

// unlockScript deletes the key only if it still holds our token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard implements AccountGuard across instances with SET NX and a TTL
type RedisGuard struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisGuard creates a Redis backed account guard
func NewRedisGuard(rdb *redis.Client, logger *slog.Logger) *RedisGuard {
	return &RedisGuard{rdb: rdb, logger: logger}
}

func (g *RedisGuard) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	redisKey := lockKey(key)

	ok, err := g.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return nil, entity.ErrOperationInProgress
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, g.rdb, []string{redisKey}, token).Err(); err != nil {
			g.logger.Warn("failed to release account guard", "key", key, "error", err)
		}
	}, nil
}

func lockKey(key string) string {
	return fmt.Sprintf("session:login:%s", key)
}
