// replay.go — защита от повторного использования токенов скачивания.
// Включается опционально; без неё токен действует до истечения срока.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ReplayGuard отмечает jti использованным.
// MarkUsed возвращает true, если jti предъявлен впервые.
type ReplayGuard interface {
	MarkUsed(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// MemoryReplayGuard — in-process реестр использованных jti.
// Подходит для одного экземпляра сервиса.
type MemoryReplayGuard struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryReplayGuard создаёт реестр. ttl — не меньше срока жизни токена.
func NewMemoryReplayGuard(size int, ttl time.Duration) *MemoryReplayGuard {
	if size <= 0 {
		size = 10000
	}
	return &MemoryReplayGuard{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// MarkUsed реализует ReplayGuard. ttl задан при создании реестра.
func (g *MemoryReplayGuard) MarkUsed(_ context.Context, jti string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cache.Contains(jti) {
		return false, nil
	}
	g.cache.Add(jti, struct{}{})
	return true, nil
}

// RedisReplayGuard — реестр jti в Redis, общий для всех экземпляров.
type RedisReplayGuard struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisReplayGuard создаёт реестр поверх клиента Redis.
func NewRedisReplayGuard(client redis.UniversalClient, prefix string) *RedisReplayGuard {
	if prefix == "" {
		prefix = "fa:jti:"
	}
	return &RedisReplayGuard{client: client, prefix: prefix}
}

// MarkUsed выполняет SET NX с TTL оставшегося срока жизни токена.
func (g *RedisReplayGuard) MarkUsed(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка SETNX в Redis: %w", err)
	}
	return ok, nil
}

// Ping проверяет доступность Redis (readiness).
func (g *RedisReplayGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
