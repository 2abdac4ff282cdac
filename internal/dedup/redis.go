package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shaiso/Stellara/internal/domain"
)

// DefaultPrefix — префикс ключей в Redis.
const DefaultPrefix = "stellara:dedup:"

// RedisWindow — окно на Redis (SET NX с TTL).
// Общее для всех экземпляров монитора.
type RedisWindow struct {
	client redis.Cmdable
	prefix string
}

// NewRedisWindow создаёт окно. Жизненным циклом клиента владеет вызывающий.
func NewRedisWindow(client redis.Cmdable, prefix string) *RedisWindow {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisWindow{client: client, prefix: prefix}
}

// Seen реализует Window.
func (w *RedisWindow) Seen(ctx context.Context, key string) (bool, error) {
	n, err := w.client.Exists(ctx, w.prefix+key).Result()
	if err != nil {
		return false, domain.Transient(fmt.Errorf("dedup lookup: %w", err))
	}
	return n > 0, nil
}

// Mark реализует Window.
func (w *RedisWindow) Mark(ctx context.Context, key string, ttl time.Duration) error {
	err := w.client.Set(ctx, w.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Err()
	if err != nil {
		return domain.Transient(fmt.Errorf("dedup mark: %w", err))
	}
	return nil
}

// Ping проверяет соединение с Redis.
func (w *RedisWindow) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

// Compile-time interface checks.
var (
	_ Window = (*RedisWindow)(nil)
	_ Window = (*MemoryWindow)(nil)
)
