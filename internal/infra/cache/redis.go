package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"mission-recommender/internal/domain"
)

// RedisLocker реализует domain.Locker через SETNX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

var _ domain.Locker = (*RedisLocker)(nil)

// NewRedisClient создаёт клиента и проверяет соединение.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedis создаёт блокировщик с префиксом ключей.
func NewRedis(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Once выполняет функцию, если ключ ещё не задан. При ошибке fn ключ снимается,
// чтобы следующий запуск мог повторить работу.
func (c *RedisLocker) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	fullKey := c.prefix + key
	ok, err := c.client.SetNX(ctx, fullKey, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(context.WithoutCancel(ctx), fullKey).Err()
		return true, err
	}
	return true, nil
}
