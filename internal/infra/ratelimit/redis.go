package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis — лимитер с фиксированным секундным окном, общий для всех экземпляров сервиса.
type Redis struct {
	client  *redis.Client
	prefix  string
	limits  map[string]int
	limit   int
	maxWait time.Duration
	now     func() time.Time
}

// NewRedis создаёт распределённый лимитер: не больше perSecond вызовов в секунду на класс.
func NewRedis(client *redis.Client, prefix string, perSecond int, perClass map[string]int, maxWait time.Duration) *Redis {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Redis{client: client, prefix: prefix, limits: perClass, limit: perSecond, maxWait: maxWait, now: time.Now}
}

// Acquire занимает слот в текущем окне; при переполнении ждёт следующее окно,
// пока не исчерпан maxWait.
func (r *Redis) Acquire(ctx context.Context, class string) error {
	limit := r.limit
	if v, ok := r.limits[class]; ok && v > 0 {
		limit = v
	}
	deadline := r.now().Add(r.maxWait)
	for {
		now := r.now()
		window := now.Unix()
		key := r.prefix + class + ":" + strconv.FormatInt(window, 10)

		pipe := r.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*time.Second)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		if incr.Val() <= int64(limit) {
			return nil
		}

		next := time.Unix(window+1, 0)
		if next.After(deadline) {
			return reject(class)
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
