package cache

import (
	"context"
	"sync"
	"time"

	"mission-recommender/internal/domain"
)

// LocalLocker — блокировщик в памяти процесса для запуска без Redis.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

var _ domain.Locker = (*LocalLocker)(nil)

// NewLocal создаёт локальный блокировщик.
func NewLocal() *LocalLocker {
	return &LocalLocker{keys: make(map[string]time.Time), now: time.Now}
}

// Once повторяет семантику RedisLocker.Once в пределах одного процесса.
func (l *LocalLocker) Once(_ context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	l.mu.Lock()
	now := l.now()
	if expires, ok := l.keys[key]; ok && now.Before(expires) {
		l.mu.Unlock()
		return false, nil
	}
	l.keys[key] = now.Add(ttl)
	l.mu.Unlock()

	if err := fn(); err != nil {
		l.mu.Lock()
		delete(l.keys, key)
		l.mu.Unlock()
		return true, err
	}
	return true, nil
}
