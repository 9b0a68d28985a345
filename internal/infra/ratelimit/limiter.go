package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/metrics"
)

// Классы вызывающих с раздельным бюджетом.
const (
	ClassBatch = "batch"
	ClassAPI   = "api"
)

// Limiter допускает вызов к внешнему API или отказывает с domain.ErrRateLimited.
type Limiter interface {
	Acquire(ctx context.Context, class string) error
}

// Budget задаёт скорость и всплеск для класса.
type Budget struct {
	RPS   float64
	Burst int
}

// Local — общий для всех воркеров процесса token bucket на каждый класс.
type Local struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	budgets  map[string]Budget
	fallback Budget
	maxWait  time.Duration
}

// NewLocal создаёт лимитер. Классы без явного бюджета получают fallback.
func NewLocal(fallback Budget, budgets map[string]Budget, maxWait time.Duration) *Local {
	if budgets == nil {
		budgets = map[string]Budget{}
	}
	return &Local{
		limiters: make(map[string]*rate.Limiter),
		budgets:  budgets,
		fallback: fallback,
		maxWait:  maxWait,
	}
}

func (l *Local) limiter(class string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[class]; ok {
		return lim
	}
	budget, ok := l.budgets[class]
	if !ok {
		budget = l.fallback
	}
	burst := budget.Burst
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(budget.RPS), burst)
	l.limiters[class] = lim
	return lim
}

// Acquire ждёт токен не дольше maxWait. Если токен не успевает освободиться,
// отказывает сразу, не дожидаясь дедлайна.
func (l *Local) Acquire(ctx context.Context, class string) error {
	lim := l.limiter(class)
	if l.maxWait <= 0 {
		if lim.Allow() {
			return nil
		}
		return reject(class)
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()
	if err := lim.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return reject(class)
	}
	return nil
}

func reject(class string) error {
	metrics.IncRateLimitRejection(class)
	return fmt.Errorf("%w: class %s", domain.ErrRateLimited, class)
}
