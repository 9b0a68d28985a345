// Package app собирает зависимости сервисов из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"mission-recommender/internal/adapters/mailqueue"
	"mission-recommender/internal/adapters/repo"
	"mission-recommender/internal/adapters/solvedac"
	"mission-recommender/internal/adapters/telegram"
	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/cache"
	"mission-recommender/internal/infra/config"
	"mission-recommender/internal/infra/db"
	logpkg "mission-recommender/internal/infra/log"
	"mission-recommender/internal/infra/ratelimit"
	"mission-recommender/internal/usecase/delivery"
	"mission-recommender/internal/usecase/ranking"
	"mission-recommender/internal/usecase/recommend"
)

// App — собранные сервисы одного процесса.
type App struct {
	Config     config.AppConfig
	Log        zerolog.Logger
	Policy     domain.MissionPolicy
	Repo       *repo.Postgres
	Locker     domain.Locker
	// Profiles ходит во внешний источник с классом лимита api: профили и ручные подборки.
	Profiles   *solvedac.Client
	Generator  *recommend.Service
	Dispatcher *delivery.Dispatcher
	Ranking    *ranking.Service

	closers []func() error
}

// New подключается к хранилищам и собирает сервисы.
// Без REDIS_ADDR лимитер и блокировки работают в памяти процесса,
// без RABBITMQ_URL письма только пишутся в лог.
func New(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger}

	loc, err := config.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, err
	}
	a.Policy = domain.NewMissionPolicy(cfg.Mission.ResetHour, loc)

	if cfg.PGDSN == "" {
		return nil, errors.New("PG_DSN is empty")
	}
	pool, err := db.Connect(ctx, cfg.PGDSN, int32(cfg.Generation.Workers+cfg.Delivery.Workers))
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.onClose(func() error { pool.Close(); return nil })
	a.Repo = repo.NewPostgres(pool)

	limiter, err := a.buildSharedState(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	batchSource := solvedac.NewClient(cfg.SolvedAC.BaseURL, cfg.SolvedAC.Timeout, limiter)
	a.Profiles = batchSource.WithClass(ratelimit.ClassAPI)

	notifier, err := a.buildNotifier()
	if err != nil {
		a.Close()
		return nil, err
	}
	alerter := a.buildAlerter()

	a.Generator = recommend.NewService(a.Repo, a.Repo, batchSource, a.Policy, logpkg.Component(logger, "generator"), recommend.Options{
		Workers:      cfg.Generation.Workers,
		DefaultCount: cfg.Generation.DefaultCount,
		Alerter:      alerter,
		ManualSource: a.Profiles,
	})
	a.Dispatcher = delivery.NewDispatcher(a.Repo, notifier, a.Locker, logpkg.Component(logger, "dispatcher"), delivery.Options{
		Workers:         cfg.Delivery.Workers,
		MaxAttempts:     cfg.Delivery.MaxAttempts,
		MinSuccessRatio: cfg.Delivery.MinSuccessRatio,
		Alerter:         alerter,
	})
	a.Ranking = ranking.NewService(a.Repo, a.Repo, a.Profiles, a.Policy, logpkg.Component(logger, "ranking"))
	return a, nil
}

// buildSharedState выбирает лимитер и блокировки: Redis, если он настроен.
func (a *App) buildSharedState(ctx context.Context) (ratelimit.Limiter, error) {
	cfg := a.Config.SolvedAC
	if a.Config.RedisAddr == "" {
		a.Log.Warn().Msg("app: REDIS_ADDR не задан, лимитер и блокировки локальные")
		a.Locker = cache.NewLocal()
		return ratelimit.NewLocal(ratelimit.Budget{RPS: cfg.RPS, Burst: cfg.Burst}, map[string]ratelimit.Budget{
			ratelimit.ClassAPI: {RPS: cfg.RPS, Burst: cfg.Burst},
		}, cfg.MaxWait), nil
	}
	client, err := cache.NewRedisClient(ctx, a.Config.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.onClose(client.Close)
	a.Locker = cache.NewRedis(client, "mission:lock:")
	perSecond := int(math.Ceil(cfg.RPS))
	return ratelimit.NewRedis(client, "mission:rl:", perSecond, map[string]int{
		ratelimit.ClassAPI: perSecond,
	}, cfg.MaxWait), nil
}

func (a *App) buildNotifier() (domain.Notifier, error) {
	if a.Config.RabbitURL == "" {
		a.Log.Warn().Msg("app: RABBITMQ_URL не задан, письма пишутся в лог")
		return mailqueue.NewLogNotifier(logpkg.Component(a.Log, "mail")), nil
	}
	pub, err := mailqueue.Dial(a.Config.RabbitURL, a.Config.Queues.Mail)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: %w", err)
	}
	a.onClose(pub.Close)
	return pub, nil
}

func (a *App) buildAlerter() domain.Alerter {
	cfg := a.Config.Alerts
	if cfg.TelegramToken == "" || cfg.ChatID == 0 {
		return nil
	}
	alerter, err := telegram.NewAlerter(cfg.TelegramToken, cfg.ChatID)
	if err != nil {
		a.Log.Error().Err(err).Msg("app: алерты в Telegram отключены")
		return nil
	}
	return alerter
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn().Err(err).Msg("app: ошибка при закрытии")
		}
	}
	a.closers = nil
}
