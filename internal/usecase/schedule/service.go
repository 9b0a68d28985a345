package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mission-recommender/internal/domain"
)

// Trigger — плановый запуск пакетной операции.
type Trigger string

const (
	TriggerGenerate Trigger = "generate"
	TriggerDeliver  Trigger = "deliver"
)

// Ключ держится дольше суток, чтобы повторный тик того же дня его застал.
const triggerTTL = 36 * time.Hour

// Job — пакетная операция, которую запускает планировщик.
type Job func(ctx context.Context) error

// Service решает, какие запуски пора выполнить, и выполняет каждый не чаще раза в миссионный день.
type Service struct {
	policy        domain.MissionPolicy
	locker        domain.Locker
	deliveryDelay time.Duration
	jobs          map[Trigger]Job
	log           zerolog.Logger
	now           func() time.Time
}

// NewService создаёт планировщик. Блокировки общие для всех экземпляров.
func NewService(policy domain.MissionPolicy, locker domain.Locker, deliveryDelay time.Duration, generate, deliver Job, logger zerolog.Logger) *Service {
	if deliveryDelay < 0 {
		deliveryDelay = 0
	}
	return &Service{
		policy:        policy,
		locker:        locker,
		deliveryDelay: deliveryDelay,
		jobs:          map[Trigger]Job{TriggerGenerate: generate, TriggerDeliver: deliver},
		log:           logger,
		now:           time.Now,
	}
}

// Due возвращает запуски, время которых в текущем цикле уже наступило.
// Генерация идёт с начала цикла, рассылка через deliveryDelay после него.
func (s *Service) Due(now time.Time) []Trigger {
	start := s.policy.CycleStart(now)
	due := make([]Trigger, 0, 2)
	if !now.Before(start) {
		due = append(due, TriggerGenerate)
	}
	if !now.Before(start.Add(s.deliveryDelay)) {
		due = append(due, TriggerDeliver)
	}
	return due
}

// Tick выполняет наступившие запуски. Успешный запуск не повторяется до следующего
// миссионного дня, неудачный будет повторён на следующем тике.
func (s *Service) Tick(ctx context.Context) {
	now := s.now()
	day := domain.DayKey(s.policy.MissionDay(now))
	for _, trigger := range s.Due(now) {
		job := s.jobs[trigger]
		if job == nil {
			continue
		}
		logger := s.log.With().Str("trigger", string(trigger)).Str("day", day).Logger()
		key := fmt.Sprintf("trigger:%s:%s", trigger, day)
		ran, err := s.locker.Once(ctx, key, triggerTTL, func() error {
			logger.Info().Msg("scheduler: запуск")
			return job(ctx)
		})
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: запуск завершился ошибкой")
			continue
		}
		if ran {
			logger.Info().Msg("scheduler: запуск выполнен")
		}
	}
}

// Run тикает с заданным интервалом до отмены контекста.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.Tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
