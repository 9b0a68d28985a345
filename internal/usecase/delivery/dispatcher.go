package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/metrics"
)

const (
	defaultWorkers     = 8
	defaultMaxAttempts = 3
	defaultLockTTL     = 10 * time.Minute

	reasonNoRecipients = "no recipients"
)

var errNoAddress = errors.New("у получателя нет адреса")

// Dispatcher рассылает подборки в состоянии pending и переводит их в sent или failed.
type Dispatcher struct {
	recs            domain.RecommendationRepo
	notifier        domain.Notifier
	locker          domain.Locker
	alerter         domain.Alerter
	log             zerolog.Logger
	now             func() time.Time
	newBackOff      func() backoff.BackOff
	workers         int
	maxAttempts     int
	minSuccessRatio float64
	lockTTL         time.Duration
}

// Options задаёт необязательные параметры рассылки.
type Options struct {
	Workers     int
	MaxAttempts int
	// MinSuccessRatio — минимальная доля успешных получателей для sent. 0 — достаточно одного.
	MinSuccessRatio float64
	LockTTL         time.Duration
	Alerter         domain.Alerter
	Now             func() time.Time
	NewBackOff      func() backoff.BackOff
}

// NewDispatcher создаёт диспетчер рассылки.
func NewDispatcher(recs domain.RecommendationRepo, notifier domain.Notifier, locker domain.Locker, logger zerolog.Logger, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.MinSuccessRatio < 0 {
		opts.MinSuccessRatio = 0
	}
	if opts.MinSuccessRatio > 1 {
		opts.MinSuccessRatio = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}
	return &Dispatcher{
		recs:            recs,
		notifier:        notifier,
		locker:          locker,
		alerter:         opts.Alerter,
		log:             logger,
		now:             opts.Now,
		newBackOff:      opts.NewBackOff,
		workers:         opts.Workers,
		maxAttempts:     opts.MaxAttempts,
		minSuccessRatio: opts.MinSuccessRatio,
		lockTTL:         opts.LockTTL,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// DispatchSummary — итог одного прохода рассылки.
type DispatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// DispatchPending обрабатывает все подборки в pending параллельно, не больше workers одновременно.
// Подборка, занятая другим экземпляром, считается пропущенной.
func (d *Dispatcher) DispatchPending(ctx context.Context) (DispatchSummary, error) {
	var summary DispatchSummary
	pending, err := d.recs.ListByState(ctx, domain.StatePending)
	if err != nil {
		return summary, fmt.Errorf("список pending подборок: %w", err)
	}
	summary.Total = len(pending)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for _, rec := range pending {
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				return nil
			}
			res := d.dispatchOne(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeSent:
				summary.Succeeded++
			case outcomeSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// DeliverRecommendation сразу рассылает одну подборку, например ручную, созданную после дневной рассылки.
// Возвращает подборку в состоянии после попытки. Если подборку держит другой экземпляр, она остаётся в pending.
func (d *Dispatcher) DeliverRecommendation(ctx context.Context, id int64) (domain.Recommendation, error) {
	rec, err := d.recs.GetRecommendation(ctx, id)
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("подборка %d: %w", id, err)
	}
	if rec.State != domain.StatePending {
		return rec, nil
	}
	d.dispatchOne(ctx, rec)
	return d.recs.GetRecommendation(ctx, id)
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
)

// dispatchOne доставляет одну подборку под блокировкой.
func (d *Dispatcher) dispatchOne(ctx context.Context, rec domain.Recommendation) outcome {
	logger := d.log.With().Int64("recommendation", rec.ID).Str("group", rec.Group.String()).Logger()

	var state domain.DeliveryState
	ran, err := d.locker.Once(ctx, lockKey(rec.ID), d.lockTTL, func() error {
		var deliverErr error
		state, deliverErr = d.deliver(ctx, rec, logger)
		return deliverErr
	})
	switch {
	case err == nil && !ran:
		logger.Info().Msg("dispatcher: подборка обрабатывается другим экземпляром")
		return outcomeSkipped
	case errors.Is(err, domain.ErrInvalidTransition):
		logger.Info().Msg("dispatcher: состояние уже изменено")
		return outcomeSkipped
	case err != nil:
		logger.Error().Err(err).Msg("dispatcher: подборка осталась в pending")
		return outcomeFailed
	case state == domain.StateSent:
		return outcomeSent
	default:
		return outcomeFailed
	}
}

// RunDeliveryBatch — плановый запуск рассылки с итоговым логом и алертом.
func (d *Dispatcher) RunDeliveryBatch(ctx context.Context) (DispatchSummary, error) {
	start := time.Now()
	summary, err := d.DispatchPending(ctx)
	event := d.log.Info()
	if err != nil {
		event = d.log.Error().Err(err)
	}
	event.
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", time.Since(start)).
		Msg("dispatcher: рассылка завершена")

	if (err != nil || summary.Failed > 0) && d.alerter != nil {
		text := fmt.Sprintf("Рассылка подборок: всего %d, отправлено %d, ошибок %d, пропущено %d", summary.Total, summary.Succeeded, summary.Failed, summary.Skipped)
		if err != nil {
			text += "\nОшибка: " + err.Error()
		}
		if alertErr := d.alerter.Alert(ctx, text); alertErr != nil {
			d.log.Error().Err(alertErr).Msg("dispatcher: не удалось отправить алерт")
		}
	}
	return summary, err
}

func lockKey(id int64) string {
	return fmt.Sprintf("delivery:rec:%d", id)
}

// deliver отправляет подборку получателям и фиксирует итоговое состояние.
func (d *Dispatcher) deliver(ctx context.Context, rec domain.Recommendation, logger zerolog.Logger) (domain.DeliveryState, error) {
	recipients, err := d.recs.ListRecipients(ctx, rec.ID)
	if err != nil {
		return "", fmt.Errorf("получатели подборки: %w", err)
	}
	if len(recipients) == 0 {
		logger.Warn().Msg("dispatcher: у подборки нет получателей")
		return domain.StateFailed, d.transition(ctx, rec.ID, domain.StateFailed, reasonNoRecipients)
	}

	attempts := d.sendAll(ctx, rec, recipients)
	if err := d.recs.RecordDeliveryAttempts(ctx, rec.ID, attempts); err != nil {
		logger.Warn().Err(err).Msg("dispatcher: не удалось сохранить попытки доставки")
	}

	to, reason := d.decide(attempts)
	logger.Info().Str("state", string(to)).Int("recipients", len(attempts)).Msg("dispatcher: подборка обработана")
	return to, d.transition(ctx, rec.ID, to, reason)
}

func (d *Dispatcher) transition(ctx context.Context, id int64, to domain.DeliveryState, reason string) error {
	if err := d.recs.TransitionState(ctx, id, domain.StatePending, to, d.now().UTC(), reason); err != nil {
		return fmt.Errorf("перевод в %s: %w", to, err)
	}
	metrics.IncTransition(string(to))
	return nil
}

// decide применяет правило успеха: хотя бы один получатель и доля не ниже порога.
func (d *Dispatcher) decide(attempts []domain.DeliveryAttempt) (domain.DeliveryState, string) {
	succeeded := 0
	var firstReason string
	for _, a := range attempts {
		if a.Success {
			succeeded++
			continue
		}
		if firstReason == "" {
			firstReason = a.Reason
		}
	}
	ratio := float64(succeeded) / float64(len(attempts))
	if succeeded > 0 && ratio >= d.minSuccessRatio {
		return domain.StateSent, ""
	}
	reason := fmt.Sprintf("доставлено %d из %d", succeeded, len(attempts))
	if firstReason != "" {
		reason += ": " + firstReason
	}
	return domain.StateFailed, reason
}

// sendAll рассылает письма параллельно; сбой одного получателя не влияет на остальных.
func (d *Dispatcher) sendAll(ctx context.Context, rec domain.Recommendation, recipients []domain.Member) []domain.DeliveryAttempt {
	attempts := make([]domain.DeliveryAttempt, len(recipients))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for i, member := range recipients {
		g.Go(func() error {
			attempt := d.sendOne(ctx, rec, member)
			metrics.IncDeliveryRecipient(attempt.Success)
			mu.Lock()
			attempts[i] = attempt
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

func (d *Dispatcher) sendOne(ctx context.Context, rec domain.Recommendation, member domain.Member) domain.DeliveryAttempt {
	attempt := domain.DeliveryAttempt{UserID: member.UserID, Email: member.Email}
	n := FormatNotification(rec, member)

	op := func() error {
		if n.To == "" {
			return backoff.Permanent(errNoAddress)
		}
		attempt.Attempts++
		return d.notifier.Send(ctx, n)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.maxAttempts-1)), ctx)
	err := backoff.Retry(op, policy)

	attempt.AttemptedAt = d.now().UTC()
	if err != nil {
		attempt.Reason = fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err).Error()
		d.log.Warn().Err(err).Int64("recommendation", rec.ID).Int64("user", member.UserID).Int("attempts", attempt.Attempts).Msg("dispatcher: письмо не доставлено")
		return attempt
	}
	attempt.Success = true
	return attempt
}
