package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/metrics"
)

// BatchSummary — итог пакетной генерации. Succeeded включает AlreadyGenerated.
type BatchSummary struct {
	BatchID          string         `json:"batch_id"`
	Total            int            `json:"total"`
	Succeeded        int            `json:"succeeded"`
	Failed           int            `json:"failed"`
	Skipped          int            `json:"skipped"`
	AlreadyGenerated int            `json:"already_generated"`
	Failures         []GroupFailure `json:"failures,omitempty"`
}

// GroupFailure описывает сбой одной группы.
type GroupFailure struct {
	Group  domain.GroupRef `json:"group"`
	Reason string          `json:"reason"`
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeAlready
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeCreated:
		return "created"
	case outcomeAlready:
		return "already_generated"
	case outcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// RunGenerationBatch генерирует плановые подборки для всех активных групп.
// Группы обрабатываются параллельно с ограничением; сбой одной группы не влияет на остальные.
// Ошибка возвращается только если не удалось получить список групп.
func (s *Service) RunGenerationBatch(ctx context.Context) (BatchSummary, error) {
	start := time.Now()
	summary := BatchSummary{BatchID: uuid.NewString()}
	logger := s.log.With().Str("batch", summary.BatchID).Logger()

	groups, err := s.groups.ListActiveGroups(ctx)
	if err != nil {
		return summary, fmt.Errorf("список групп: %w", err)
	}
	summary.Total = len(groups)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for _, group := range groups {
		g.Go(func() error {
			res, reason := s.generateIsolated(ctx, group, logger)
			metrics.IncGenerationOutcome(res.String())

			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeCreated:
				summary.Succeeded++
			case outcomeAlready:
				summary.Succeeded++
				summary.AlreadyGenerated++
			case outcomeSkipped:
				summary.Skipped++
			case outcomeFailed:
				summary.Failed++
				summary.Failures = append(summary.Failures, GroupFailure{Group: group.Ref, Reason: reason})
			}
			return nil
		})
	}
	_ = g.Wait()
	metrics.ObserveGenerationBatch(start)

	logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("already_generated", summary.AlreadyGenerated).
		Dur("duration", time.Since(start)).
		Msg("generator: пакет завершён")

	if summary.Failed > 0 && s.alerter != nil {
		if err := s.alerter.Alert(ctx, summary.AlertText()); err != nil {
			logger.Error().Err(err).Msg("generator: не удалось отправить алерт")
		}
	}
	return summary, nil
}

func (s *Service) generateIsolated(ctx context.Context, group domain.Group, batchLog zerolog.Logger) (res outcome, reason string) {
	logger := batchLog.With().Str("group", group.Ref.String()).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("generator: паника при генерации")
			res, reason = outcomeFailed, fmt.Sprintf("panic: %v", r)
		}
	}()

	result, err := s.Generate(ctx, requestForGroup(group, domain.GenerationScheduled))
	switch {
	case err == nil && result.Created:
		return outcomeCreated, ""
	case err == nil:
		return outcomeAlready, ""
	case errors.Is(err, domain.ErrEmptyGroup):
		logger.Warn().Msg("generator: в группе нет участников, пропускаем")
		return outcomeSkipped, ""
	default:
		logger.Error().Err(err).Msg("generator: не удалось сгенерировать подборку")
		return outcomeFailed, err.Error()
	}
}

// AlertText формирует сообщение операторам.
func (b BatchSummary) AlertText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Генерация подборок %s: всего %d, успешно %d, ошибок %d, пропущено %d", b.BatchID, b.Total, b.Succeeded, b.Failed, b.Skipped)
	for _, f := range b.Failures {
		fmt.Fprintf(&sb, "\n- %s: %s", f.Group, f.Reason)
	}
	return sb.String()
}
