package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mission-recommender/internal/domain"
)

// DefaultCount — размер подборки, если группа не задала свой.
const DefaultCount = 3

// Service генерирует подборки задач для групп.
type Service struct {
	groups       domain.GroupRepo
	recs         domain.RecommendationRepo
	source       domain.ProblemSource
	manualSource domain.ProblemSource
	policy       domain.MissionPolicy
	alerter      domain.Alerter
	log          zerolog.Logger
	now          func() time.Time
	workers      int
	defaultCount int
}

// Options задаёт необязательные параметры сервиса.
type Options struct {
	Workers      int
	DefaultCount int
	Alerter      domain.Alerter
	Now          func() time.Time
	// ManualSource обслуживает ручные подборки, чтобы они не делили лимит с пакетом.
	// По умолчанию используется общий источник.
	ManualSource domain.ProblemSource
}

// NewService создаёт сервис генерации.
func NewService(groups domain.GroupRepo, recs domain.RecommendationRepo, source domain.ProblemSource, policy domain.MissionPolicy, logger zerolog.Logger, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.DefaultCount <= 0 {
		opts.DefaultCount = DefaultCount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ManualSource == nil {
		opts.ManualSource = source
	}
	return &Service{
		groups:       groups,
		recs:         recs,
		source:       source,
		manualSource: opts.ManualSource,
		policy:       policy,
		alerter:      opts.Alerter,
		log:          logger,
		now:          opts.Now,
		workers:      opts.Workers,
		defaultCount: opts.DefaultCount,
	}
}

// GenerateRequest описывает одну генерацию.
type GenerateRequest struct {
	Group  domain.GroupRef
	Kind   domain.GenerationKind
	Count  int
	Levels domain.LevelRange
	Tags   []string
}

// Result — итог генерации. Created=false означает, что плановая подборка уже была.
type Result struct {
	Recommendation domain.Recommendation
	Created        bool
}

// Generate строит подборку для группы за текущий миссионный день.
// При сбое внешнего источника ничего не сохраняется и возвращается domain.ErrGenerationFailed.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	if req.Kind == "" {
		req.Kind = domain.GenerationScheduled
	}
	day := s.policy.MissionDay(s.now())
	logger := s.log.With().Str("group", req.Group.String()).Str("kind", string(req.Kind)).Str("day", domain.DayKey(day)).Logger()

	if req.Kind == domain.GenerationScheduled {
		existing, err := s.recs.FindScheduled(ctx, req.Group, day)
		switch {
		case err == nil:
			logger.Info().Int64("recommendation", existing.ID).Msg("generator: подборка за день уже есть")
			return Result{Recommendation: existing}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return Result{}, fmt.Errorf("%w: проверка существующей подборки: %w", domain.ErrGenerationFailed, err)
		}
	}

	members, err := s.groups.ListGroupMembers(ctx, req.Group)
	if err != nil {
		return Result{}, fmt.Errorf("%w: состав группы: %w", domain.ErrGenerationFailed, err)
	}
	if len(members) == 0 {
		return Result{}, domain.ErrEmptyGroup
	}
	handles := make([]string, 0, len(members))
	for _, m := range members {
		handles = append(handles, m.Handle)
	}

	count := req.Count
	if count <= 0 {
		count = s.defaultCount
	}
	levels := req.Levels.Normalize()

	source := s.source
	if req.Kind == domain.GenerationManual {
		source = s.manualSource
	}
	candidates, err := source.Search(ctx, domain.ProblemQuery{Handles: handles, Levels: levels, Tags: req.Tags}, domain.SortRandom, domain.DirectionAsc)
	if err != nil {
		return Result{}, fmt.Errorf("%w: поиск задач: %w", domain.ErrGenerationFailed, err)
	}
	problems := pickProblems(candidates, levels, count)
	if len(problems) == 0 {
		return Result{}, fmt.Errorf("%w: нет подходящих задач", domain.ErrGenerationFailed)
	}
	if len(problems) < count {
		logger.Warn().Int("want", count).Int("got", len(problems)).Msg("generator: задач меньше, чем запрошено")
	}

	rec, err := s.recs.CreateRecommendation(ctx, domain.RecommendationDraft{
		Group:      req.Group,
		Kind:       req.Kind,
		MissionDay: day,
		Problems:   problems,
		Recipients: members,
		CreatedAt:  s.now().UTC(),
	})
	if errors.Is(err, domain.ErrAlreadyGenerated) {
		logger.Info().Int64("recommendation", rec.ID).Msg("generator: подборку уже создал параллельный запуск")
		return Result{Recommendation: rec}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: сохранение подборки: %w", domain.ErrGenerationFailed, err)
	}
	logger.Info().Int64("recommendation", rec.ID).Int("problems", len(rec.Problems)).Int("recipients", len(members)).Msg("generator: подборка создана")
	return Result{Recommendation: rec, Created: true}, nil
}

// CreateManual создаёт внеплановую подборку с настройками группы.
// Ограничение «одна в день» на ручные подборки не распространяется.
func (s *Service) CreateManual(ctx context.Context, ref domain.GroupRef) (domain.Recommendation, error) {
	group, err := s.groups.GetGroup(ctx, ref)
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("получение группы: %w", err)
	}
	res, err := s.Generate(ctx, requestForGroup(group, domain.GenerationManual))
	if err != nil {
		return domain.Recommendation{}, err
	}
	return res.Recommendation, nil
}

func requestForGroup(g domain.Group, kind domain.GenerationKind) GenerateRequest {
	return GenerateRequest{
		Group:  g.Ref,
		Kind:   kind,
		Count:  g.ProblemCount,
		Levels: g.Levels,
		Tags:   g.TagKeys,
	}
}

// pickProblems берёт первые count подходящих кандидатов в порядке выдачи,
// отбрасывая повторы, нерешаемые задачи и уровни вне диапазона.
func pickProblems(candidates []domain.ProblemCandidate, levels domain.LevelRange, count int) []domain.ProblemRef {
	seen := make(map[int64]struct{}, len(candidates))
	out := make([]domain.ProblemRef, 0, count)
	for _, c := range candidates {
		if len(out) == count {
			break
		}
		if !c.IsSolvable || !levels.Contains(c.Level) {
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c.ProblemRef)
	}
	return out
}
