package ranking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mission-recommender/internal/domain"
)

// Period — окно подсчёта миссионного рейтинга.
type Period string

const (
	PeriodToday Period = "today"
	PeriodAll   Period = "all"
)

// ParsePeriod разбирает период; пустая строка означает today.
func ParsePeriod(raw string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PeriodToday:
		return PeriodToday, nil
	case PeriodAll:
		return PeriodAll, nil
	}
	return "", fmt.Errorf("неизвестный период %q", raw)
}

// Service строит рейтинги команды.
type Service struct {
	groups  domain.GroupRepo
	solves  domain.SolveRepo
	source  domain.ProblemSource
	policy  domain.MissionPolicy
	log     zerolog.Logger
	now     func() time.Time
	workers int
}

// NewService создаёт сервис рейтингов. source должен ходить во внешний API под классом api.
func NewService(groups domain.GroupRepo, solves domain.SolveRepo, source domain.ProblemSource, policy domain.MissionPolicy, logger zerolog.Logger) *Service {
	return &Service{
		groups:  groups,
		solves:  solves,
		source:  source,
		policy:  policy,
		log:     logger,
		now:     time.Now,
		workers: 4,
	}
}

func (s *Service) teamMembers(ctx context.Context, teamID int64) ([]domain.Member, error) {
	ref := domain.GroupRef{ID: teamID, Kind: domain.GroupKindTeam}
	if _, err := s.groups.GetGroup(ctx, ref); err != nil {
		return nil, fmt.Errorf("команда %d: %w", teamID, err)
	}
	members, err := s.groups.ListGroupMembers(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("состав команды %d: %w", teamID, err)
	}
	return members, nil
}

// MissionLeaderboard считает решённые задачи из подборок команды за период.
// Участники без решений попадают в рейтинг с нулём.
func (s *Service) MissionLeaderboard(ctx context.Context, teamID int64, period Period) ([]Entry, error) {
	members, err := s.teamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	var since time.Time
	if period == PeriodToday {
		since = s.policy.CycleStart(s.now())
	}
	counts, err := s.solves.CountMissionSolves(ctx, teamID, since)
	if err != nil {
		return nil, fmt.Errorf("подсчёт решений: %w", err)
	}
	candidates := make([]Candidate, 0, len(members))
	for _, m := range members {
		candidates = append(candidates, Candidate{Subject: m.Handle, Solved: counts[m.UserID]})
	}
	return Rank(candidates), nil
}

// SolvedLeaderboard строит рейтинг по общему числу решённых задач из профилей.
// Профиль, которого нет у внешнего источника, считается нулевым.
func (s *Service) SolvedLeaderboard(ctx context.Context, teamID int64) ([]Entry, error) {
	members, err := s.teamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, m := range members {
		g.Go(func() error {
			candidates[i] = Candidate{Subject: m.Handle}
			profile, err := s.source.UserInfo(gctx, m.Handle)
			if errors.Is(err, domain.ErrNotFound) {
				s.log.Warn().Str("handle", m.Handle).Msg("ranking: профиль не найден")
				return nil
			}
			if err != nil {
				return fmt.Errorf("профиль %s: %w", m.Handle, err)
			}
			candidates[i].Solved = profile.SolvedCount
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Rank(candidates), nil
}
