package recommend

import (
	"context"
	"errors"
	"sync"
	"time"

	"mission-recommender/internal/domain"
)

type stubGroups struct {
	groups  []domain.Group
	members map[domain.GroupRef][]domain.Member
}

func (s *stubGroups) ListActiveGroups(context.Context) ([]domain.Group, error) { return s.groups, nil }

func (s *stubGroups) GetGroup(_ context.Context, ref domain.GroupRef) (domain.Group, error) {
	for _, g := range s.groups {
		if g.Ref == ref {
			return g, nil
		}
	}
	return domain.Group{}, domain.ErrNotFound
}

func (s *stubGroups) ListGroupMembers(_ context.Context, ref domain.GroupRef) ([]domain.Member, error) {
	return s.members[ref], nil
}

// memRecs повторяет частичный уникальный индекс хранилища.
type memRecs struct {
	mu     sync.Mutex
	nextID int64
	recs   []domain.Recommendation
	drafts []domain.RecommendationDraft
	failOn error
}

func (m *memRecs) FindScheduled(_ context.Context, ref domain.GroupRef, day time.Time) (domain.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.findLocked(ref, day); ok {
		return rec, nil
	}
	return domain.Recommendation{}, domain.ErrNotFound
}

func (m *memRecs) findLocked(ref domain.GroupRef, day time.Time) (domain.Recommendation, bool) {
	for _, r := range m.recs {
		if r.Group == ref && r.Kind == domain.GenerationScheduled && domain.SameDate(r.MissionDay, day) {
			return r, true
		}
	}
	return domain.Recommendation{}, false
}

func (m *memRecs) CreateRecommendation(_ context.Context, d domain.RecommendationDraft) (domain.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return domain.Recommendation{}, m.failOn
	}
	if d.Kind == domain.GenerationScheduled {
		if existing, ok := m.findLocked(d.Group, d.MissionDay); ok {
			return existing, domain.ErrAlreadyGenerated
		}
	}
	m.nextID++
	rec := domain.Recommendation{
		ID:         m.nextID,
		Group:      d.Group,
		Kind:       d.Kind,
		MissionDay: d.MissionDay,
		State:      domain.StatePending,
		Problems:   d.Problems,
		CreatedAt:  d.CreatedAt,
	}
	m.recs = append(m.recs, rec)
	m.drafts = append(m.drafts, d)
	return rec, nil
}

func (m *memRecs) GetRecommendation(_ context.Context, id int64) (domain.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.Recommendation{}, domain.ErrNotFound
}

func (m *memRecs) ListGroupRecommendations(context.Context, domain.GroupRef, int) ([]domain.Recommendation, error) {
	return nil, nil
}

func (m *memRecs) ListByState(context.Context, domain.DeliveryState) ([]domain.Recommendation, error) {
	return nil, nil
}

func (m *memRecs) ListRecipients(context.Context, int64) ([]domain.Member, error) { return nil, nil }

func (m *memRecs) TransitionState(context.Context, int64, domain.DeliveryState, domain.DeliveryState, time.Time, string) error {
	return nil
}

func (m *memRecs) RecordDeliveryAttempts(context.Context, int64, []domain.DeliveryAttempt) error {
	return nil
}

func (m *memRecs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

// stubSource отдаёт кандидатов и может падать для выбранных хэндлов.
type stubSource struct {
	mu         sync.Mutex
	candidates []domain.ProblemCandidate
	failFor    map[string]bool
	queries    []domain.ProblemQuery
}

func (s *stubSource) Search(_ context.Context, q domain.ProblemQuery, _, _ string) ([]domain.ProblemCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	for _, h := range q.Handles {
		if s.failFor[h] {
			return nil, errors.Join(domain.ErrUpstream, errors.New("status 500"))
		}
	}
	return s.candidates, nil
}

func (s *stubSource) UserInfo(context.Context, string) (domain.UserProfile, error) {
	return domain.UserProfile{}, domain.ErrNotFound
}

type captureAlerter struct {
	mu    sync.Mutex
	texts []string
}

func (c *captureAlerter) Alert(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func candidate(id int64, level int) domain.ProblemCandidate {
	return domain.ProblemCandidate{ProblemRef: domain.ProblemRef{ID: id, Title: "p", Level: level}, IsSolvable: true}
}
