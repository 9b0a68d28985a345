package domain

import (
	"context"
	"time"
)

// ProblemQuery описывает поиск задач, не решённых ни одним участником группы.
type ProblemQuery struct {
	Handles []string
	Levels  LevelRange
	Tags    []string
}

// Sort и направление выдачи поиска.
const (
	SortRandom = "random"
	SortID     = "id"
	SortLevel  = "level"

	DirectionAsc  = "asc"
	DirectionDesc = "desc"
)

// ProblemSource — внешний источник задач с лимитом запросов.
type ProblemSource interface {
	Search(ctx context.Context, query ProblemQuery, sort, direction string) ([]ProblemCandidate, error)
	UserInfo(ctx context.Context, handle string) (UserProfile, error)
}

// GroupRepo отдаёт группы и снимок их состава.
type GroupRepo interface {
	ListActiveGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, ref GroupRef) (Group, error)
	ListGroupMembers(ctx context.Context, ref GroupRef) ([]Member, error)
}

// RecommendationRepo хранит подборки и их состояние.
type RecommendationRepo interface {
	// FindScheduled возвращает плановую подборку группы за день или ErrNotFound.
	FindScheduled(ctx context.Context, ref GroupRef, day time.Time) (Recommendation, error)
	// CreateRecommendation атомарно сохраняет подборку, задачи и получателей.
	// Для плановой подборки при конфликте уникальности возвращает существующую
	// запись вместе с ErrAlreadyGenerated.
	CreateRecommendation(ctx context.Context, draft RecommendationDraft) (Recommendation, error)
	GetRecommendation(ctx context.Context, id int64) (Recommendation, error)
	ListGroupRecommendations(ctx context.Context, ref GroupRef, limit int) ([]Recommendation, error)
	ListByState(ctx context.Context, state DeliveryState) ([]Recommendation, error)
	ListRecipients(ctx context.Context, recommendationID int64) ([]Member, error)
	// TransitionState меняет состояние только если текущее равно from, иначе ErrInvalidTransition.
	TransitionState(ctx context.Context, id int64, from, to DeliveryState, at time.Time, reason string) error
	RecordDeliveryAttempts(ctx context.Context, recommendationID int64, attempts []DeliveryAttempt) error
}

// SolveRepo считает решения участников.
type SolveRepo interface {
	// CountMissionSolves возвращает число решённых задач из подборок команды по участникам.
	// Нулевой since означает всю историю.
	CountMissionSolves(ctx context.Context, teamID int64, since time.Time) (map[int64]int, error)
}

// Notification — письмо одному получателю.
type Notification struct {
	RecommendationID int64
	UserID           int64
	To               string
	Subject          string
	HTMLBody         string
	TextBody         string
}

// Notifier отправляет уведомление получателю.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Alerter сообщает операторам об итогах пакетных запусков.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Locker выполняет fn, только если ключ ещё не занят. Возвращает true, если fn была вызвана.
type Locker interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
}
