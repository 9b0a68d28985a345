package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GroupKind различает команду и отряд внутри команды.
type GroupKind string

const (
	GroupKindTeam  GroupKind = "team"
	GroupKindSquad GroupKind = "squad"
)

// ParseGroupKind разбирает тип группы из строки.
func ParseGroupKind(raw string) (GroupKind, error) {
	switch GroupKind(strings.ToLower(strings.TrimSpace(raw))) {
	case GroupKindTeam:
		return GroupKindTeam, nil
	case GroupKindSquad:
		return GroupKindSquad, nil
	}
	return "", fmt.Errorf("unknown group kind %q", raw)
}

// GroupRef идентифицирует получателя общей подборки.
type GroupRef struct {
	ID   int64     `json:"id"`
	Kind GroupKind `json:"kind"`
}

func (r GroupRef) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// LevelRange задаёт диапазон сложности задач.
type LevelRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Normalize зажимает границы в [MinLevel, MaxLevel] и меняет их местами, если min > max.
func (r LevelRange) Normalize() LevelRange {
	lo, hi := clampLevel(r.Min), clampLevel(r.Max)
	if lo > hi {
		lo, hi = hi, lo
	}
	return LevelRange{Min: lo, Max: hi}
}

// Contains проверяет попадание уровня в диапазон.
func (r LevelRange) Contains(level int) bool {
	return level >= r.Min && level <= r.Max
}

func clampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Group описывает команду или отряд с настройками подборки.
type Group struct {
	Ref          GroupRef
	TeamID       int64
	Name         string
	Levels       LevelRange
	TagKeys      []string
	ProblemCount int
	Active       bool
}

// Member — участник группы на момент генерации.
type Member struct {
	UserID int64
	Handle string
	Email  string
}

// GenerationKind описывает источник генерации подборки.
type GenerationKind string

const (
	GenerationScheduled GenerationKind = "scheduled"
	GenerationManual    GenerationKind = "manual"
)

// ProblemRef — снимок задачи на момент генерации.
type ProblemRef struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Level             int     `json:"level"`
	AcceptedUserCount int     `json:"accepted_user_count"`
	AverageTries      float64 `json:"average_tries"`
}

// URL возвращает ссылку на условие задачи.
func (p ProblemRef) URL() string {
	return ProblemURL(p.ID)
}

// ProblemURL строит ссылку на задачу на сайте судьи.
func ProblemURL(problemID int64) string {
	return "https://www.acmicpc.net/problem/" + strconv.FormatInt(problemID, 10)
}

// ProblemCandidate — задача из поиска внешнего источника.
type ProblemCandidate struct {
	ProblemRef
	Tags       []string
	IsSolvable bool
}

// UserProfile — профиль пользователя внешнего судьи.
type UserProfile struct {
	Handle      string `json:"handle"`
	Bio         string `json:"bio"`
	Tier        int    `json:"tier"`
	SolvedCount int    `json:"solved_count"`
}

// Recommendation — одна генерация подборки для группы.
type Recommendation struct {
	ID            int64
	Group         GroupRef
	Kind          GenerationKind
	MissionDay    time.Time
	State         DeliveryState
	Problems      []ProblemRef
	CreatedAt     time.Time
	SentAt        *time.Time
	FailureReason string
}

// RecommendationDraft — данные для создания подборки.
type RecommendationDraft struct {
	Group      GroupRef
	Kind       GenerationKind
	MissionDay time.Time
	Problems   []ProblemRef
	Recipients []Member
	CreatedAt  time.Time
}

// DeliveryAttempt — итог отправки уведомления одному получателю.
type DeliveryAttempt struct {
	UserID      int64
	Email       string
	Attempts    int
	Success     bool
	Reason      string
	AttemptedAt time.Time
}
