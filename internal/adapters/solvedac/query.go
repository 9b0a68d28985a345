package solvedac

import (
	"fmt"
	"strings"

	"mission-recommender/internal/domain"
)

const (
	// MinAcceptedUsers отсекает малоизвестные и неоценённые задачи.
	MinAcceptedUsers = 1000
	// Language — язык, на котором должно быть доступно условие.
	Language = "ko"
)

// BuildQuery собирает строку поиска: диапазон уровней, популярность, язык,
// необязательную группу тегов через ИЛИ и исключение решённого каждым участником.
// Условия соединяются через «+» в этом порядке.
func BuildQuery(q domain.ProblemQuery) string {
	levels := q.Levels.Normalize()
	clauses := []string{
		fmt.Sprintf("*%d..%d", levels.Min, levels.Max),
		fmt.Sprintf("s#%d..", MinAcceptedUsers),
		"lang:" + Language,
	}
	if tags := uniqueNonEmpty(q.Tags); len(tags) > 0 {
		parts := make([]string, 0, len(tags))
		for _, tag := range tags {
			parts = append(parts, "tag:"+tag)
		}
		clauses = append(clauses, "("+strings.Join(parts, "|")+")")
	}
	for _, handle := range uniqueNonEmpty(q.Handles) {
		clauses = append(clauses, "!s@"+handle)
	}
	return strings.Join(clauses, "+")
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
