package delivery

import (
	"fmt"
	"html"
	"strings"

	"mission-recommender/internal/domain"
)

// FormatNotification собирает письмо с подборкой для одного получателя.
// Задачи идут в сохранённом порядке.
func FormatNotification(rec domain.Recommendation, to domain.Member) domain.Notification {
	return domain.Notification{
		RecommendationID: rec.ID,
		UserID:           to.UserID,
		To:               strings.TrimSpace(to.Email),
		Subject:          formatSubject(rec),
		HTMLBody:         formatHTML(rec, to),
		TextBody:         formatText(rec, to),
	}
}

func formatSubject(rec domain.Recommendation) string {
	return fmt.Sprintf("[Миссия %s] %s", domain.DayKey(rec.MissionDay), problemsNoun(len(rec.Problems)))
}

func formatHTML(rec domain.Recommendation, to domain.Member) string {
	var b strings.Builder
	b.WriteString("<h2>🎯 Задачи дня " + domain.DayKey(rec.MissionDay) + "</h2>\n")
	if handle := strings.TrimSpace(to.Handle); handle != "" {
		b.WriteString("<p>Привет, <b>" + html.EscapeString(handle) + "</b>!</p>\n")
	}
	b.WriteString("<ol>\n")
	for _, p := range rec.Problems {
		tier := domain.TierForLevel(p.Level)
		fmt.Fprintf(&b, "<li><a href=\"%s\">%d. %s</a> <span style=\"color:%s\">%s</span></li>\n",
			html.EscapeString(p.URL()), p.ID, html.EscapeString(problemTitle(p)), tier.Color, html.EscapeString(tier.Name))
	}
	b.WriteString("</ol>")
	if rec.Kind == domain.GenerationManual {
		b.WriteString("\n<p><i>Внеплановая подборка</i></p>")
	}
	return b.String()
}

func formatText(rec domain.Recommendation, to domain.Member) string {
	lines := make([]string, 0, len(rec.Problems)+2)
	lines = append(lines, "Задачи дня "+domain.DayKey(rec.MissionDay))
	if handle := strings.TrimSpace(to.Handle); handle != "" {
		lines = append(lines, "Привет, "+handle+"!")
	}
	for idx, p := range rec.Problems {
		lines = append(lines, fmt.Sprintf("%d) %d. %s [%s] %s", idx+1, p.ID, problemTitle(p), domain.TierForLevel(p.Level).Name, p.URL()))
	}
	return strings.Join(lines, "\n")
}

func problemTitle(p domain.ProblemRef) string {
	if title := strings.TrimSpace(p.Title); title != "" {
		return title
	}
	return fmt.Sprintf("Задача %d", p.ID)
}

func problemsNoun(n int) string {
	mod10, mod100 := n%10, n%100
	switch {
	case mod10 == 1 && mod100 != 11:
		return fmt.Sprintf("%d задача", n)
	case mod10 >= 2 && mod10 <= 4 && (mod100 < 12 || mod100 > 14):
		return fmt.Sprintf("%d задачи", n)
	default:
		return fmt.Sprintf("%d задач", n)
	}
}
