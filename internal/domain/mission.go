package domain

import "time"

// DefaultResetHour — час, с которого начинается новый миссионный день.
const DefaultResetHour = 6

// MissionPolicy сопоставляет момент времени миссионному дню.
type MissionPolicy struct {
	ResetHour int
	Location  *time.Location
}

// NewMissionPolicy создаёт политику; nil-локация означает UTC.
func NewMissionPolicy(resetHour int, loc *time.Location) MissionPolicy {
	if loc == nil {
		loc = time.UTC
	}
	if resetHour < 0 || resetHour > 23 {
		resetHour = DefaultResetHour
	}
	return MissionPolicy{ResetHour: resetHour, Location: loc}
}

func (p MissionPolicy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// MissionDay возвращает дату (полночь в локации политики), к которой относится t.
// До часа сброса момент относится к предыдущему календарному дню.
func (p MissionPolicy) MissionDay(t time.Time) time.Time {
	local := t.In(p.location())
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.location())
	if local.Hour() < p.ResetHour {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// CycleStart возвращает начало текущего цикла: миссионный день в час сброса.
func (p MissionPolicy) CycleStart(now time.Time) time.Time {
	day := p.MissionDay(now)
	return time.Date(day.Year(), day.Month(), day.Day(), p.ResetHour, 0, 0, 0, p.location())
}

// NextCycleStart возвращает начало следующего цикла.
func (p MissionPolicy) NextCycleStart(now time.Time) time.Time {
	start := p.CycleStart(now)
	return time.Date(start.Year(), start.Month(), start.Day()+1, p.ResetHour, 0, 0, 0, p.location())
}

// Contains сообщает, относится ли t к указанному миссионному дню.
func (p MissionPolicy) Contains(day, t time.Time) bool {
	return SameDate(p.MissionDay(t), day)
}

// SameDate сравнивает календарные даты без учёта времени.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DayKey форматирует миссионный день для ключей и логов.
func DayKey(day time.Time) string {
	return day.Format("2006-01-02")
}
