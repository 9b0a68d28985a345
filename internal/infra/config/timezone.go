package config

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

// LoadLocation загружает часовой пояс, допуская свободное написание («asia/seoul», «Asia Seoul»).
func LoadLocation(raw string) (*time.Location, error) {
	name, err := NormalizeTimezone(raw)
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(name)
}

// NormalizeTimezone приводит имя часового пояса к виду IANA.
func NormalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	parts := strings.Split(strings.ToLower(candidate), "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
