package telegram

import "strings"

// messageLimit — ограничение Telegram на длину сообщения в символах.
const messageLimit = 4096

// splitText режет текст на части не длиннее limit символов, стараясь резать по строкам.
// Строка длиннее limit режется по символам.
func splitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = messageLimit
	}

	var (
		parts []string
		cur   []rune
	)
	flush := func() {
		if chunk := strings.Trim(string(cur), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			flush()
			parts = append(parts, string(runes[:limit]))
			runes = runes[limit:]
		}
		need := len(runes)
		if len(cur) > 0 {
			need++
		}
		if len(cur)+need > limit {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		cur = append(cur, runes...)
	}
	flush()
	return parts
}
