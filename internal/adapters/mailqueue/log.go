package mailqueue

import (
	"context"

	"github.com/rs/zerolog"

	"mission-recommender/internal/domain"
)

// LogNotifier пишет письма в лог. Используется, когда RABBIT_URL не задан.
type LogNotifier struct {
	log zerolog.Logger
}

var _ domain.Notifier = LogNotifier{}

// NewLogNotifier создаёт уведомитель для локального запуска.
func NewLogNotifier(logger zerolog.Logger) LogNotifier {
	return LogNotifier{log: logger}
}

func (l LogNotifier) Send(_ context.Context, n domain.Notification) error {
	l.log.Info().
		Int64("recommendation", n.RecommendationID).
		Int64("user", n.UserID).
		Str("to", n.To).
		Str("subject", n.Subject).
		Msg("mail: письмо не отправлено, очередь не настроена")
	return nil
}
