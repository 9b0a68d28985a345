package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/metrics"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter отправляет операторские алерты в чат Telegram.
type Alerter struct {
	bot    sender
	chatID int64
}

var _ domain.Alerter = (*Alerter)(nil)

// NewAlerter подключается к Bot API.
func NewAlerter(token string, chatID int64) (*Alerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	return &Alerter{bot: bot, chatID: chatID}, nil
}

// Alert отправляет текст, при необходимости несколькими сообщениями.
func (a *Alerter) Alert(ctx context.Context, text string) error {
	for _, part := range splitText(text, messageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(a.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := a.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(a.chatID, 10), start, err)
		if err != nil {
			return fmt.Errorf("send alert: %w", err)
		}
	}
	return nil
}
