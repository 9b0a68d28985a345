package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/metrics"
)

// Message — тело сообщения в очереди писем. Почтовый воркер читает его как есть.
type Message struct {
	MessageID        string    `json:"message_id"`
	RecommendationID int64     `json:"recommendation_id"`
	UserID           int64     `json:"user_id"`
	To               string    `json:"to"`
	Subject          string    `json:"subject"`
	HTML             string    `json:"html"`
	Text             string    `json:"text"`
	CreatedAt        time.Time `json:"created_at"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher публикует письма в durable-очередь RabbitMQ и реализует domain.Notifier.
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    channel
	queue string
	now   func() time.Time
}

var _ domain.Notifier = (*Publisher)(nil)

// Dial подключается к брокеру и объявляет очередь.
func Dial(url, queue string) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &Publisher{conn: conn, ch: ch, queue: queue, now: time.Now}, nil
}

// Send кладёт письмо в очередь. Сообщения переживают перезапуск брокера.
func (p *Publisher) Send(ctx context.Context, n domain.Notification) error {
	msg := Message{
		MessageID:        uuid.NewString(),
		RecommendationID: n.RecommendationID,
		UserID:           n.UserID,
		To:               n.To,
		Subject:          n.Subject,
		HTML:             n.HTMLBody,
		Text:             n.TextBody,
		CreatedAt:        p.now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	start := time.Now()
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    msg.CreatedAt,
		Body:         body,
	})
	p.mu.Unlock()
	metrics.ObserveNetworkRequest("rabbitmq", "publish", p.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
