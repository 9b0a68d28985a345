package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryState — состояние доставки подборки.
type DeliveryState string

const (
	StatePending DeliveryState = "pending"
	StateSent    DeliveryState = "sent"
	StateFailed  DeliveryState = "failed"
)

// ParseDeliveryState разбирает состояние из строки хранилища.
func ParseDeliveryState(raw string) (DeliveryState, error) {
	switch DeliveryState(strings.ToLower(strings.TrimSpace(raw))) {
	case StatePending:
		return StatePending, nil
	case StateSent:
		return StateSent, nil
	case StateFailed:
		return StateFailed, nil
	}
	return "", fmt.Errorf("unknown delivery state %q", raw)
}

// Terminal сообщает, что из состояния нет переходов.
func (s DeliveryState) Terminal() bool {
	return s == StateSent || s == StateFailed
}

// CanTransition проверяет допустимость перехода. Разрешены только pending→sent и pending→failed.
func (s DeliveryState) CanTransition(to DeliveryState) bool {
	return s == StatePending && to.Terminal()
}

// MarkSent переводит подборку в sent и проставляет время доставки.
func (r *Recommendation) MarkSent(at time.Time) error {
	if !r.State.CanTransition(StateSent) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, StateSent)
	}
	sentAt := at.UTC()
	r.State = StateSent
	r.SentAt = &sentAt
	return nil
}

// MarkFailed переводит подборку в failed. Время доставки не проставляется.
func (r *Recommendation) MarkFailed(reason string) error {
	if !r.State.CanTransition(StateFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, StateFailed)
	}
	r.State = StateFailed
	r.FailureReason = reason
	return nil
}
