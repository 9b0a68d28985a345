package domain

import "errors"

var (
	// ErrNotFound возвращается, когда сущность не найдена локально или у внешнего источника.
	ErrNotFound = errors.New("not found")

	// ErrUpstream возвращается при ошибке транспорта, не-2xx ответе или битом теле внешнего API.
	ErrUpstream = errors.New("upstream error")

	// ErrRateLimited возвращается, когда лимитер отклонил вызов.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyGenerated сообщает, что плановая подборка за этот день уже существует.
	// Это не ошибка для вызывающих: вместе с ней возвращается существующая запись.
	ErrAlreadyGenerated = errors.New("recommendation already generated")

	// ErrGenerationFailed возвращается, когда генерация откатилась целиком.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrDeliveryFailed описывает неудачную отправку одному получателю.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrInvalidTransition возвращается при попытке недопустимого перехода состояния.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrEmptyGroup возвращается, если в группе нет участников.
	ErrEmptyGroup = errors.New("group has no members")
)
