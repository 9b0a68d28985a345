package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	GenerationGroupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_batch_groups_total",
		Help: "Группы, обработанные пакетной генерацией, по исходу",
	}, []string{"outcome"})

	GenerationBatchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "generation_batch_seconds",
		Help:    "Время пакетной генерации подборок",
		Buckets: prometheus.DefBuckets,
	})

	DeliveryRecipientsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_recipients_total",
		Help: "Отправки получателям по статусу",
	}, []string{"status"})

	RecommendationTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recommendation_transitions_total",
		Help: "Переходы состояния подборок",
	}, []string{"state"})

	RateLimitRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_rejections_total",
		Help: "Отказы лимитера внешнего API",
	}, []string{"class"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NetworkRequestDuration,
		NetworkRequestTotal,
		GenerationGroupsTotal,
		GenerationBatchSeconds,
		DeliveryRecipientsTotal,
		RecommendationTransitionsTotal,
		RateLimitRejectionsTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncGenerationOutcome учитывает исход генерации для группы.
func IncGenerationOutcome(outcome string) {
	GenerationGroupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGenerationBatch записывает длительность пакетной генерации.
func ObserveGenerationBatch(start time.Time) {
	GenerationBatchSeconds.Observe(time.Since(start).Seconds())
}

// IncDeliveryRecipient учитывает отправку получателю.
func IncDeliveryRecipient(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	DeliveryRecipientsTotal.WithLabelValues(status).Inc()
}

// IncTransition учитывает переход подборки в состояние.
func IncTransition(state string) {
	RecommendationTransitionsTotal.WithLabelValues(state).Inc()
}

// IncRateLimitRejection учитывает отказ лимитера.
func IncRateLimitRejection(class string) {
	RateLimitRejectionsTotal.WithLabelValues(class).Inc()
}
