package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mission-recommender/internal/app"
	"mission-recommender/internal/infra/config"
	logpkg "mission-recommender/internal/infra/log"
	"mission-recommender/internal/infra/metrics"
	"mission-recommender/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := logpkg.Component(logpkg.NewLogger(cfg.AppEnv), "scheduler")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось собрать зависимости")
	}
	defer a.Close()

	metrics.StartServer(ctx, logpkg.Component(logger, "metrics"), cfg.MetricsAddr)

	generate := func(ctx context.Context) error {
		_, err := a.Generator.RunGenerationBatch(ctx)
		return err
	}
	deliver := func(ctx context.Context) error {
		_, err := a.Dispatcher.RunDeliveryBatch(ctx)
		return err
	}
	planner := schedule.NewService(a.Policy, a.Locker, cfg.Mission.DeliveryDelay, generate, deliver, logger)

	logger.Info().
		Int("reset_hour", a.Policy.ResetHour).
		Str("tz", a.Policy.Location.String()).
		Dur("delivery_delay", cfg.Mission.DeliveryDelay).
		Msg("scheduler: старт")
	planner.Run(ctx, time.Minute)
	logger.Info().Msg("scheduler: остановка")
}
