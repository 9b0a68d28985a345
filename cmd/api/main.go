package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mission-recommender/internal/adapters/httpapi"
	"mission-recommender/internal/app"
	"mission-recommender/internal/infra/config"
	httpinfra "mission-recommender/internal/infra/http"
	logpkg "mission-recommender/internal/infra/log"
	"mission-recommender/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := logpkg.Component(logpkg.NewLogger(cfg.AppEnv), "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось собрать зависимости")
	}
	defer a.Close()

	if cfg.TriggerToken == "" {
		logger.Warn().Msg("api: TRIGGER_TOKEN не задан, триггеры открыты")
	}

	srv := httpinfra.NewServer(logger)
	httpapi.NewHandler(a.Generator, a.Dispatcher, a.Repo, a.Ranking, a.Profiles, cfg.TriggerToken, logger).Register(srv.Router)

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
