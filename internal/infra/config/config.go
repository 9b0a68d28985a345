package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Asia/Seoul"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	SolvedAC struct {
		BaseURL string        `envconfig:"SOLVEDAC_BASE_URL" default:"https://solved.ac/api/v3"`
		Timeout time.Duration `envconfig:"SOLVEDAC_TIMEOUT" default:"10s"`
		RPS     float64       `envconfig:"SOLVEDAC_RPS" default:"2"`
		Burst   int           `envconfig:"SOLVEDAC_BURST" default:"4"`
		MaxWait time.Duration `envconfig:"SOLVEDAC_MAX_WAIT" default:"5s"`
	} `envconfig:""`

	Mission struct {
		ResetHour     int           `envconfig:"MISSION_RESET_HOUR" default:"6"`
		DeliveryDelay time.Duration `envconfig:"DELIVERY_DELAY" default:"1h"`
	} `envconfig:""`

	Generation struct {
		Workers      int `envconfig:"GENERATION_WORKERS" default:"4"`
		DefaultCount int `envconfig:"DEFAULT_PROBLEM_COUNT" default:"3"`
	} `envconfig:""`

	Delivery struct {
		Workers         int     `envconfig:"DELIVERY_WORKERS" default:"8"`
		MaxAttempts     int     `envconfig:"DELIVERY_MAX_ATTEMPTS" default:"3"`
		MinSuccessRatio float64 `envconfig:"DELIVERY_MIN_SUCCESS_RATIO" default:"0"`
	} `envconfig:""`

	Queues struct {
		Mail string `envconfig:"MAIL_QUEUE" default:"mission_mail"`
	} `envconfig:""`

	Alerts struct {
		TelegramToken string `envconfig:"ALERT_TG_TOKEN"`
		ChatID        int64  `envconfig:"ALERT_TG_CHAT_ID"`
	} `envconfig:""`

	TriggerToken string `envconfig:"TRIGGER_TOKEN"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
