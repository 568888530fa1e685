package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Affiliate AffiliateConfig
	App       AppConfig
}

// DatabaseConfig содержит настройки PostgreSQL
type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
}

// RedisConfig содержит настройки Redis для кэша настроек
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig содержит настройки Kafka для исходящих уведомлений
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// AffiliateConfig содержит параметры партнерской программы.
// Ставка комиссии фиксирована и не настраивается.
type AffiliateConfig struct {
	HoldingPeriodDays int
	MinPayoutCents    int64
	SettingsCacheTTL  time.Duration
}

// AppConfig содержит общие настройки приложения
type AppConfig struct {
	Env               string
	LogLevel          string
	Port              int
	SchedulerInterval time.Duration
	WebhookSecret     string
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvIntDefault("REDIS_DB", 0)

	// Kafka
	cfg.Kafka.Enabled = getEnvBoolDefault("KAFKA_ENABLED", false)
	cfg.Kafka.Brokers = strings.Split(getEnvDefault("KAFKA_BROKERS", "localhost:9092"), ",")
	cfg.Kafka.Topic = getEnvDefault("KAFKA_TOPIC", "affiliate-events")

	// Affiliate
	cfg.Affiliate.HoldingPeriodDays = getEnvIntDefault("HOLDING_PERIOD_DAYS", 7)
	cfg.Affiliate.MinPayoutCents = int64(getEnvIntDefault("MIN_PAYOUT_CENTS", 0))
	cfg.Affiliate.SettingsCacheTTL = getEnvDurationDefault("SETTINGS_CACHE_TTL", 5*time.Minute)

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)
	cfg.App.SchedulerInterval = getEnvDurationDefault("SCHEDULER_INTERVAL", 15*time.Minute)
	cfg.App.WebhookSecret = os.Getenv("WEBHOOK_SECRET")

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}
	if config.Affiliate.HoldingPeriodDays < 0 {
		return fmt.Errorf("HOLDING_PERIOD_DAYS не может быть отрицательным")
	}
	if config.Affiliate.MinPayoutCents < 0 {
		return fmt.Errorf("MIN_PAYOUT_CENTS не может быть отрицательным")
	}
	if config.Kafka.Enabled && len(config.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS не установлен при включенной Kafka")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
