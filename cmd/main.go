package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partnerka/internal/admin"
	"partnerka/internal/affiliate"
	"partnerka/internal/audit"
	"partnerka/internal/commission"
	"partnerka/internal/config"
	"partnerka/internal/fraud"
	"partnerka/internal/metrics"
	"partnerka/internal/migrations"
	"partnerka/internal/notify"
	"partnerka/internal/payout"
	"partnerka/internal/scheduler"
	"partnerka/internal/settings"
	"partnerka/internal/store"
	"partnerka/internal/storecredit"
	"partnerka/internal/webhook"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Инициализация логгера
	logger, err := initLogger()
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск сервиса партнерской программы")

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}

	// Инициализация базы данных
	db, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer db.Close()

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	// Инициализация Redis для кэша настроек. Недоступный Redis не фатален:
	// настройки читаются напрямую из базы.
	rdb := initRedis(cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	settingsCache := settings.NewCache(
		db.Settings(), rdb,
		cfg.Affiliate.SettingsCacheTTL,
		cfg.Affiliate.HoldingPeriodDays,
		cfg.Affiliate.MinPayoutCents,
		logger,
	)

	// Инициализация исходящих уведомлений
	var notifier notify.Notifier
	var kafkaNotifier *notify.KafkaNotifier
	if cfg.Kafka.Enabled {
		kafkaNotifier = notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		notifier = kafkaNotifier
		logger.Info("Kafka нотификатор инициализирован",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	// Инициализация журнала безопасности и метрик
	auditor := audit.New(db.Audit(), logger)
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, logger)

	// Инициализация сервисов
	affiliateService := affiliate.NewService(db.Affiliate(), db.Referral(), logger)
	commissionService := commission.NewService(db.Commission(), notifier, settingsCache, auditor, metricsSystem, logger)
	fraudService := fraud.NewService(db.Fraud(), db.Affiliate(), notifier, auditor, metricsSystem, logger)
	collectors := fraud.NewCollectors(fraudService, db.Fraud(), db.Affiliate(), db.Commission(), logger)
	storeCreditService := storecredit.NewService(db.StoreCredit(), db.Affiliate(), auditor, metricsSystem, logger)
	payoutService := payout.NewService(db.Payout(), db.Affiliate(), notifier, settingsCache, auditor, metricsSystem, logger)

	// Инициализация HTTP обработчиков
	webhookHandler := webhook.NewHandler(affiliateService, commissionService, collectors, cfg.App.WebhookSecret, logger)
	adminHandler := admin.NewHandler(affiliateService, commissionService, fraudService, payoutService, storeCreditService, settingsCache, logger)

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)
	taskScheduler.AddJob(scheduler.NewCommissionReleaseJob(commissionService, logger))
	taskScheduler.AddJob(scheduler.NewRefundRateJob(db.Affiliate(), collectors, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск HTTP сервера
	go startHTTPServer(ctx, cfg.App.Port, metricsHandler, webhookHandler, adminHandler, logger)

	// Запуск планировщика задач
	go taskScheduler.Start(ctx, cfg.App.SchedulerInterval)

	logger.Info("сервис запущен и готов к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
		zap.Duration("scheduler_interval", cfg.App.SchedulerInterval))

	// Ожидание сигнала завершения
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	cancel()

	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			logger.Error("ошибка закрытия Kafka нотификатора", zap.Error(err))
		}
	}

	logger.Info("сервис завершен")
}

// initLogger инициализирует логгер
func initLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "production" {
		return zap.NewProduction()
	}

	return zap.NewDevelopmentConfig().Build()
}

// initRedis подключается к Redis для кэша настроек
func initRedis(cfg *config.Config, logger *zap.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis недоступен, кэш настроек отключен", zap.Error(err))
		rdb.Close()
		return nil
	}

	logger.Info("подключение к Redis установлено", zap.String("addr", cfg.Redis.Addr))
	return rdb
}

// startHTTPServer запускает HTTP сервер: метрики, health-check, вебхуки
// магазина и админка
func startHTTPServer(ctx context.Context, port int, metricsHandler *metrics.Handler, webhookHandler *webhook.Handler, adminHandler *admin.Handler, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler.MetricsHandler())
	mux.HandleFunc("/health", metricsHandler.HealthHandler)
	mux.HandleFunc("/webhook/events", webhookHandler.HandleEvent)
	adminHandler.Register(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	logger.Info("HTTP сервер запущен", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("HTTP сервер остановлен")
}
