package main

import (
	"context"
	"flag"
	"log"
	"time"

	"partnerka/internal/config"
	"partnerka/internal/store"

	"go.uber.org/zap"
)

// Разовый запуск освобождения комиссий из холда. Используется для ручного
// прогона и в cron-окружениях без постоянно работающего сервиса.
func main() {
	dryRun := flag.Bool("dry-run", false, "Показать количество комиссий к освобождению без фактического перевода")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}

	db, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка подключения к базе данных", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	if *dryRun {
		count, err := db.Commission().CountReleasable(ctx, now)
		if err != nil {
			logger.Fatal("ошибка подсчета комиссий", zap.Error(err))
		}

		logger.Info("DRY RUN: комиссии к освобождению", zap.Int64("count", count))
		return
	}

	count, err := db.Commission().MarkAvailable(ctx, now)
	if err != nil {
		logger.Fatal("ошибка освобождения комиссий", zap.Error(err))
	}

	logger.Info("освобождение комиссий завершено", zap.Int64("count", count))
}
