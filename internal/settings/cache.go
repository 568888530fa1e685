package settings

import (
	"context"
	"strconv"
	"time"

	"partnerka/internal/store"
	"partnerka/pkg/apperrors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Ключи админских настроек
const (
	KeyHoldingPeriodDays = "holding_period_days"
	KeyMinPayoutCents    = "min_payout_cents"
)

const redisKeyPrefix = "settings:"

// Provider предоставляет настройки партнерской программы
type Provider interface {
	HoldingPeriodDays(ctx context.Context) int
	MinPayoutCents(ctx context.Context) int64
}

// Cache реализует сквозной кэш настроек с TTL поверх Redis.
// Значение читается из Redis, при промахе — из базы, при отсутствии в базе
// берется значение по умолчанию из конфигурации. Явная инвалидация
// выполняется при изменении настройки из админки.
type Cache struct {
	repo   store.SettingsRepository
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	defaultHoldingDays int
	defaultMinPayout   int64
}

// NewCache создает кэш настроек
func NewCache(repo store.SettingsRepository, rdb *redis.Client, ttl time.Duration, defaultHoldingDays int, defaultMinPayout int64, logger *zap.Logger) *Cache {
	return &Cache{
		repo:               repo,
		rdb:                rdb,
		ttl:                ttl,
		logger:             logger,
		defaultHoldingDays: defaultHoldingDays,
		defaultMinPayout:   defaultMinPayout,
	}
}

// get читает настройку сквозь кэш. Сбой Redis не фатален: значение
// читается напрямую из базы.
func (c *Cache) get(ctx context.Context, key string) (string, bool) {
	redisKey := redisKeyPrefix + key

	if c.rdb != nil {
		cached, err := c.rdb.Get(ctx, redisKey).Result()
		if err == nil {
			return cached, true
		}
		if err != redis.Nil {
			c.logger.Warn("ошибка чтения из кэша настроек", zap.Error(err), zap.String("key", key))
		}
	}

	value, err := c.repo.Get(ctx, key)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			c.logger.Error("ошибка чтения настройки из базы", zap.Error(err), zap.String("key", key))
		}
		return "", false
	}

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, redisKey, value, c.ttl).Err(); err != nil {
			c.logger.Warn("ошибка записи в кэш настроек", zap.Error(err), zap.String("key", key))
		}
	}

	return value, true
}

// HoldingPeriodDays возвращает длительность холда комиссий в днях
func (c *Cache) HoldingPeriodDays(ctx context.Context) int {
	value, ok := c.get(ctx, KeyHoldingPeriodDays)
	if !ok {
		return c.defaultHoldingDays
	}

	days, err := strconv.Atoi(value)
	if err != nil || days < 0 {
		c.logger.Warn("некорректное значение настройки холда", zap.String("value", value))
		return c.defaultHoldingDays
	}

	return days
}

// MinPayoutCents возвращает минимальную сумму заявки на выплату.
// Ноль означает, что ограничение отключено.
func (c *Cache) MinPayoutCents(ctx context.Context) int64 {
	value, ok := c.get(ctx, KeyMinPayoutCents)
	if !ok {
		return c.defaultMinPayout
	}

	cents, err := strconv.ParseInt(value, 10, 64)
	if err != nil || cents < 0 {
		c.logger.Warn("некорректное значение минимальной выплаты", zap.String("value", value))
		return c.defaultMinPayout
	}

	return cents
}

// Set сохраняет настройку в базе и инвалидирует кэш
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if err := c.repo.Set(ctx, key, value); err != nil {
		return err
	}

	c.Invalidate(ctx, key)
	return nil
}

// Invalidate явно сбрасывает закэшированное значение настройки
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c.rdb == nil {
		return
	}

	if err := c.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		c.logger.Warn("ошибка инвалидации кэша настроек", zap.Error(err), zap.String("key", key))
	}
}
