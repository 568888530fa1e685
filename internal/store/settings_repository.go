package store

import (
	"context"
	"fmt"
	"time"

	"partnerka/pkg/apperrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSettingsRepository реализует SettingsRepository для PostgreSQL
type PostgresSettingsRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSettingsRepository создает новый репозиторий настроек
func NewSettingsRepository(db *pgxpool.Pool, logger *zap.Logger) SettingsRepository {
	return &PostgresSettingsRepository{
		db:     db,
		logger: logger,
	}
}

// Get получает значение настройки по ключу
func (r *PostgresSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM admin_settings WHERE key = $1`

	var value string
	err := r.db.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", apperrors.NewNotFound("настройка", key)
		}
		return "", fmt.Errorf("ошибка получения настройки: %w", err)
	}

	return value, nil
}

// Set сохраняет значение настройки одной атомарной операцией upsert
func (r *PostgresSettingsRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO admin_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	if _, err := r.db.Exec(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("ошибка сохранения настройки: %w", err)
	}

	r.logger.Info("настройка обновлена", zap.String("key", key), zap.String("value", value))
	return nil
}
