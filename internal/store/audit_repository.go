package store

import (
	"context"
	"fmt"
	"time"

	"partnerka/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresAuditRepository реализует AuditRepository для PostgreSQL
type PostgresAuditRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewAuditRepository создает новый репозиторий журнала безопасности
func NewAuditRepository(db *pgxpool.Pool, logger *zap.Logger) AuditRepository {
	return &PostgresAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Record добавляет запись в журнал безопасности
func (r *PostgresAuditRepository) Record(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (actor, action, entity_type, entity_id, old_value, new_value, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	entry.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		entry.Actor,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.OldValue,
		entry.NewValue,
		entry.Metadata,
		entry.CreatedAt,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("ошибка записи в журнал безопасности: %w", err)
	}

	return nil
}
