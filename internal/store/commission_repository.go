package store

import (
	"context"
	"fmt"
	"time"

	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// CommissionRepository определяет интерфейс для работы с комиссиями.
// Все денежные мутации выполняются одной транзакцией вместе с изменением
// агрегата total_commission_lifetime_cents партнера.
type CommissionRepository interface {
	CreateWithLifetime(ctx context.Context, commission *models.Commission) error
	Reverse(ctx context.Context, sourceID string, sourceType models.SourceType) (*models.Commission, error)
	MarkAvailable(ctx context.Context, now time.Time) (int64, error)
	CountReleasable(ctx context.Context, now time.Time) (int64, error)
	GetBalances(ctx context.Context, affiliateID int64) (*models.CommissionBalances, error)
	GetAvailableBalance(ctx context.Context, affiliateID int64) (int64, error)
	ListByAffiliateID(ctx context.Context, affiliateID int64, limit int) ([]*models.Commission, error)
	RefundStats(ctx context.Context, affiliateID int64) (total int, reversed int, err error)
}

// PostgresCommissionRepository реализует CommissionRepository для PostgreSQL
type PostgresCommissionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewCommissionRepository создает новый репозиторий комиссий
func NewCommissionRepository(db *pgxpool.Pool, logger *zap.Logger) CommissionRepository {
	return &PostgresCommissionRepository{
		db:     db,
		logger: logger,
	}
}

// CreateWithLifetime создает комиссию и увеличивает накопительный итог партнера
// в одной транзакции: либо происходит и то и другое, либо ничего.
func (r *PostgresCommissionRepository) CreateWithLifetime(ctx context.Context, commission *models.Commission) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO commissions (id, affiliate_id, source_id, source_type, amount_cents, status, available_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = tx.Exec(ctx, insertQuery,
		commission.ID,
		commission.AffiliateID,
		commission.SourceID,
		commission.SourceType,
		commission.AmountCents,
		commission.Status,
		commission.AvailableAt,
		commission.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflict(
				fmt.Sprintf("комиссия по источнику %s уже существует", commission.SourceID), "")
		}
		return fmt.Errorf("ошибка создания комиссии: %w", err)
	}

	lifetimeQuery := `
		UPDATE affiliates
		SET total_commission_lifetime_cents = total_commission_lifetime_cents + $2
		WHERE id = $1`

	result, err := tx.Exec(ctx, lifetimeQuery, commission.AffiliateID, commission.AmountCents)
	if err != nil {
		return fmt.Errorf("ошибка обновления накопительного итога: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("партнер с ID %d не найден", commission.AffiliateID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("комиссия создана",
		zap.String("commission_id", commission.ID.String()),
		zap.Int64("affiliate_id", commission.AffiliateID),
		zap.String("source_id", commission.SourceID),
		zap.Int64("amount_cents", commission.AmountCents))

	return nil
}

// Reverse отменяет комиссию по источнику и уменьшает накопительный итог
// партнера в одной транзакции. Если активной комиссии по источнику нет,
// возвращает (nil, nil): повторная доставка уведомления о возврате ничего
// не меняет.
func (r *PostgresCommissionRepository) Reverse(ctx context.Context, sourceID string, sourceType models.SourceType) (*models.Commission, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	reverseQuery := `
		UPDATE commissions
		SET status = 'reversed'
		WHERE source_id = $1 AND source_type = $2 AND status IN ('pending', 'available')
		RETURNING id, affiliate_id, source_id, source_type, amount_cents, status, available_at, created_at`

	commission := &models.Commission{}
	err = tx.QueryRow(ctx, reverseQuery, sourceID, sourceType).Scan(
		&commission.ID,
		&commission.AffiliateID,
		&commission.SourceID,
		&commission.SourceType,
		&commission.AmountCents,
		&commission.Status,
		&commission.AvailableAt,
		&commission.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка отмены комиссии: %w", err)
	}

	lifetimeQuery := `
		UPDATE affiliates
		SET total_commission_lifetime_cents = total_commission_lifetime_cents - $2
		WHERE id = $1`

	if _, err := tx.Exec(ctx, lifetimeQuery, commission.AffiliateID, commission.AmountCents); err != nil {
		return nil, fmt.Errorf("ошибка уменьшения накопительного итога: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("комиссия отменена",
		zap.String("commission_id", commission.ID.String()),
		zap.Int64("affiliate_id", commission.AffiliateID),
		zap.String("source_id", sourceID),
		zap.Int64("amount_cents", commission.AmountCents))

	return commission, nil
}

// MarkAvailable переводит все комиссии с истекшим холдом в статус available.
// Фильтр по текущему статусу делает повторный запуск (пересекающиеся тики
// планировщика) безопасным.
func (r *PostgresCommissionRepository) MarkAvailable(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE commissions
		SET status = 'available'
		WHERE status = 'pending' AND available_at <= $1`

	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка перевода комиссий в available: %w", err)
	}

	count := result.RowsAffected()
	if count > 0 {
		r.logger.Info("комиссии переведены в available", zap.Int64("count", count))
	}

	return count, nil
}

// CountReleasable подсчитывает комиссии, готовые к переводу в available
func (r *PostgresCommissionRepository) CountReleasable(ctx context.Context, now time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM commissions WHERE status = 'pending' AND available_at <= $1`

	var count int64
	if err := r.db.QueryRow(ctx, query, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета комиссий к переводу: %w", err)
	}

	return count, nil
}

// GetBalances получает агрегированные балансы комиссий партнера.
// Доступный баланс уменьшается на суммы неотклоненных заявок на выплату
// и конвертаций в store credit.
func (r *PostgresCommissionRepository) GetBalances(ctx context.Context, affiliateID int64) (*models.CommissionBalances, error) {
	query := `
		SELECT
			COALESCE(SUM(c.amount_cents) FILTER (WHERE c.status = 'pending'), 0) AS pending_cents,
			COALESCE(SUM(c.amount_cents) FILTER (WHERE c.status = 'available'), 0)
				- (SELECT COALESCE(SUM(pr.amount_cents), 0) FROM payout_requests pr
					WHERE pr.affiliate_id = $1 AND pr.status <> 'declined')
				- (SELECT COALESCE(SUM(cc.amount_cents), 0) FROM commission_conversions cc
					WHERE cc.affiliate_id = $1) AS available_cents,
			(SELECT a.total_commission_lifetime_cents FROM affiliates a WHERE a.id = $1) AS lifetime_cents
		FROM commissions c
		WHERE c.affiliate_id = $1`

	balances := &models.CommissionBalances{AffiliateID: affiliateID}
	err := r.db.QueryRow(ctx, query, affiliateID).Scan(
		&balances.PendingCents,
		&balances.AvailableCents,
		&balances.LifetimeCents,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения балансов комиссий: %w", err)
	}

	return balances, nil
}

// GetAvailableBalance получает доступный для вывода баланс партнера
func (r *PostgresCommissionRepository) GetAvailableBalance(ctx context.Context, affiliateID int64) (int64, error) {
	balances, err := r.GetBalances(ctx, affiliateID)
	if err != nil {
		return 0, err
	}
	return balances.AvailableCents, nil
}

// ListByAffiliateID получает комиссии партнера
func (r *PostgresCommissionRepository) ListByAffiliateID(ctx context.Context, affiliateID int64, limit int) ([]*models.Commission, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, affiliate_id, source_id, source_type, amount_cents, status, available_at, created_at
		FROM commissions
		WHERE affiliate_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, affiliateID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения комиссий: %w", err)
	}
	defer rows.Close()

	var commissions []*models.Commission
	for rows.Next() {
		commission := &models.Commission{}
		err := rows.Scan(
			&commission.ID,
			&commission.AffiliateID,
			&commission.SourceID,
			&commission.SourceType,
			&commission.AmountCents,
			&commission.Status,
			&commission.AvailableAt,
			&commission.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования комиссии: %w", err)
		}
		commissions = append(commissions, commission)
	}

	return commissions, nil
}

// RefundStats подсчитывает комиссии по заказам партнера: всего и отмененных.
// Используется детектором доли возвратов.
func (r *PostgresCommissionRepository) RefundStats(ctx context.Context, affiliateID int64) (int, int, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'reversed')
		FROM commissions
		WHERE affiliate_id = $1 AND source_type = 'order'`

	var total, reversed int
	if err := r.db.QueryRow(ctx, query, affiliateID).Scan(&total, &reversed); err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчета статистики возвратов: %w", err)
	}

	return total, reversed, nil
}
