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

// ReferralRepository определяет интерфейс для работы с рефералами
type ReferralRepository interface {
	Create(ctx context.Context, referral *models.Referral) error
	GetByReferredUserID(ctx context.Context, referredUserID int64) (*models.Referral, error)
	ListByAffiliateID(ctx context.Context, affiliateID int64, limit int) ([]*models.Referral, error)
	CountByAffiliateID(ctx context.Context, affiliateID int64) (int, error)
}

// PostgresReferralRepository реализует ReferralRepository для PostgreSQL
type PostgresReferralRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewReferralRepository создает новый репозиторий рефералов
func NewReferralRepository(db *pgxpool.Pool, logger *zap.Logger) ReferralRepository {
	return &PostgresReferralRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает новую реферальную связь. Уникальный индекс по referred_user_id
// гарантирует не более одного партнера на приглашенного пользователя.
func (r *PostgresReferralRepository) Create(ctx context.Context, referral *models.Referral) error {
	query := `
		INSERT INTO referrals (affiliate_id, referred_user_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	referral.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		referral.AffiliateID,
		referral.ReferredUserID,
		referral.CreatedAt,
	).Scan(&referral.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflict(
				fmt.Sprintf("пользователь %d уже привязан к партнеру", referral.ReferredUserID), "")
		}
		return fmt.Errorf("ошибка создания реферала: %w", err)
	}

	r.logger.Info("реферал создан",
		zap.Int64("referral_id", referral.ID),
		zap.Int64("affiliate_id", referral.AffiliateID),
		zap.Int64("referred_user_id", referral.ReferredUserID))

	return nil
}

// GetByReferredUserID получает реферальную связь по ID приглашенного пользователя
func (r *PostgresReferralRepository) GetByReferredUserID(ctx context.Context, referredUserID int64) (*models.Referral, error) {
	query := `
		SELECT id, affiliate_id, referred_user_id, created_at
		FROM referrals
		WHERE referred_user_id = $1`

	referral := &models.Referral{}
	err := r.db.QueryRow(ctx, query, referredUserID).Scan(
		&referral.ID,
		&referral.AffiliateID,
		&referral.ReferredUserID,
		&referral.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("реферал", fmt.Sprintf("%d", referredUserID))
		}
		return nil, fmt.Errorf("ошибка получения реферала: %w", err)
	}

	return referral, nil
}

// ListByAffiliateID получает рефералов партнера
func (r *PostgresReferralRepository) ListByAffiliateID(ctx context.Context, affiliateID int64, limit int) ([]*models.Referral, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, affiliate_id, referred_user_id, created_at
		FROM referrals
		WHERE affiliate_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, affiliateID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", err)
	}
	defer rows.Close()

	var referrals []*models.Referral
	for rows.Next() {
		referral := &models.Referral{}
		err := rows.Scan(
			&referral.ID,
			&referral.AffiliateID,
			&referral.ReferredUserID,
			&referral.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования реферала: %w", err)
		}
		referrals = append(referrals, referral)
	}

	return referrals, nil
}

// CountByAffiliateID подсчитывает количество рефералов партнера
func (r *PostgresReferralRepository) CountByAffiliateID(ctx context.Context, affiliateID int64) (int, error) {
	query := `SELECT COUNT(*) FROM referrals WHERE affiliate_id = $1`

	var count int
	err := r.db.QueryRow(ctx, query, affiliateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета рефералов: %w", err)
	}

	return count, nil
}
