package store

import (
	"context"
	"fmt"
	"time"

	"partnerka/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// FraudRepository определяет интерфейс для работы с фрод-данными:
// журнал событий, агрегированный балл и сырые сигналы (регистрации,
// платежные инструменты) для детекторов.
type FraudRepository interface {
	InsertEvent(ctx context.Context, event *models.FraudEvent) error
	SumScores(ctx context.Context, affiliateID int64) (int, error)
	UpsertScore(ctx context.Context, score *models.FraudScore) error
	GetScore(ctx context.Context, affiliateID int64) (*models.FraudScore, error)
	ListEvents(ctx context.Context, affiliateID int64, limit int) ([]*models.FraudEvent, error)
	CountEvents(ctx context.Context, affiliateID int64) (int, error)
	CreateSignup(ctx context.Context, signup *models.Signup) error
	CountSignupsByFingerprint(ctx context.Context, affiliateID int64, fingerprint string) (int, error)
	CountAffiliatesByFingerprint(ctx context.Context, fingerprint string) (int, error)
	EmailBaseReferred(ctx context.Context, emailBase string, excludeUserID int64) (bool, error)
	CreateOrderPayment(ctx context.Context, payment *models.OrderPayment) error
	CountInstrumentOtherUsers(ctx context.Context, fingerprint string, userID int64) (int, error)
	CountInstrumentAffiliates(ctx context.Context, fingerprint string) (int, error)
}

// PostgresFraudRepository реализует FraudRepository для PostgreSQL
type PostgresFraudRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewFraudRepository создает новый репозиторий фрод-данных
func NewFraudRepository(db *pgxpool.Pool, logger *zap.Logger) FraudRepository {
	return &PostgresFraudRepository{
		db:     db,
		logger: logger,
	}
}

// InsertEvent добавляет фрод-событие в журнал. Журнал только для добавления,
// дедупликации нет.
func (r *PostgresFraudRepository) InsertEvent(ctx context.Context, event *models.FraudEvent) error {
	query := `
		INSERT INTO fraud_events (id, affiliate_id, type, score, metadata, related_user_id, related_source_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	event.CreatedAt = time.Now()

	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.AffiliateID,
		event.Type,
		event.Score,
		event.Metadata,
		event.RelatedUserID,
		event.RelatedSourceID,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи фрод-события: %w", err)
	}

	r.logger.Info("фрод-событие записано",
		zap.String("event_id", event.ID.String()),
		zap.Int64("affiliate_id", event.AffiliateID),
		zap.String("type", string(event.Type)),
		zap.Int("score", event.Score))

	return nil
}

// SumScores пересчитывает суммарный балл партнера как сумму всех его событий.
// Полный пересчет вместо инкремента исключает дрейф агрегата и делает итог
// независимым от порядка вставки событий.
func (r *PostgresFraudRepository) SumScores(ctx context.Context, affiliateID int64) (int, error) {
	query := `SELECT COALESCE(SUM(score), 0) FROM fraud_events WHERE affiliate_id = $1`

	var total int
	if err := r.db.QueryRow(ctx, query, affiliateID).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка пересчета фрод-балла: %w", err)
	}

	return total, nil
}

// UpsertScore сохраняет агрегированный балл партнера одной атомарной
// операцией insert-if-absent-else-update.
func (r *PostgresFraudRepository) UpsertScore(ctx context.Context, score *models.FraudScore) error {
	query := `
		INSERT INTO fraud_scores (affiliate_id, total_score, risk_level, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (affiliate_id) DO UPDATE
		SET total_score = EXCLUDED.total_score,
		    risk_level = EXCLUDED.risk_level,
		    updated_at = EXCLUDED.updated_at`

	score.UpdatedAt = time.Now()

	_, err := r.db.Exec(ctx, query,
		score.AffiliateID,
		score.TotalScore,
		score.RiskLevel,
		score.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения фрод-балла: %w", err)
	}

	return nil
}

// GetScore получает агрегированный балл партнера. Отсутствие записи означает
// нулевой балл, а не ошибку.
func (r *PostgresFraudRepository) GetScore(ctx context.Context, affiliateID int64) (*models.FraudScore, error) {
	query := `
		SELECT affiliate_id, total_score, risk_level, updated_at
		FROM fraud_scores
		WHERE affiliate_id = $1`

	score := &models.FraudScore{}
	err := r.db.QueryRow(ctx, query, affiliateID).Scan(
		&score.AffiliateID,
		&score.TotalScore,
		&score.RiskLevel,
		&score.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return &models.FraudScore{
				AffiliateID: affiliateID,
				TotalScore:  0,
				RiskLevel:   models.RiskLevelLow,
			}, nil
		}
		return nil, fmt.Errorf("ошибка получения фрод-балла: %w", err)
	}

	return score, nil
}

// ListEvents получает последние фрод-события партнера
func (r *PostgresFraudRepository) ListEvents(ctx context.Context, affiliateID int64, limit int) ([]*models.FraudEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, affiliate_id, type, score, metadata, related_user_id, related_source_id, created_at
		FROM fraud_events
		WHERE affiliate_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, affiliateID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения фрод-событий: %w", err)
	}
	defer rows.Close()

	var events []*models.FraudEvent
	for rows.Next() {
		event := &models.FraudEvent{}
		err := rows.Scan(
			&event.ID,
			&event.AffiliateID,
			&event.Type,
			&event.Score,
			&event.Metadata,
			&event.RelatedUserID,
			&event.RelatedSourceID,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования фрод-события: %w", err)
		}
		events = append(events, event)
	}

	return events, nil
}

// CountEvents подсчитывает количество фрод-событий партнера
func (r *PostgresFraudRepository) CountEvents(ctx context.Context, affiliateID int64) (int, error) {
	query := `SELECT COUNT(*) FROM fraud_events WHERE affiliate_id = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, affiliateID).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета фрод-событий: %w", err)
	}

	return count, nil
}

// CreateSignup фиксирует регистрацию по партнерской ссылке
func (r *PostgresFraudRepository) CreateSignup(ctx context.Context, signup *models.Signup) error {
	query := `
		INSERT INTO signups (affiliate_id, referred_user_id, ip, user_agent, device_fingerprint, email, email_base, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	signup.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		signup.AffiliateID,
		signup.ReferredUserID,
		signup.IP,
		signup.UserAgent,
		signup.DeviceFingerprint,
		signup.Email,
		signup.EmailBase,
		signup.CreatedAt,
	).Scan(&signup.ID)

	if err != nil {
		return fmt.Errorf("ошибка записи регистрации: %w", err)
	}

	return nil
}

// CountSignupsByFingerprint подсчитывает регистрации с одним фингерпринтом
// устройства у одного партнера
func (r *PostgresFraudRepository) CountSignupsByFingerprint(ctx context.Context, affiliateID int64, fingerprint string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM signups
		WHERE affiliate_id = $1 AND device_fingerprint = $2 AND device_fingerprint <> ''`

	var count int
	if err := r.db.QueryRow(ctx, query, affiliateID, fingerprint).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета регистраций по фингерпринту: %w", err)
	}

	return count, nil
}

// CountAffiliatesByFingerprint подсчитывает, у скольких разных партнеров
// встречался фингерпринт устройства
func (r *PostgresFraudRepository) CountAffiliatesByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT affiliate_id)
		FROM signups
		WHERE device_fingerprint = $1 AND device_fingerprint <> ''`

	var count int
	if err := r.db.QueryRow(ctx, query, fingerprint).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета партнеров по фингерпринту: %w", err)
	}

	return count, nil
}

// EmailBaseReferred проверяет, была ли уже регистрация с тем же базовым
// адресом email (без алиасной части) другим пользователем
func (r *PostgresFraudRepository) EmailBaseReferred(ctx context.Context, emailBase string, excludeUserID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM signups
			WHERE email_base = $1 AND referred_user_id <> $2
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, emailBase, excludeUserID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки базового email: %w", err)
	}

	return exists, nil
}

// CreateOrderPayment фиксирует платежный инструмент заказа
func (r *PostgresFraudRepository) CreateOrderPayment(ctx context.Context, payment *models.OrderPayment) error {
	query := `
		INSERT INTO order_payments (source_id, user_id, affiliate_id, instrument_fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	payment.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		payment.SourceID,
		payment.UserID,
		payment.AffiliateID,
		payment.InstrumentFingerprint,
		payment.CreatedAt,
	).Scan(&payment.ID)

	if err != nil {
		return fmt.Errorf("ошибка записи платежного инструмента: %w", err)
	}

	return nil
}

// CountInstrumentOtherUsers подсчитывает, сколько других пользователей
// платили тем же инструментом
func (r *PostgresFraudRepository) CountInstrumentOtherUsers(ctx context.Context, fingerprint string, userID int64) (int, error) {
	query := `
		SELECT COUNT(DISTINCT user_id)
		FROM order_payments
		WHERE instrument_fingerprint = $1 AND user_id <> $2 AND instrument_fingerprint <> ''`

	var count int
	if err := r.db.QueryRow(ctx, query, fingerprint, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета пользователей инструмента: %w", err)
	}

	return count, nil
}

// CountInstrumentAffiliates подсчитывает, у скольких разных партнеров
// встречался платежный инструмент
func (r *PostgresFraudRepository) CountInstrumentAffiliates(ctx context.Context, fingerprint string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT affiliate_id)
		FROM order_payments
		WHERE instrument_fingerprint = $1 AND instrument_fingerprint <> ''`

	var count int
	if err := r.db.QueryRow(ctx, query, fingerprint).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета партнеров инструмента: %w", err)
	}

	return count, nil
}
