package store

import (
	"context"
	"fmt"
	"time"

	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PayoutRepository определяет интерфейс для работы с выплатами
type PayoutRepository interface {
	UpsertMethod(ctx context.Context, method *models.PayoutMethod) error
	GetMethod(ctx context.Context, affiliateID int64) (*models.PayoutMethod, error)
	CreateRequest(ctx context.Context, request *models.PayoutRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.PayoutStatus, adminNote string) (bool, error)
	ListRequests(ctx context.Context, filter models.PayoutFilter) ([]*models.PayoutRequest, error)
}

// PostgresPayoutRepository реализует PayoutRepository для PostgreSQL
type PostgresPayoutRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPayoutRepository создает новый репозиторий выплат
func NewPayoutRepository(db *pgxpool.Pool, logger *zap.Logger) PayoutRepository {
	return &PostgresPayoutRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertMethod сохраняет реквизиты партнера для выплат
func (r *PostgresPayoutRepository) UpsertMethod(ctx context.Context, method *models.PayoutMethod) error {
	query := `
		INSERT INTO payout_methods (affiliate_id, type, details, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (affiliate_id) DO UPDATE
		SET type = EXCLUDED.type,
		    details = EXCLUDED.details,
		    updated_at = EXCLUDED.updated_at`

	method.UpdatedAt = time.Now()

	_, err := r.db.Exec(ctx, query,
		method.AffiliateID,
		method.Type,
		method.Details,
		method.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения платежного метода: %w", err)
	}

	r.logger.Info("платежный метод сохранен",
		zap.Int64("affiliate_id", method.AffiliateID),
		zap.String("type", string(method.Type)))

	return nil
}

// GetMethod получает реквизиты партнера для выплат
func (r *PostgresPayoutRepository) GetMethod(ctx context.Context, affiliateID int64) (*models.PayoutMethod, error) {
	query := `
		SELECT affiliate_id, type, details, updated_at
		FROM payout_methods
		WHERE affiliate_id = $1`

	method := &models.PayoutMethod{}
	err := r.db.QueryRow(ctx, query, affiliateID).Scan(
		&method.AffiliateID,
		&method.Type,
		&method.Details,
		&method.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("платежный метод", fmt.Sprintf("%d", affiliateID))
		}
		return nil, fmt.Errorf("ошибка получения платежного метода: %w", err)
	}

	return method, nil
}

// CreateRequest создает заявку на выплату. Проверка доступного баланса
// выполняется в той же транзакции под блокировкой строки партнера, чтобы
// конкурирующие заявки и конвертации не прошли по одному остатку.
// Частичный уникальный индекс гарантирует не более одной pending-заявки
// на партнера.
func (r *PostgresPayoutRepository) CreateRequest(ctx context.Context, request *models.PayoutRequest) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT id FROM affiliates WHERE id = $1 FOR UPDATE`
	var lockedID int64
	if err := tx.QueryRow(ctx, lockQuery, request.AffiliateID).Scan(&lockedID); err != nil {
		if err == pgx.ErrNoRows {
			return apperrors.NewNotFound("партнер", fmt.Sprintf("%d", request.AffiliateID))
		}
		return fmt.Errorf("ошибка блокировки партнера: %w", err)
	}

	availableQuery := `
		SELECT COALESCE(SUM(c.amount_cents) FILTER (WHERE c.status = 'available'), 0)
			- (SELECT COALESCE(SUM(pr.amount_cents), 0) FROM payout_requests pr
				WHERE pr.affiliate_id = $1 AND pr.status <> 'declined')
			- (SELECT COALESCE(SUM(cc.amount_cents), 0) FROM commission_conversions cc
				WHERE cc.affiliate_id = $1)
		FROM commissions c
		WHERE c.affiliate_id = $1`

	var available int64
	if err := tx.QueryRow(ctx, availableQuery, request.AffiliateID).Scan(&available); err != nil {
		return fmt.Errorf("ошибка расчета доступного баланса: %w", err)
	}

	if available < request.AmountCents {
		return apperrors.NewInsufficientBalance(request.AmountCents, available)
	}

	insertQuery := `
		INSERT INTO payout_requests (id, affiliate_id, amount_cents, status, admin_note, created_at)
		VALUES ($1, $2, $3, 'pending', '', $4)`

	request.Status = models.PayoutStatusPending
	request.CreatedAt = time.Now()

	if _, err := tx.Exec(ctx, insertQuery,
		request.ID,
		request.AffiliateID,
		request.AmountCents,
		request.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflict("у партнера уже есть необработанная заявка на выплату", string(models.PayoutStatusPending))
		}
		return fmt.Errorf("ошибка создания заявки на выплату: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("заявка на выплату создана",
		zap.String("request_id", request.ID.String()),
		zap.Int64("affiliate_id", request.AffiliateID),
		zap.Int64("amount_cents", request.AmountCents))

	return nil
}

// GetRequest получает заявку на выплату по ID
func (r *PostgresPayoutRepository) GetRequest(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	query := `
		SELECT id, affiliate_id, amount_cents, status, admin_note, created_at, processed_at
		FROM payout_requests
		WHERE id = $1`

	request := &models.PayoutRequest{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&request.ID,
		&request.AffiliateID,
		&request.AmountCents,
		&request.Status,
		&request.AdminNote,
		&request.CreatedAt,
		&request.ProcessedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("заявка на выплату", id.String())
		}
		return nil, fmt.Errorf("ошибка получения заявки на выплату: %w", err)
	}

	return request, nil
}

// TransitionRequest условно переводит заявку из статуса from в статус to.
// Возвращает false, если заявка уже не в статусе from: конкурирующий
// админский запрос обработал ее первым.
func (r *PostgresPayoutRepository) TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.PayoutStatus, adminNote string) (bool, error) {
	query := `
		UPDATE payout_requests
		SET status = $3, admin_note = $4, processed_at = $5
		WHERE id = $1 AND status = $2`

	result, err := r.db.Exec(ctx, query, id, from, to, adminNote, time.Now())
	if err != nil {
		return false, fmt.Errorf("ошибка перевода заявки на выплату: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListRequests получает заявки на выплату по фильтру
func (r *PostgresPayoutRepository) ListRequests(ctx context.Context, filter models.PayoutFilter) ([]*models.PayoutRequest, error) {
	query := `
		SELECT id, affiliate_id, amount_cents, status, admin_note, created_at, processed_at
		FROM payout_requests`

	args := []any{}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявок на выплату: %w", err)
	}
	defer rows.Close()

	var requests []*models.PayoutRequest
	for rows.Next() {
		request := &models.PayoutRequest{}
		err := rows.Scan(
			&request.ID,
			&request.AffiliateID,
			&request.AmountCents,
			&request.Status,
			&request.AdminNote,
			&request.CreatedAt,
			&request.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки на выплату: %w", err)
		}
		requests = append(requests, request)
	}

	return requests, nil
}
