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

// StoreCreditRepository определяет интерфейс для работы с внутренними счетами.
// Изменение баланса и запись в журнал транзакций выполняются одной
// транзакцией: либо происходит и то и другое, либо ничего.
type StoreCreditRepository interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	Credit(ctx context.Context, txn *models.StoreCreditTransaction) error
	Debit(ctx context.Context, txn *models.StoreCreditTransaction) error
	ConvertFromCommission(ctx context.Context, affiliateID int64, txn *models.StoreCreditTransaction) error
	ListTransactions(ctx context.Context, userID int64, limit int) ([]*models.StoreCreditTransaction, error)
}

// PostgresStoreCreditRepository реализует StoreCreditRepository для PostgreSQL
type PostgresStoreCreditRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewStoreCreditRepository создает новый репозиторий внутренних счетов
func NewStoreCreditRepository(db *pgxpool.Pool, logger *zap.Logger) StoreCreditRepository {
	return &PostgresStoreCreditRepository{
		db:     db,
		logger: logger,
	}
}

// GetBalance получает баланс пользователя. Отсутствие записи означает
// нулевой баланс, а не ошибку.
func (r *PostgresStoreCreditRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	query := `SELECT balance_cents FROM store_credit_balances WHERE user_id = $1`

	var balance int64
	err := r.db.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	return balance, nil
}

// Credit атомарно увеличивает баланс пользователя и записывает транзакцию.
// Запись баланса создается при первом пополнении.
func (r *PostgresStoreCreditRepository) Credit(ctx context.Context, txn *models.StoreCreditTransaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.creditInTx(ctx, tx, txn); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("баланс пополнен",
		zap.Int64("user_id", txn.UserID),
		zap.Int64("amount_cents", txn.AmountCents),
		zap.String("reason", txn.Reason))

	return nil
}

// creditInTx выполняет пополнение внутри существующей транзакции
func (r *PostgresStoreCreditRepository) creditInTx(ctx context.Context, tx pgx.Tx, txn *models.StoreCreditTransaction) error {
	upsertQuery := `
		INSERT INTO store_credit_balances (user_id, balance_cents, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET balance_cents = store_credit_balances.balance_cents + EXCLUDED.balance_cents,
		    updated_at = EXCLUDED.updated_at`

	now := time.Now()
	if _, err := tx.Exec(ctx, upsertQuery, txn.UserID, txn.AmountCents, now); err != nil {
		return fmt.Errorf("ошибка пополнения баланса: %w", err)
	}

	txn.Type = models.StoreCreditCredit
	txn.CreatedAt = now
	if err := insertCreditTransaction(ctx, tx, txn); err != nil {
		return err
	}

	return nil
}

// Debit атомарно списывает с баланса пользователя и записывает транзакцию.
// Проверка достаточности средств выполняется тем же условным UPDATE, что и
// само списание: два конкурирующих списания не могут пройти по одному остатку.
func (r *PostgresStoreCreditRepository) Debit(ctx context.Context, txn *models.StoreCreditTransaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	debitQuery := `
		UPDATE store_credit_balances
		SET balance_cents = balance_cents - $2, updated_at = $3
		WHERE user_id = $1 AND balance_cents >= $2`

	now := time.Now()
	result, err := tx.Exec(ctx, debitQuery, txn.UserID, txn.AmountCents, now)
	if err != nil {
		return fmt.Errorf("ошибка списания с баланса: %w", err)
	}

	if result.RowsAffected() == 0 {
		available, err := r.GetBalance(ctx, txn.UserID)
		if err != nil {
			return err
		}
		return apperrors.NewInsufficientBalance(txn.AmountCents, available)
	}

	txn.Type = models.StoreCreditDebit
	txn.CreatedAt = now
	if err := insertCreditTransaction(ctx, tx, txn); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("с баланса списано",
		zap.Int64("user_id", txn.UserID),
		zap.Int64("amount_cents", txn.AmountCents),
		zap.String("reason", txn.Reason))

	return nil
}

// ConvertFromCommission атомарно конвертирует доступные комиссии партнера
// в store credit: проверка доступного баланса, запись конвертации,
// пополнение счета и журнал — в одной транзакции. Строка партнера
// блокируется, чтобы конкурирующие конвертации и заявки на выплату
// не прошли по одному и тому же остатку.
func (r *PostgresStoreCreditRepository) ConvertFromCommission(ctx context.Context, affiliateID int64, txn *models.StoreCreditTransaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT id FROM affiliates WHERE id = $1 FOR UPDATE`
	var lockedID int64
	if err := tx.QueryRow(ctx, lockQuery, affiliateID).Scan(&lockedID); err != nil {
		if err == pgx.ErrNoRows {
			return apperrors.NewNotFound("партнер", fmt.Sprintf("%d", affiliateID))
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
	if err := tx.QueryRow(ctx, availableQuery, affiliateID).Scan(&available); err != nil {
		return fmt.Errorf("ошибка расчета доступного баланса: %w", err)
	}

	if available < txn.AmountCents {
		return apperrors.NewInsufficientBalance(txn.AmountCents, available)
	}

	conversionQuery := `
		INSERT INTO commission_conversions (id, affiliate_id, user_id, amount_cents, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	now := time.Now()
	if _, err := tx.Exec(ctx, conversionQuery, uuid.New(), affiliateID, txn.UserID, txn.AmountCents, now); err != nil {
		return fmt.Errorf("ошибка записи конвертации: %w", err)
	}

	if err := r.creditInTx(ctx, tx, txn); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("комиссия конвертирована в store credit",
		zap.Int64("affiliate_id", affiliateID),
		zap.Int64("user_id", txn.UserID),
		zap.Int64("amount_cents", txn.AmountCents))

	return nil
}

// insertCreditTransaction добавляет неизменяемую запись в журнал транзакций
func insertCreditTransaction(ctx context.Context, tx pgx.Tx, txn *models.StoreCreditTransaction) error {
	query := `
		INSERT INTO store_credit_transactions (id, user_id, type, amount_cents, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := tx.Exec(ctx, query,
		txn.ID,
		txn.UserID,
		txn.Type,
		txn.AmountCents,
		txn.Reason,
		txn.Metadata,
		txn.CreatedAt,
	); err != nil {
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}

	return nil
}

// ListTransactions получает транзакции пользователя
func (r *PostgresStoreCreditRepository) ListTransactions(ctx context.Context, userID int64, limit int) ([]*models.StoreCreditTransaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, type, amount_cents, reason, metadata, created_at
		FROM store_credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	defer rows.Close()

	var txns []*models.StoreCreditTransaction
	for rows.Next() {
		txn := &models.StoreCreditTransaction{}
		err := rows.Scan(
			&txn.ID,
			&txn.UserID,
			&txn.Type,
			&txn.AmountCents,
			&txn.Reason,
			&txn.Metadata,
			&txn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		txns = append(txns, txn)
	}

	return txns, nil
}
