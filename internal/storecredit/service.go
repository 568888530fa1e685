package storecredit

import (
	"context"
	"fmt"

	"partnerka/internal/audit"
	"partnerka/internal/store"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder записывает метрики операций по внутренним счетам
type MetricsRecorder interface {
	RecordStoreCreditOp(opType string, amountCents int64)
}

// Service представляет сервис внутренних счетов покупателей. Баланс
// никогда не уходит в минус: списание и проверка остатка выполняются
// одной условной операцией в репозитории.
type Service struct {
	creditRepo    store.StoreCreditRepository
	affiliateRepo store.AffiliateRepository
	auditor       *audit.Auditor
	metrics       MetricsRecorder
	logger        *zap.Logger
}

// NewService создает новый сервис внутренних счетов
func NewService(creditRepo store.StoreCreditRepository, affiliateRepo store.AffiliateRepository, auditor *audit.Auditor, metrics MetricsRecorder, logger *zap.Logger) *Service {
	return &Service{
		creditRepo:    creditRepo,
		affiliateRepo: affiliateRepo,
		auditor:       auditor,
		metrics:       metrics,
		logger:        logger,
	}
}

// GetBalance получает баланс внутреннего счета пользователя
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	balance, err := s.creditRepo.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	return balance, nil
}

// Credit пополняет внутренний счет пользователя. Причина обязательна:
// каждая запись журнала должна объяснять происхождение денег.
func (s *Service) Credit(ctx context.Context, userID int64, amountCents int64, reason string, metadata models.Metadata) (*models.StoreCreditTransaction, error) {
	if err := validateOperation(userID, amountCents, reason); err != nil {
		return nil, err
	}

	txn := &models.StoreCreditTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		AmountCents: amountCents,
		Reason:      reason,
		Metadata:    metadata,
	}

	if err := s.creditRepo.Credit(ctx, txn); err != nil {
		return nil, fmt.Errorf("ошибка пополнения счета: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordStoreCreditOp(string(models.StoreCreditCredit), amountCents)
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      "system",
		Action:     "store_credit_credit",
		EntityType: "user",
		EntityID:   fmt.Sprintf("%d", userID),
		NewValue:   fmt.Sprintf("%d", amountCents),
		Metadata:   models.Metadata{"reason": reason},
	})

	return txn, nil
}

// Debit списывает с внутреннего счета пользователя, например при оплате
// заказа. Недостаточный остаток возвращает типизированную ошибку с
// запрошенной и доступной суммами.
func (s *Service) Debit(ctx context.Context, userID int64, amountCents int64, reason string, metadata models.Metadata) (*models.StoreCreditTransaction, error) {
	if err := validateOperation(userID, amountCents, reason); err != nil {
		return nil, err
	}

	txn := &models.StoreCreditTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		AmountCents: amountCents,
		Reason:      reason,
		Metadata:    metadata,
	}

	if err := s.creditRepo.Debit(ctx, txn); err != nil {
		if apperrors.IsInsufficientBalance(err) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка списания со счета: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordStoreCreditOp(string(models.StoreCreditDebit), amountCents)
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      "system",
		Action:     "store_credit_debit",
		EntityType: "user",
		EntityID:   fmt.Sprintf("%d", userID),
		NewValue:   fmt.Sprintf("%d", amountCents),
		Metadata:   models.Metadata{"reason": reason},
	})

	return txn, nil
}

// ConvertCommissionToCredit конвертирует доступные комиссии партнера в store
// credit на счет владельца аккаунта. Альтернатива денежной выплате, тоже
// заблокирована для замороженных партнеров. Проверка доступного баланса,
// запись конвертации и пополнение счета атомарны.
func (s *Service) ConvertCommissionToCredit(ctx context.Context, affiliateID int64, amountCents int64) (*models.StoreCreditTransaction, error) {
	if amountCents <= 0 {
		return nil, apperrors.NewValidation("amount_cents", "сумма конвертации должна быть положительной")
	}

	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения партнера: %w", err)
	}

	if affiliate.IsFrozen {
		return nil, apperrors.NewFrozen(affiliateID)
	}

	txn := &models.StoreCreditTransaction{
		ID:          uuid.New(),
		UserID:      affiliate.OwnerUserID,
		AmountCents: amountCents,
		Reason:      "конвертация партнерской комиссии",
		Metadata:    models.Metadata{"affiliate_id": affiliateID},
	}

	if err := s.creditRepo.ConvertFromCommission(ctx, affiliateID, txn); err != nil {
		if apperrors.IsInsufficientBalance(err) || apperrors.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка конвертации комиссии: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordStoreCreditOp(string(models.StoreCreditCredit), amountCents)
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      "system",
		Action:     "commission_converted",
		EntityType: "affiliate",
		EntityID:   fmt.Sprintf("%d", affiliateID),
		NewValue:   fmt.Sprintf("%d", amountCents),
	})

	s.logger.Info("комиссия конвертирована в store credit",
		zap.Int64("affiliate_id", affiliateID),
		zap.Int64("user_id", affiliate.OwnerUserID),
		zap.Int64("amount_cents", amountCents))

	return txn, nil
}

// ListTransactions получает журнал операций по счету пользователя
func (s *Service) ListTransactions(ctx context.Context, userID int64, limit int) ([]*models.StoreCreditTransaction, error) {
	txns, err := s.creditRepo.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}

	return txns, nil
}

func validateOperation(userID int64, amountCents int64, reason string) error {
	if userID <= 0 {
		return apperrors.NewValidation("user_id", "не задан пользователь")
	}
	if amountCents <= 0 {
		return apperrors.NewValidation("amount_cents", "сумма операции должна быть положительной")
	}
	if reason == "" {
		return apperrors.NewValidation("reason", "не указана причина операции")
	}
	return nil
}
