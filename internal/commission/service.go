package commission

import (
	"context"
	"fmt"
	"time"

	"partnerka/internal/audit"
	"partnerka/internal/notify"
	"partnerka/internal/settings"
	"partnerka/internal/store"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommissionRatePercent — фиксированная ставка комиссии партнера
const CommissionRatePercent = 10

// MetricsRecorder записывает метрики операций с комиссиями
type MetricsRecorder interface {
	RecordCommissionCreated(sourceType string, amountCents int64)
	RecordCommissionReversed(sourceType string)
	RecordCommissionsReleased(count int64)
}

// Service представляет сервис учета комиссий
type Service struct {
	commissionRepo store.CommissionRepository
	notifier       notify.Notifier
	settings       settings.Provider
	auditor        *audit.Auditor
	metrics        MetricsRecorder
	logger         *zap.Logger
}

// NewService создает новый сервис комиссий
func NewService(commissionRepo store.CommissionRepository, notifier notify.Notifier, settingsProvider settings.Provider, auditor *audit.Auditor, metrics MetricsRecorder, logger *zap.Logger) *Service {
	return &Service{
		commissionRepo: commissionRepo,
		notifier:       notifier,
		settings:       settingsProvider,
		auditor:        auditor,
		metrics:        metrics,
		logger:         logger,
	}
}

// CalculateCommission вычисляет комиссию с суммы источника: 10% с банковским
// округлением половины к четному. База 5 центов дает 0 — комиссия
// не начисляется.
func CalculateCommission(baseAmountCents int64) int64 {
	quotient := baseAmountCents / 10
	remainder := baseAmountCents % 10

	switch {
	case remainder > 5:
		quotient++
	case remainder == 5 && quotient%2 != 0:
		quotient++
	}

	return quotient
}

// CreateCommission начисляет комиссию за завершенный заказ или пополнение.
// Нулевая расчетная комиссия — тихий пропуск, а не ошибка. Вставка комиссии
// и увеличение накопительного итога партнера выполняются одной транзакцией.
// Повторная доставка вебхука по тому же источнику не создает дубликат.
// Замороженные партнеры продолжают зарабатывать: заморозка блокирует только
// вывод средств.
func (s *Service) CreateCommission(ctx context.Context, affiliateID int64, sourceID string, sourceType models.SourceType, baseAmountCents int64) (*models.Commission, error) {
	if sourceID == "" {
		return nil, apperrors.NewValidation("source_id", "не задан источник комиссии")
	}
	if !sourceType.IsValid() {
		return nil, apperrors.NewValidation("source_type", fmt.Sprintf("неизвестный тип источника: %s", sourceType))
	}
	if baseAmountCents <= 0 {
		return nil, apperrors.NewValidation("base_amount_cents", "сумма источника должна быть положительной")
	}

	amount := CalculateCommission(baseAmountCents)
	if amount <= 0 {
		s.logger.Debug("расчетная комиссия нулевая, начисление пропущено",
			zap.Int64("affiliate_id", affiliateID),
			zap.String("source_id", sourceID),
			zap.Int64("base_amount_cents", baseAmountCents))
		return nil, nil
	}

	holdingDays := s.settings.HoldingPeriodDays(ctx)
	now := time.Now()

	commission := &models.Commission{
		ID:          uuid.New(),
		AffiliateID: affiliateID,
		SourceID:    sourceID,
		SourceType:  sourceType,
		AmountCents: amount,
		Status:      models.CommissionStatusPending,
		AvailableAt: now.AddDate(0, 0, holdingDays),
		CreatedAt:   now,
	}

	if err := s.commissionRepo.CreateWithLifetime(ctx, commission); err != nil {
		if apperrors.IsConflict(err) {
			// Повторная доставка вебхука по уже обработанному источнику
			s.logger.Warn("комиссия по источнику уже существует, дубликат пропущен",
				zap.String("source_id", sourceID),
				zap.String("source_type", string(sourceType)))
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка начисления комиссии: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordCommissionCreated(string(sourceType), amount)
	}

	// Уведомление best-effort: сбой не откатывает начисление
	if err := s.notifier.CommissionEarned(ctx, commission); err != nil {
		s.logger.Error("ошибка отправки уведомления о комиссии",
			zap.Error(err),
			zap.String("commission_id", commission.ID.String()))
	}

	return commission, nil
}

// ReverseCommission отменяет комиссию по возврату или чарджбеку источника.
// Операция идемпотентна: уведомления о возврате доставляются минимум один
// раз, повторный вызов не находит активной комиссии и ничего не меняет.
func (s *Service) ReverseCommission(ctx context.Context, sourceID string, sourceType models.SourceType) (*models.Commission, error) {
	if sourceID == "" {
		return nil, apperrors.NewValidation("source_id", "не задан источник комиссии")
	}
	if !sourceType.IsValid() {
		return nil, apperrors.NewValidation("source_type", fmt.Sprintf("неизвестный тип источника: %s", sourceType))
	}

	commission, err := s.commissionRepo.Reverse(ctx, sourceID, sourceType)
	if err != nil {
		return nil, fmt.Errorf("ошибка отмены комиссии: %w", err)
	}

	if commission == nil {
		s.logger.Info("активная комиссия по источнику не найдена, отмена пропущена",
			zap.String("source_id", sourceID),
			zap.String("source_type", string(sourceType)))
		return nil, nil
	}

	if s.metrics != nil {
		s.metrics.RecordCommissionReversed(string(sourceType))
	}

	return commission, nil
}

// MarkAvailable переводит комиссии с истекшим холдом в статус available.
// Повторный запуск при пересекающихся тиках планировщика безопасен.
func (s *Service) MarkAvailable(ctx context.Context, now time.Time) (int64, error) {
	count, err := s.commissionRepo.MarkAvailable(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка перевода комиссий в available: %w", err)
	}

	if count > 0 && s.metrics != nil {
		s.metrics.RecordCommissionsReleased(count)
	}

	return count, nil
}

// ForceRelease принудительно освобождает комиссии с истекшим холдом по
// запросу администратора, не дожидаясь тика планировщика. В отличие от
// планового запуска операция попадает в журнал безопасности с именем
// инициатора.
func (s *Service) ForceRelease(ctx context.Context, actor string) (int64, error) {
	count, err := s.MarkAvailable(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      actor,
		Action:     "commissions_force_released",
		EntityType: "commission",
		EntityID:   "batch",
		NewValue:   fmt.Sprintf("%d", count),
	})

	s.logger.Info("принудительное освобождение комиссий",
		zap.String("actor", actor),
		zap.Int64("count", count))

	return count, nil
}

// GetBalances получает балансы комиссий партнера
func (s *Service) GetBalances(ctx context.Context, affiliateID int64) (*models.CommissionBalances, error) {
	balances, err := s.commissionRepo.GetBalances(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения балансов: %w", err)
	}

	return balances, nil
}

// ListCommissions получает комиссии партнера для админки
func (s *Service) ListCommissions(ctx context.Context, affiliateID int64, limit int) ([]*models.Commission, error) {
	commissions, err := s.commissionRepo.ListByAffiliateID(ctx, affiliateID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения комиссий: %w", err)
	}

	return commissions, nil
}
