package notify

import (
	"context"

	"partnerka/pkg/models"

	"go.uber.org/zap"
)

// Notifier определяет интерфейс исходящих уведомлений. Доставка всегда
// best-effort: вызывающая сторона не откатывает финансовую операцию
// при сбое уведомления.
type Notifier interface {
	CommissionEarned(ctx context.Context, commission *models.Commission) error
	PayoutStatusChanged(ctx context.Context, request *models.PayoutRequest, oldStatus models.PayoutStatus) error
	HighRiskAlert(ctx context.Context, affiliateID int64, totalScore int) error
}

// LogNotifier реализует Notifier через структурированный лог.
// Используется, когда Kafka отключена, и в тестах.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создает лог-нотификатор
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// CommissionEarned логирует уведомление о начисленной комиссии
func (n *LogNotifier) CommissionEarned(ctx context.Context, commission *models.Commission) error {
	n.logger.Info("уведомление: комиссия начислена",
		zap.Int64("affiliate_id", commission.AffiliateID),
		zap.String("source_id", commission.SourceID),
		zap.Int64("amount_cents", commission.AmountCents))
	return nil
}

// PayoutStatusChanged логирует уведомление о смене статуса выплаты
func (n *LogNotifier) PayoutStatusChanged(ctx context.Context, request *models.PayoutRequest, oldStatus models.PayoutStatus) error {
	n.logger.Info("уведомление: статус выплаты изменен",
		zap.String("request_id", request.ID.String()),
		zap.Int64("affiliate_id", request.AffiliateID),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(request.Status)))
	return nil
}

// HighRiskAlert логирует алерт о высоком уровне риска партнера
func (n *LogNotifier) HighRiskAlert(ctx context.Context, affiliateID int64, totalScore int) error {
	n.logger.Warn("уведомление: партнер перешел в зону высокого риска",
		zap.Int64("affiliate_id", affiliateID),
		zap.Int("total_score", totalScore))
	return nil
}
