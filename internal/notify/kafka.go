package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"partnerka/pkg/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Типы исходящих событий
const (
	EventCommissionEarned    = "commission.earned"
	EventPayoutStatusChanged = "payout.status_changed"
	EventHighRiskAlert       = "fraud.high_risk_alert"
)

// event представляет сообщение в топике уведомлений
type event struct {
	Type        string         `json:"type"`
	AffiliateID int64          `json:"affiliate_id"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// KafkaNotifier реализует Notifier поверх Kafka-топика.
// Потребители (email, админские алерты) живут за пределами этого сервиса.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaNotifier создает нотификатор поверх Kafka
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
	}

	return &KafkaNotifier{
		writer: writer,
		logger: logger,
	}
}

// Close закрывает продюсер Kafka
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// publish сериализует и отправляет событие в топик
func (n *KafkaNotifier) publish(ctx context.Context, e event) error {
	e.OccurredAt = time.Now()

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", e.AffiliateID)),
		Value: value,
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("ошибка отправки события в Kafka: %w", err)
	}

	n.logger.Debug("событие отправлено",
		zap.String("type", e.Type),
		zap.Int64("affiliate_id", e.AffiliateID))

	return nil
}

// CommissionEarned отправляет событие о начисленной комиссии
func (n *KafkaNotifier) CommissionEarned(ctx context.Context, commission *models.Commission) error {
	return n.publish(ctx, event{
		Type:        EventCommissionEarned,
		AffiliateID: commission.AffiliateID,
		Payload: map[string]any{
			"commission_id": commission.ID.String(),
			"source_id":     commission.SourceID,
			"source_type":   commission.SourceType,
			"amount_cents":  commission.AmountCents,
			"available_at":  commission.AvailableAt,
		},
	})
}

// PayoutStatusChanged отправляет событие о смене статуса выплаты
func (n *KafkaNotifier) PayoutStatusChanged(ctx context.Context, request *models.PayoutRequest, oldStatus models.PayoutStatus) error {
	return n.publish(ctx, event{
		Type:        EventPayoutStatusChanged,
		AffiliateID: request.AffiliateID,
		Payload: map[string]any{
			"request_id":   request.ID.String(),
			"amount_cents": request.AmountCents,
			"old_status":   oldStatus,
			"new_status":   request.Status,
		},
	})
}

// HighRiskAlert отправляет алерт о высоком уровне риска партнера
func (n *KafkaNotifier) HighRiskAlert(ctx context.Context, affiliateID int64, totalScore int) error {
	return n.publish(ctx, event{
		Type:        EventHighRiskAlert,
		AffiliateID: affiliateID,
		Payload: map[string]any{
			"total_score": totalScore,
		},
	})
}
