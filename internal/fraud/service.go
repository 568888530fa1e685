package fraud

import (
	"context"
	"fmt"

	"partnerka/internal/audit"
	"partnerka/internal/notify"
	"partnerka/internal/store"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Верхняя граница окна разового алерта: балл в [RiskThresholdHigh, alertWindowCeil)
// при входе в зону high вызывает уведомление. Одно крупное событие может
// перепрыгнуть окно целиком — тогда алерт не отправляется. Известное
// ограничение, оставлено как есть.
const alertWindowCeil = 50

// MetricsRecorder записывает метрики фрод-движка
type MetricsRecorder interface {
	RecordFraudEvent(eventType string, score int)
	RecordAffiliateFrozen(auto bool)
}

// Service представляет агрегатор фрод-баллов. Суммарный балл партнера
// всегда пересчитывается полностью из журнала событий, поэтому итог
// не зависит от порядка поступления событий.
type Service struct {
	fraudRepo     store.FraudRepository
	affiliateRepo store.AffiliateRepository
	notifier      notify.Notifier
	auditor       *audit.Auditor
	metrics       MetricsRecorder
	logger        *zap.Logger
}

// NewService создает новый агрегатор фрод-баллов
func NewService(fraudRepo store.FraudRepository, affiliateRepo store.AffiliateRepository, notifier notify.Notifier, auditor *audit.Auditor, metrics MetricsRecorder, logger *zap.Logger) *Service {
	return &Service{
		fraudRepo:     fraudRepo,
		affiliateRepo: affiliateRepo,
		notifier:      notifier,
		auditor:       auditor,
		metrics:       metrics,
		logger:        logger,
	}
}

// AddEvent добавляет фрод-событие и пересчитывает суммарный балл партнера.
// События не дедуплицируются: повторный вызов детектора по тому же сигналу
// добавляет новое событие. При пересечении порога заморозки партнер
// замораживается автоматически ровно один раз.
func (s *Service) AddEvent(ctx context.Context, affiliateID int64, eventType models.FraudEventType, score int, metadata models.Metadata, relatedUserID *int64, relatedSourceID *string) (*models.FraudEvent, error) {
	if score <= 0 {
		return nil, apperrors.NewValidation("score", "балл события должен быть положительным")
	}

	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения партнера: %w", err)
	}

	prevScore, err := s.fraudRepo.GetScore(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения текущего балла: %w", err)
	}

	event := &models.FraudEvent{
		ID:              uuid.New(),
		AffiliateID:     affiliateID,
		Type:            eventType,
		Score:           score,
		Metadata:        metadata,
		RelatedUserID:   relatedUserID,
		RelatedSourceID: relatedSourceID,
	}

	if err := s.fraudRepo.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("ошибка записи фрод-события: %w", err)
	}

	// Полный пересчет суммы вместо инкремента: итог не дрейфует и не
	// зависит от порядка конкурентных вставок
	total, err := s.fraudRepo.SumScores(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка пересчета фрод-балла: %w", err)
	}

	// Заморозка и сохранение балла — два отдельных запроса: сбой между
	// ними оставит risk_level устаревшим до следующего события, которое
	// пересчитает и перезапишет его
	frozen := affiliate.IsFrozen
	if total >= models.RiskThresholdFrozen && !frozen {
		if err := s.freeze(ctx, affiliate, true, "system"); err != nil {
			return nil, err
		}
		frozen = true
	}

	newScore := &models.FraudScore{
		AffiliateID: affiliateID,
		TotalScore:  total,
		RiskLevel:   models.RiskLevelForScore(total, frozen),
	}
	if err := s.fraudRepo.UpsertScore(ctx, newScore); err != nil {
		return nil, fmt.Errorf("ошибка сохранения фрод-балла: %w", err)
	}

	// Разовый алерт при входе в зону high: срабатывает только в узком окне
	// сразу за порогом. prevScore прочитан до вставки события, поэтому два
	// конкурентных события могут увидеть балл ниже порога и отправить алерт
	// дважды — доставка best-effort, дубликат допустим
	if prevScore.TotalScore < models.RiskThresholdHigh &&
		total >= models.RiskThresholdHigh && total < alertWindowCeil {
		if err := s.notifier.HighRiskAlert(ctx, affiliateID, total); err != nil {
			s.logger.Error("ошибка отправки алерта о высоком риске",
				zap.Error(err),
				zap.Int64("affiliate_id", affiliateID))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordFraudEvent(string(eventType), score)
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      "system",
		Action:     "fraud_event",
		EntityType: "affiliate",
		EntityID:   fmt.Sprintf("%d", affiliateID),
		NewValue:   fmt.Sprintf("%d", total),
		Metadata: models.Metadata{
			"event_type": string(eventType),
			"score":      score,
		},
	})

	s.logger.Info("фрод-событие обработано",
		zap.Int64("affiliate_id", affiliateID),
		zap.String("type", string(eventType)),
		zap.Int("score", score),
		zap.Int("total_score", total),
		zap.String("risk_level", string(newScore.RiskLevel)))

	return event, nil
}

// freeze выполняет фактическую заморозку уже загруженного партнера
func (s *Service) freeze(ctx context.Context, affiliate *models.Affiliate, auto bool, actor string) error {
	flipped, err := s.affiliateRepo.SetFrozen(ctx, affiliate.ID, true)
	if err != nil {
		return fmt.Errorf("ошибка заморозки партнера: %w", err)
	}
	if !flipped {
		// Конкурирующее событие уже заморозило партнера
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordAffiliateFrozen(auto)
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      actor,
		Action:     "affiliate_frozen",
		EntityType: "affiliate",
		EntityID:   fmt.Sprintf("%d", affiliate.ID),
		OldValue:   "active",
		NewValue:   "frozen",
		Metadata:   models.Metadata{"auto": auto},
	})

	s.logger.Warn("партнер заморожен",
		zap.Int64("affiliate_id", affiliate.ID),
		zap.Bool("auto", auto),
		zap.String("actor", actor))

	return nil
}

// FreezeAffiliate замораживает партнера вручную из админки. Заморозка
// блокирует вывод средств, но не начисление комиссий. Снять заморозку
// может только администратор.
func (s *Service) FreezeAffiliate(ctx context.Context, affiliateID int64, actor string) error {
	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err != nil {
		return fmt.Errorf("ошибка получения партнера: %w", err)
	}

	if affiliate.IsFrozen {
		return apperrors.NewConflict("партнер уже заморожен", "frozen")
	}

	if err := s.freeze(ctx, affiliate, false, actor); err != nil {
		return err
	}

	total, err := s.fraudRepo.SumScores(ctx, affiliateID)
	if err != nil {
		return fmt.Errorf("ошибка пересчета фрод-балла: %w", err)
	}

	return s.fraudRepo.UpsertScore(ctx, &models.FraudScore{
		AffiliateID: affiliateID,
		TotalScore:  total,
		RiskLevel:   models.RiskLevelFrozen,
	})
}

// UnfreezeAffiliate снимает заморозку партнера. Уровень риска
// пересчитывается из текущего балла, а не сбрасывается в low.
func (s *Service) UnfreezeAffiliate(ctx context.Context, affiliateID int64, actor string) error {
	flipped, err := s.affiliateRepo.SetFrozen(ctx, affiliateID, false)
	if err != nil {
		return fmt.Errorf("ошибка снятия заморозки: %w", err)
	}
	if !flipped {
		return apperrors.NewConflict("партнер не заморожен", "active")
	}

	total, err := s.fraudRepo.SumScores(ctx, affiliateID)
	if err != nil {
		return fmt.Errorf("ошибка пересчета фрод-балла: %w", err)
	}

	if err := s.fraudRepo.UpsertScore(ctx, &models.FraudScore{
		AffiliateID: affiliateID,
		TotalScore:  total,
		RiskLevel:   models.RiskLevelForScore(total, false),
	}); err != nil {
		return fmt.Errorf("ошибка сохранения фрод-балла: %w", err)
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      actor,
		Action:     "affiliate_unfrozen",
		EntityType: "affiliate",
		EntityID:   fmt.Sprintf("%d", affiliateID),
		OldValue:   "frozen",
		NewValue:   "active",
	})

	s.logger.Info("заморозка партнера снята",
		zap.Int64("affiliate_id", affiliateID),
		zap.String("actor", actor),
		zap.Int("total_score", total))

	return nil
}

// GetSummary получает сводку по фроду партнера для админки
func (s *Service) GetSummary(ctx context.Context, affiliateID int64) (*models.FraudSummary, error) {
	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения партнера: %w", err)
	}

	score, err := s.fraudRepo.GetScore(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения фрод-балла: %w", err)
	}

	events, err := s.fraudRepo.ListEvents(ctx, affiliateID, 20)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения фрод-событий: %w", err)
	}

	count, err := s.fraudRepo.CountEvents(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета фрод-событий: %w", err)
	}

	return &models.FraudSummary{
		Affiliate:    affiliate,
		Score:        score,
		RecentEvents: events,
		EventCount:   count,
	}, nil
}
