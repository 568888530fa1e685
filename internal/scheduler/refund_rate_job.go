package scheduler

import (
	"context"

	"partnerka/pkg/models"

	"go.uber.org/zap"
)

// AffiliateLister перечисляет партнеров для периодических проверок
type AffiliateLister interface {
	List(ctx context.Context, filter models.AffiliateFilter) ([]*models.Affiliate, error)
}

// RefundRateEvaluator проверяет долю возвратов партнера
type RefundRateEvaluator interface {
	EvaluateRefundRate(ctx context.Context, affiliateID int64) error
}

// RefundRateJob периодически прогоняет всех партнеров через детектор
// высокой доли возвратов
type RefundRateJob struct {
	affiliates AffiliateLister
	evaluator  RefundRateEvaluator
	batchSize  int
	logger     *zap.Logger
}

// NewRefundRateJob создает задачу проверки доли возвратов
func NewRefundRateJob(affiliates AffiliateLister, evaluator RefundRateEvaluator, logger *zap.Logger) *RefundRateJob {
	return &RefundRateJob{
		affiliates: affiliates,
		evaluator:  evaluator,
		batchSize:  500,
		logger:     logger,
	}
}

// Name возвращает имя задачи для логов планировщика
func (j *RefundRateJob) Name() string {
	return "refund_rate"
}

// Run обходит партнеров постранично и оценивает долю возвратов каждого.
// Сбой по одному партнеру не прерывает обход.
func (j *RefundRateJob) Run(ctx context.Context) error {
	offset := 0
	for {
		affiliates, err := j.affiliates.List(ctx, models.AffiliateFilter{
			Limit:  j.batchSize,
			Offset: offset,
		})
		if err != nil {
			return err
		}
		if len(affiliates) == 0 {
			return nil
		}

		for _, affiliate := range affiliates {
			if err := j.evaluator.EvaluateRefundRate(ctx, affiliate.ID); err != nil {
				j.logger.Error("ошибка оценки доли возвратов",
					zap.Error(err),
					zap.Int64("affiliate_id", affiliate.ID))
			}
		}

		if len(affiliates) < j.batchSize {
			return nil
		}
		offset += j.batchSize
	}
}
