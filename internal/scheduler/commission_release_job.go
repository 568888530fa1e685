package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CommissionReleaser переводит комиссии с истекшим холдом в available
type CommissionReleaser interface {
	MarkAvailable(ctx context.Context, now time.Time) (int64, error)
}

// CommissionReleaseJob периодически освобождает комиссии из холда
type CommissionReleaseJob struct {
	commissions CommissionReleaser
	logger      *zap.Logger
}

// NewCommissionReleaseJob создает задачу освобождения комиссий
func NewCommissionReleaseJob(commissions CommissionReleaser, logger *zap.Logger) *CommissionReleaseJob {
	return &CommissionReleaseJob{
		commissions: commissions,
		logger:      logger,
	}
}

// Name возвращает имя задачи для логов планировщика
func (j *CommissionReleaseJob) Name() string {
	return "commission_release"
}

// Run переводит все комиссии с истекшим холдом в статус available.
// Повторный запуск при пересекающихся тиках безопасен.
func (j *CommissionReleaseJob) Run(ctx context.Context) error {
	count, err := j.commissions.MarkAvailable(ctx, time.Now())
	if err != nil {
		return err
	}

	if count > 0 {
		j.logger.Info("комиссии освобождены из холда", zap.Int64("count", count))
	}

	return nil
}
