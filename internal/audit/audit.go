package audit

import (
	"context"

	"partnerka/internal/store"
	"partnerka/pkg/models"

	"go.uber.org/zap"
)

// Auditor пишет записи в журнал безопасности по принципу best-effort:
// сбой записи логируется и проглатывается, финансовая операция, которую
// запись сопровождает, никогда не откатывается.
type Auditor struct {
	repo   store.AuditRepository
	logger *zap.Logger
}

// New создает новый аудитор
func New(repo store.AuditRepository, logger *zap.Logger) *Auditor {
	return &Auditor{
		repo:   repo,
		logger: logger,
	}
}

// Record записывает событие в журнал безопасности
func (a *Auditor) Record(ctx context.Context, entry *models.AuditEntry) {
	if err := a.repo.Record(ctx, entry); err != nil {
		a.logger.Error("ошибка записи в журнал безопасности",
			zap.Error(err),
			zap.String("action", entry.Action),
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID))
	}
}
