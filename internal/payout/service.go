package payout

import (
	"context"
	"fmt"

	"partnerka/internal/audit"
	"partnerka/internal/notify"
	"partnerka/internal/settings"
	"partnerka/internal/store"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder записывает метрики выплат
type MetricsRecorder interface {
	RecordPayoutTransition(toStatus string)
}

// Service представляет сервис выплат партнерам. Заявка проходит машину
// состояний pending -> approved|declined, approved -> paid; каждый переход
// выполняется условным обновлением и не может произойти дважды.
type Service struct {
	payoutRepo    store.PayoutRepository
	affiliateRepo store.AffiliateRepository
	notifier      notify.Notifier
	settings      settings.Provider
	auditor       *audit.Auditor
	metrics       MetricsRecorder
	logger        *zap.Logger
}

// NewService создает новый сервис выплат
func NewService(payoutRepo store.PayoutRepository, affiliateRepo store.AffiliateRepository, notifier notify.Notifier, settingsProvider settings.Provider, auditor *audit.Auditor, metrics MetricsRecorder, logger *zap.Logger) *Service {
	return &Service{
		payoutRepo:    payoutRepo,
		affiliateRepo: affiliateRepo,
		notifier:      notifier,
		settings:      settingsProvider,
		auditor:       auditor,
		metrics:       metrics,
		logger:        logger,
	}
}

// UpsertPayoutMethod сохраняет реквизиты партнера для выплат. Замороженный
// партнер не может менять реквизиты: типичный сценарий увода денег после
// компрометации аккаунта.
func (s *Service) UpsertPayoutMethod(ctx context.Context, affiliateID int64, methodType models.PayoutMethodType, details models.Metadata) (*models.PayoutMethod, error) {
	if !methodType.IsValid() {
		return nil, apperrors.NewValidation("type", fmt.Sprintf("неизвестный тип платежного метода: %s", methodType))
	}
	if len(details) == 0 {
		return nil, apperrors.NewValidation("details", "не заданы реквизиты")
	}

	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения партнера: %w", err)
	}
	if affiliate.IsFrozen {
		return nil, apperrors.NewFrozen(affiliateID)
	}

	method := &models.PayoutMethod{
		AffiliateID: affiliateID,
		Type:        methodType,
		Details:     details,
	}

	if err := s.payoutRepo.UpsertMethod(ctx, method); err != nil {
		return nil, fmt.Errorf("ошибка сохранения платежного метода: %w", err)
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      "system",
		Action:     "payout_method_upserted",
		EntityType: "affiliate",
		EntityID:   fmt.Sprintf("%d", affiliateID),
		NewValue:   string(methodType),
	})

	return method, nil
}

// GetPayoutMethod получает реквизиты партнера
func (s *Service) GetPayoutMethod(ctx context.Context, affiliateID int64) (*models.PayoutMethod, error) {
	return s.payoutRepo.GetMethod(ctx, affiliateID)
}

// CreatePayoutRequest создает заявку партнера на выплату. Проверки в порядке
// убывания строгости: заморозка, наличие реквизитов, валидность суммы,
// минимальный размер выплаты. Достаточность баланса и отсутствие другой
// необработанной заявки проверяются в репозитории атомарно.
func (s *Service) CreatePayoutRequest(ctx context.Context, affiliateID int64, amountCents int64) (*models.PayoutRequest, error) {
	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения партнера: %w", err)
	}
	if affiliate.IsFrozen {
		return nil, apperrors.NewFrozen(affiliateID)
	}

	if _, err := s.payoutRepo.GetMethod(ctx, affiliateID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewValidation("payout_method", "не заданы реквизиты для выплаты")
		}
		return nil, fmt.Errorf("ошибка получения платежного метода: %w", err)
	}

	if amountCents <= 0 {
		return nil, apperrors.NewValidation("amount_cents", "сумма выплаты должна быть положительной")
	}

	if minPayout := s.settings.MinPayoutCents(ctx); amountCents < minPayout {
		return nil, apperrors.NewValidation("amount_cents",
			fmt.Sprintf("сумма выплаты меньше минимальной: %d < %d", amountCents, minPayout))
	}

	request := &models.PayoutRequest{
		ID:          uuid.New(),
		AffiliateID: affiliateID,
		AmountCents: amountCents,
	}

	if err := s.payoutRepo.CreateRequest(ctx, request); err != nil {
		if apperrors.IsInsufficientBalance(err) || apperrors.IsConflict(err) || apperrors.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка создания заявки на выплату: %w", err)
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      "system",
		Action:     "payout_requested",
		EntityType: "payout_request",
		EntityID:   request.ID.String(),
		NewValue:   string(models.PayoutStatusPending),
		Metadata:   models.Metadata{"amount_cents": amountCents},
	})

	return request, nil
}

// ApproveRequest одобряет заявку на выплату
func (s *Service) ApproveRequest(ctx context.Context, id uuid.UUID, actor, note string) (*models.PayoutRequest, error) {
	return s.transition(ctx, id, models.PayoutStatusPending, models.PayoutStatusApproved, actor, note)
}

// DeclineRequest отклоняет заявку на выплату. Зарезервированная сумма
// возвращается в доступный баланс: отклоненные заявки не участвуют
// в расчете остатка.
func (s *Service) DeclineRequest(ctx context.Context, id uuid.UUID, actor, note string) (*models.PayoutRequest, error) {
	return s.transition(ctx, id, models.PayoutStatusPending, models.PayoutStatusDeclined, actor, note)
}

// MarkPaid помечает одобренную заявку как выплаченную после фактического
// перевода денег
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, actor, note string) (*models.PayoutRequest, error) {
	return s.transition(ctx, id, models.PayoutStatusApproved, models.PayoutStatusPaid, actor, note)
}

// transition условно переводит заявку между статусами. Если заявка уже не
// в ожидаемом статусе, возвращается конфликт с фактическим статусом:
// конкурирующий админ успел первым либо переход недопустим.
func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to models.PayoutStatus, actor, note string) (*models.PayoutRequest, error) {
	if !from.CanTransitionTo(to) {
		return nil, apperrors.NewConflict(
			fmt.Sprintf("недопустимый переход %s -> %s", from, to), string(from))
	}

	ok, err := s.payoutRepo.TransitionRequest(ctx, id, from, to, note)
	if err != nil {
		return nil, fmt.Errorf("ошибка перевода заявки: %w", err)
	}

	if !ok {
		current, err := s.payoutRepo.GetRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewConflict(
			fmt.Sprintf("заявка %s не в статусе %s", id, from), string(current.Status))
	}

	request, err := s.payoutRepo.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordPayoutTransition(string(to))
	}

	s.auditor.Record(ctx, &models.AuditEntry{
		Actor:      actor,
		Action:     "payout_transition",
		EntityType: "payout_request",
		EntityID:   id.String(),
		OldValue:   string(from),
		NewValue:   string(to),
		Metadata:   models.Metadata{"note": note},
	})

	// Уведомление best-effort: сбой не откатывает переход
	if err := s.notifier.PayoutStatusChanged(ctx, request, from); err != nil {
		s.logger.Error("ошибка отправки уведомления о выплате",
			zap.Error(err),
			zap.String("request_id", id.String()))
	}

	s.logger.Info("заявка на выплату переведена",
		zap.String("request_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))

	return request, nil
}

// GetRequest получает заявку на выплату
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	return s.payoutRepo.GetRequest(ctx, id)
}

// ListRequests получает заявки на выплату для админки
func (s *Service) ListRequests(ctx context.Context, filter models.PayoutFilter) ([]*models.PayoutRequest, error) {
	requests, err := s.payoutRepo.ListRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявок: %w", err)
	}

	return requests, nil
}
