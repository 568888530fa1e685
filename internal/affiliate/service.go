package affiliate

import (
	"context"
	"crypto/rand"
	"fmt"

	"partnerka/internal/store"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"go.uber.org/zap"
)

// Длина реферального кода и алфавит без визуально похожих символов
const (
	referralCodeLength   = 8
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	createAttempts       = 3
)

// Service представляет реестр партнеров и реферальных связей
type Service struct {
	affiliateRepo store.AffiliateRepository
	referralRepo  store.ReferralRepository
	logger        *zap.Logger
}

// NewService создает новый сервис партнеров
func NewService(affiliateRepo store.AffiliateRepository, referralRepo store.ReferralRepository, logger *zap.Logger) *Service {
	return &Service{
		affiliateRepo: affiliateRepo,
		referralRepo:  referralRepo,
		logger:        logger,
	}
}

// CreateAffiliate регистрирует пользователя как партнера и выдает ему
// реферальный код. У пользователя может быть только один партнерский аккаунт.
// Коллизия сгенерированного кода разрешается повторной генерацией.
func (s *Service) CreateAffiliate(ctx context.Context, ownerUserID int64) (*models.Affiliate, error) {
	if ownerUserID <= 0 {
		return nil, apperrors.NewValidation("owner_user_id", "не задан пользователь-владелец")
	}

	if _, err := s.affiliateRepo.GetByOwnerUserID(ctx, ownerUserID); err == nil {
		return nil, apperrors.NewConflict(
			fmt.Sprintf("у пользователя %d уже есть партнерский аккаунт", ownerUserID), "")
	} else if !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("ошибка проверки владельца: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, fmt.Errorf("ошибка генерации реферального кода: %w", err)
		}

		affiliate := &models.Affiliate{
			OwnerUserID:  ownerUserID,
			ReferralCode: code,
		}

		if err := s.affiliateRepo.Create(ctx, affiliate); err != nil {
			if apperrors.IsConflict(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("ошибка создания партнера: %w", err)
		}

		return affiliate, nil
	}

	return nil, fmt.Errorf("не удалось создать партнера: %w", lastErr)
}

// GetAffiliate получает партнера по ID
func (s *Service) GetAffiliate(ctx context.Context, id int64) (*models.Affiliate, error) {
	return s.affiliateRepo.GetByID(ctx, id)
}

// GetAffiliateByOwner получает партнера по пользователю-владельцу
func (s *Service) GetAffiliateByOwner(ctx context.Context, ownerUserID int64) (*models.Affiliate, error) {
	return s.affiliateRepo.GetByOwnerUserID(ctx, ownerUserID)
}

// RegisterReferral привязывает нового пользователя к партнеру по реферальному
// коду. Привязка возможна только один раз и никогда не перезаписывается:
// атрибуция первого касания. Регистрация по собственному коду не отклоняется
// здесь, ее помечает фрод-детектор.
func (s *Service) RegisterReferral(ctx context.Context, referralCode string, referredUserID int64) (*models.Referral, error) {
	if referralCode == "" {
		return nil, apperrors.NewValidation("referral_code", "не задан реферальный код")
	}
	if referredUserID <= 0 {
		return nil, apperrors.NewValidation("referred_user_id", "не задан приглашенный пользователь")
	}

	affiliate, err := s.affiliateRepo.GetByReferralCode(ctx, referralCode)
	if err != nil {
		return nil, err
	}

	referral := &models.Referral{
		AffiliateID:    affiliate.ID,
		ReferredUserID: referredUserID,
	}

	if err := s.referralRepo.Create(ctx, referral); err != nil {
		return nil, err
	}

	s.logger.Info("реферал зарегистрирован",
		zap.Int64("affiliate_id", affiliate.ID),
		zap.Int64("referred_user_id", referredUserID))

	return referral, nil
}

// GetReferrer получает партнера, пригласившего пользователя. Используется
// вебхуками заказов для определения получателя комиссии.
func (s *Service) GetReferrer(ctx context.Context, referredUserID int64) (*models.Affiliate, error) {
	referral, err := s.referralRepo.GetByReferredUserID(ctx, referredUserID)
	if err != nil {
		return nil, err
	}

	return s.affiliateRepo.GetByID(ctx, referral.AffiliateID)
}

// ListReferrals получает рефералов партнера
func (s *Service) ListReferrals(ctx context.Context, affiliateID int64, limit int) ([]*models.Referral, error) {
	return s.referralRepo.ListByAffiliateID(ctx, affiliateID, limit)
}

// CountReferrals подсчитывает рефералов партнера
func (s *Service) CountReferrals(ctx context.Context, affiliateID int64) (int, error) {
	return s.referralRepo.CountByAffiliateID(ctx, affiliateID)
}

// ListAffiliates получает партнеров по фильтру для админки
func (s *Service) ListAffiliates(ctx context.Context, filter models.AffiliateFilter) ([]*models.Affiliate, error) {
	return s.affiliateRepo.List(ctx, filter)
}

// generateReferralCode генерирует криптослучайный реферальный код
func generateReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	for i, b := range buf {
		buf[i] = referralCodeAlphabet[int(b)%len(referralCodeAlphabet)]
	}

	return string(buf), nil
}
