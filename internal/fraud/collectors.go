package fraud

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"partnerka/internal/store"
	"partnerka/pkg/models"

	"go.uber.org/zap"
)

const (
	// Порог детектора повторного использования устройства: вторая регистрация
	// с того же фингерпринта уже подозрительна
	deviceReuseThreshold = 2
	// Порог массового использования одного устройства
	deviceMassReuseThreshold = 10
	// Минимальное число заказов для оценки доли возвратов
	refundRateMinOrders = 4
)

// disposableDomains — известные домены одноразовой почты
var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"10minutemail.com":  true,
	"tempmail.com":      true,
	"temp-mail.org":     true,
	"throwawaymail.com": true,
	"yopmail.com":       true,
	"trashmail.com":     true,
	"sharklasers.com":   true,
	"getnada.com":       true,
	"maildrop.cc":       true,
	"dispostable.com":   true,
}

// botLocalPattern — локальная часть адреса вида user48291 или qwe1234567:
// короткий префикс и длинный числовой хвост характерны для скриптовых
// регистраций
var botLocalPattern = regexp.MustCompile(`^[a-z]{1,8}[0-9]{4,}$`)

// SignupInput описывает регистрацию нового пользователя по партнерской ссылке
type SignupInput struct {
	AffiliateID       int64
	ReferredUserID    int64
	IP                string
	UserAgent         string
	DeviceFingerprint string
	Email             string
	IPIsVPN           bool
	IPIsDatacenter    bool
	IPIsTor           bool
}

// OrderPaymentInput описывает платежный инструмент оплаченного заказа
type OrderPaymentInput struct {
	SourceID              string
	UserID                int64
	AffiliateID           int64
	InstrumentFingerprint string
}

// Collectors прогоняет сырые сигналы (регистрации, платежи, возвраты)
// через детекторы и превращает срабатывания в фрод-события. Сбой
// отдельного детектора логируется и не блокирует остальные.
type Collectors struct {
	fraud          *Service
	fraudRepo      store.FraudRepository
	affiliateRepo  store.AffiliateRepository
	commissionRepo store.CommissionRepository
	logger         *zap.Logger
}

// NewCollectors создает новый набор фрод-детекторов
func NewCollectors(fraudService *Service, fraudRepo store.FraudRepository, affiliateRepo store.AffiliateRepository, commissionRepo store.CommissionRepository, logger *zap.Logger) *Collectors {
	return &Collectors{
		fraud:          fraudService,
		fraudRepo:      fraudRepo,
		affiliateRepo:  affiliateRepo,
		commissionRepo: commissionRepo,
		logger:         logger,
	}
}

// RecordSignup фиксирует регистрацию по партнерской ссылке и прогоняет ее
// через детекторы: репутация IP, повторное использование устройства,
// самореферал и подозрительный email. Ошибка возвращается только если не
// удалось записать саму регистрацию.
func (c *Collectors) RecordSignup(ctx context.Context, input SignupInput) error {
	if input.AffiliateID <= 0 || input.ReferredUserID <= 0 {
		return fmt.Errorf("не заданы партнер или пользователь регистрации")
	}

	signup := &models.Signup{
		AffiliateID:       input.AffiliateID,
		ReferredUserID:    input.ReferredUserID,
		IP:                input.IP,
		UserAgent:         input.UserAgent,
		DeviceFingerprint: input.DeviceFingerprint,
		Email:             input.Email,
		EmailBase:         normalizeEmailBase(input.Email),
	}

	if err := c.fraudRepo.CreateSignup(ctx, signup); err != nil {
		return fmt.Errorf("ошибка записи регистрации: %w", err)
	}

	c.checkIPReputation(ctx, input)
	c.checkDeviceFingerprint(ctx, input)
	c.checkSelfReferral(ctx, input)
	c.checkEmail(ctx, input)

	return nil
}

// checkIPReputation добавляет событие по репутации IP регистрации.
// При нескольких совпавших категориях учитывается самая тяжелая.
func (c *Collectors) checkIPReputation(ctx context.Context, input SignupInput) {
	var (
		eventType models.FraudEventType
		score     int
	)

	switch {
	case input.IPIsTor:
		eventType, score = models.FraudEventTorIP, models.ScoreTorIP
	case input.IPIsDatacenter:
		eventType, score = models.FraudEventDatacenterIP, models.ScoreDatacenterIP
	case input.IPIsVPN:
		eventType, score = models.FraudEventVPNIP, models.ScoreVPNIP
	default:
		return
	}

	c.addEvent(ctx, input.AffiliateID, eventType, score,
		models.Metadata{"ip": input.IP}, &input.ReferredUserID, nil)
}

// checkDeviceFingerprint проверяет повторное и массовое использование
// фингерпринта устройства, включая появление устройства у разных партнеров
func (c *Collectors) checkDeviceFingerprint(ctx context.Context, input SignupInput) {
	if input.DeviceFingerprint == "" {
		return
	}

	count, err := c.fraudRepo.CountSignupsByFingerprint(ctx, input.AffiliateID, input.DeviceFingerprint)
	if err != nil {
		c.logger.Error("ошибка подсчета регистраций по фингерпринту",
			zap.Error(err),
			zap.Int64("affiliate_id", input.AffiliateID))
		return
	}

	meta := models.Metadata{
		"device_fingerprint": input.DeviceFingerprint,
		"signup_count":       count,
	}

	if count >= deviceReuseThreshold {
		c.addEvent(ctx, input.AffiliateID, models.FraudEventDeviceReuse,
			models.ScoreDeviceReuse, meta, &input.ReferredUserID, nil)
	}
	if count >= deviceMassReuseThreshold {
		c.addEvent(ctx, input.AffiliateID, models.FraudEventDeviceMassReuse,
			models.ScoreDeviceMassReuse, meta, &input.ReferredUserID, nil)
	}

	affiliates, err := c.fraudRepo.CountAffiliatesByFingerprint(ctx, input.DeviceFingerprint)
	if err != nil {
		c.logger.Error("ошибка подсчета партнеров по фингерпринту", zap.Error(err))
		return
	}
	if affiliates >= 2 {
		c.addEvent(ctx, input.AffiliateID, models.FraudEventDeviceMultiAffiliate,
			models.ScoreDeviceMultiAffiliate,
			models.Metadata{
				"device_fingerprint": input.DeviceFingerprint,
				"affiliate_count":    affiliates,
			}, &input.ReferredUserID, nil)
	}
}

// checkSelfReferral детектирует регистрацию владельца партнерского аккаунта
// по собственной ссылке
func (c *Collectors) checkSelfReferral(ctx context.Context, input SignupInput) {
	affiliate, err := c.affiliateRepo.GetByID(ctx, input.AffiliateID)
	if err != nil {
		c.logger.Error("ошибка получения партнера для проверки самореферала",
			zap.Error(err),
			zap.Int64("affiliate_id", input.AffiliateID))
		return
	}

	if affiliate.OwnerUserID == input.ReferredUserID {
		c.addEvent(ctx, input.AffiliateID, models.FraudEventSelfReferral,
			models.ScoreSelfReferral, nil, &input.ReferredUserID, nil)
	}
}

// checkEmail прогоняет email регистрации через детекторы одноразовых доменов,
// алиасных адресов и скриптовых паттернов
func (c *Collectors) checkEmail(ctx context.Context, input SignupInput) {
	local, domain, ok := splitEmail(input.Email)
	if !ok {
		return
	}

	meta := models.Metadata{"email": input.Email}

	if disposableDomains[domain] {
		c.addEvent(ctx, input.AffiliateID, models.FraudEventDisposableEmail,
			models.ScoreDisposableEmail, meta, &input.ReferredUserID, nil)
	}

	if strings.Contains(local, "+") {
		referred, err := c.fraudRepo.EmailBaseReferred(ctx, normalizeEmailBase(input.Email), input.ReferredUserID)
		if err != nil {
			c.logger.Error("ошибка проверки базового email", zap.Error(err))
		} else if referred {
			c.addEvent(ctx, input.AffiliateID, models.FraudEventEmailAlias,
				models.ScoreEmailAlias, meta, &input.ReferredUserID, nil)
		}
	}

	if botLocalPattern.MatchString(strings.ToLower(strings.SplitN(local, "+", 2)[0])) {
		c.addEvent(ctx, input.AffiliateID, models.FraudEventEmailBotPattern,
			models.ScoreEmailBotPattern, meta, &input.ReferredUserID, nil)
	}
}

// RecordOrderPayment фиксирует платежный инструмент заказа и проверяет его
// повторное использование другими пользователями и другими партнерами
func (c *Collectors) RecordOrderPayment(ctx context.Context, input OrderPaymentInput) error {
	if input.SourceID == "" {
		return fmt.Errorf("не задан источник платежа")
	}

	payment := &models.OrderPayment{
		SourceID:              input.SourceID,
		UserID:                input.UserID,
		AffiliateID:           input.AffiliateID,
		InstrumentFingerprint: input.InstrumentFingerprint,
	}

	if err := c.fraudRepo.CreateOrderPayment(ctx, payment); err != nil {
		return fmt.Errorf("ошибка записи платежного инструмента: %w", err)
	}

	if input.InstrumentFingerprint == "" {
		return nil
	}

	meta := models.Metadata{"instrument_fingerprint": input.InstrumentFingerprint}

	others, err := c.fraudRepo.CountInstrumentOtherUsers(ctx, input.InstrumentFingerprint, input.UserID)
	if err != nil {
		c.logger.Error("ошибка подсчета пользователей инструмента", zap.Error(err))
	} else if others >= 1 {
		c.addEvent(ctx, input.AffiliateID, models.FraudEventInstrumentReuse,
			models.ScoreInstrumentReuse, meta, &input.UserID, &input.SourceID)
	}

	affiliates, err := c.fraudRepo.CountInstrumentAffiliates(ctx, input.InstrumentFingerprint)
	if err != nil {
		c.logger.Error("ошибка подсчета партнеров инструмента", zap.Error(err))
	} else if affiliates >= 2 {
		c.addEvent(ctx, input.AffiliateID, models.FraudEventInstrumentMultiAffiliate,
			models.ScoreInstrumentMultiAffiliate, meta, &input.UserID, &input.SourceID)
	}

	return nil
}

// RecordChargeback фиксирует чарджбек по источнику комиссии. Самый тяжелый
// сигнал: одного чарджбека достаточно для автоматической заморозки.
func (c *Collectors) RecordChargeback(ctx context.Context, affiliateID int64, sourceID string, userID *int64) error {
	_, err := c.fraud.AddEvent(ctx, affiliateID, models.FraudEventChargeback,
		models.ScoreChargeback, models.Metadata{"source_id": sourceID}, userID, &sourceID)
	if err != nil {
		return fmt.Errorf("ошибка записи чарджбека: %w", err)
	}
	return nil
}

// EvaluateRefundRate проверяет долю возвратов партнера: больше половины
// отмененных комиссий по заказам при достаточной выборке дает событие.
// Вызывается периодически планировщиком, поэтому при стабильно высокой
// доле возвратов события накапливаются.
func (c *Collectors) EvaluateRefundRate(ctx context.Context, affiliateID int64) error {
	total, reversed, err := c.commissionRepo.RefundStats(ctx, affiliateID)
	if err != nil {
		return fmt.Errorf("ошибка получения статистики возвратов: %w", err)
	}

	if total < refundRateMinOrders || reversed*2 <= total {
		return nil
	}

	_, err = c.fraud.AddEvent(ctx, affiliateID, models.FraudEventHighRefundRate,
		models.ScoreHighRefundRate,
		models.Metadata{
			"total_orders":    total,
			"reversed_orders": reversed,
		}, nil, nil)
	if err != nil {
		return fmt.Errorf("ошибка записи события высокой доли возвратов: %w", err)
	}

	return nil
}

// addEvent добавляет событие через агрегатор, сбой только логируется
func (c *Collectors) addEvent(ctx context.Context, affiliateID int64, eventType models.FraudEventType, score int, metadata models.Metadata, relatedUserID *int64, relatedSourceID *string) {
	if _, err := c.fraud.AddEvent(ctx, affiliateID, eventType, score, metadata, relatedUserID, relatedSourceID); err != nil {
		c.logger.Error("ошибка добавления фрод-события",
			zap.Error(err),
			zap.Int64("affiliate_id", affiliateID),
			zap.String("type", string(eventType)))
	}
}

// normalizeEmailBase приводит email к базовой форме: нижний регистр и
// отброшенная алиасная часть после "+". Используется для поиска повторных
// регистраций с одного почтового ящика.
func normalizeEmailBase(email string) string {
	local, domain, ok := splitEmail(email)
	if !ok {
		return strings.ToLower(strings.TrimSpace(email))
	}

	if idx := strings.Index(local, "+"); idx >= 0 {
		local = local[:idx]
	}

	return local + "@" + domain
}

// splitEmail разбирает адрес на локальную часть и домен в нижнем регистре
func splitEmail(email string) (local, domain string, ok bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	idx := strings.LastIndex(email, "@")
	if idx <= 0 || idx == len(email)-1 {
		return "", "", false
	}
	return email[:idx], email[idx+1:], true
}
