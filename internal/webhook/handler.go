package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"partnerka/internal/affiliate"
	"partnerka/internal/commission"
	"partnerka/internal/fraud"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"go.uber.org/zap"
)

// Handler обрабатывает вебхуки событий магазина: регистрации по партнерским
// ссылкам, завершенные и возвращенные заказы, пополнения и чарджбеки.
// Платформа доставляет события минимум один раз, поэтому все обработчики
// идемпотентны.
type Handler struct {
	affiliateService  *affiliate.Service
	commissionService *commission.Service
	collectors        *fraud.Collectors
	secret            string
	logger            *zap.Logger
}

// NewHandler создает обработчик вебхуков
func NewHandler(affiliateService *affiliate.Service, commissionService *commission.Service, collectors *fraud.Collectors, secret string, logger *zap.Logger) *Handler {
	return &Handler{
		affiliateService:  affiliateService,
		commissionService: commissionService,
		collectors:        collectors,
		secret:            secret,
		logger:            logger,
	}
}

// Event представляет входящее событие магазина
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SignupEvent — регистрация нового пользователя по партнерской ссылке
type SignupEvent struct {
	ReferralCode      string `json:"referral_code"`
	UserID            int64  `json:"user_id"`
	IP                string `json:"ip"`
	UserAgent         string `json:"user_agent"`
	DeviceFingerprint string `json:"device_fingerprint"`
	Email             string `json:"email"`
	IPIsVPN           bool   `json:"ip_is_vpn"`
	IPIsDatacenter    bool   `json:"ip_is_datacenter"`
	IPIsTor           bool   `json:"ip_is_tor"`
}

// OrderEvent — завершение, возврат или чарджбек заказа
type OrderEvent struct {
	OrderID               string `json:"order_id"`
	UserID                int64  `json:"user_id"`
	AmountCents           int64  `json:"amount_cents"`
	InstrumentFingerprint string `json:"instrument_fingerprint"`
}

// TopupEvent — пополнение внутреннего счета деньгами
type TopupEvent struct {
	TopupID     string `json:"topup_id"`
	UserID      int64  `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
}

// HandleEvent обрабатывает входящий вебхук магазина
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("ошибка чтения тела запроса", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	if !h.verifySignature(r.Header.Get("X-Webhook-Signature"), body) {
		h.logger.Warn("неверная подпись вебхука")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("ошибка парсинга вебхука", zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	h.logger.Info("получен вебхук магазина", zap.String("type", event.Type))

	ctx := r.Context()
	switch event.Type {
	case "referral.signup":
		err = h.handleSignup(ctx, event.Data)
	case "order.completed":
		err = h.handleOrderCompleted(ctx, event.Data)
	case "order.refunded":
		err = h.handleOrderRefunded(ctx, event.Data)
	case "order.chargeback":
		err = h.handleOrderChargeback(ctx, event.Data)
	case "topup.completed":
		err = h.handleTopupCompleted(ctx, event.Data)
	case "topup.refunded":
		err = h.handleTopupRefunded(ctx, event.Data)
	default:
		h.logger.Info("неизвестный тип события, пропущено", zap.String("type", event.Type))
	}

	if err != nil {
		if apperrors.IsValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("ошибка обработки события",
			zap.Error(err),
			zap.String("type", event.Type))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleSignup привязывает пользователя к партнеру и прогоняет регистрацию
// через фрод-детекторы. Повторная привязка уже приглашенного пользователя
// не ошибка: действует атрибуция первого касания.
func (h *Handler) handleSignup(ctx context.Context, data json.RawMessage) error {
	var e SignupEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return apperrors.NewValidation("data", "некорректное тело события регистрации")
	}

	referral, err := h.affiliateService.RegisterReferral(ctx, e.ReferralCode, e.UserID)
	if err != nil {
		if apperrors.IsConflict(err) {
			h.logger.Info("пользователь уже привязан к партнеру, событие пропущено",
				zap.Int64("user_id", e.UserID))
			return nil
		}
		if apperrors.IsNotFound(err) {
			h.logger.Warn("неизвестный реферальный код, событие пропущено",
				zap.String("referral_code", e.ReferralCode))
			return nil
		}
		return err
	}

	return h.collectors.RecordSignup(ctx, fraud.SignupInput{
		AffiliateID:       referral.AffiliateID,
		ReferredUserID:    e.UserID,
		IP:                e.IP,
		UserAgent:         e.UserAgent,
		DeviceFingerprint: e.DeviceFingerprint,
		Email:             e.Email,
		IPIsVPN:           e.IPIsVPN,
		IPIsDatacenter:    e.IPIsDatacenter,
		IPIsTor:           e.IPIsTor,
	})
}

// handleOrderCompleted начисляет комиссию пригласившему партнеру за
// завершенный заказ. Заказ пользователя без реферера не порождает комиссию.
func (h *Handler) handleOrderCompleted(ctx context.Context, data json.RawMessage) error {
	var e OrderEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return apperrors.NewValidation("data", "некорректное тело события заказа")
	}

	referrer, err := h.affiliateService.GetReferrer(ctx, e.UserID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if err := h.collectors.RecordOrderPayment(ctx, fraud.OrderPaymentInput{
		SourceID:              e.OrderID,
		UserID:                e.UserID,
		AffiliateID:           referrer.ID,
		InstrumentFingerprint: e.InstrumentFingerprint,
	}); err != nil {
		h.logger.Error("ошибка записи платежного инструмента", zap.Error(err))
	}

	_, err = h.commissionService.CreateCommission(ctx, referrer.ID, e.OrderID, models.SourceTypeOrder, e.AmountCents)
	return err
}

// handleOrderRefunded отменяет комиссию по возвращенному заказу
func (h *Handler) handleOrderRefunded(ctx context.Context, data json.RawMessage) error {
	var e OrderEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return apperrors.NewValidation("data", "некорректное тело события заказа")
	}

	_, err := h.commissionService.ReverseCommission(ctx, e.OrderID, models.SourceTypeOrder)
	return err
}

// handleOrderChargeback отменяет комиссию и добавляет самый тяжелый
// фрод-сигнал пригласившему партнеру
func (h *Handler) handleOrderChargeback(ctx context.Context, data json.RawMessage) error {
	var e OrderEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return apperrors.NewValidation("data", "некорректное тело события заказа")
	}

	if _, err := h.commissionService.ReverseCommission(ctx, e.OrderID, models.SourceTypeOrder); err != nil {
		return err
	}

	referrer, err := h.affiliateService.GetReferrer(ctx, e.UserID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	return h.collectors.RecordChargeback(ctx, referrer.ID, e.OrderID, &e.UserID)
}

// handleTopupCompleted начисляет комиссию за пополнение внутреннего счета
// приглашенным пользователем
func (h *Handler) handleTopupCompleted(ctx context.Context, data json.RawMessage) error {
	var e TopupEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return apperrors.NewValidation("data", "некорректное тело события пополнения")
	}

	referrer, err := h.affiliateService.GetReferrer(ctx, e.UserID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	_, err = h.commissionService.CreateCommission(ctx, referrer.ID, e.TopupID, models.SourceTypeTopup, e.AmountCents)
	return err
}

// handleTopupRefunded отменяет комиссию по возвращенному пополнению
func (h *Handler) handleTopupRefunded(ctx context.Context, data json.RawMessage) error {
	var e TopupEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return apperrors.NewValidation("data", "некорректное тело события пополнения")
	}

	_, err := h.commissionService.ReverseCommission(ctx, e.TopupID, models.SourceTypeTopup)
	return err
}

// verifySignature проверяет HMAC-SHA256 подпись тела вебхука.
// Пустой секрет отключает проверку: так настраиваются локальные стенды.
func (h *Handler) verifySignature(signature string, body []byte) bool {
	if h.secret == "" {
		return true
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
