package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"partnerka/internal/affiliate"
	"partnerka/internal/commission"
	"partnerka/internal/fraud"
	"partnerka/internal/payout"
	"partnerka/internal/settings"
	"partnerka/internal/storecredit"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler обрабатывает HTTP запросы админки: модерация выплат, управление
// заморозкой, фрод-сводки и настройки программы. Авторизация выполняется
// на внешнем шлюзе, сюда запросы приходят уже аутентифицированными,
// имя администратора передается в заголовке X-Admin.
type Handler struct {
	affiliateService   *affiliate.Service
	commissionService  *commission.Service
	fraudService       *fraud.Service
	payoutService      *payout.Service
	storeCreditService *storecredit.Service
	settingsCache      *settings.Cache
	logger             *zap.Logger
}

// NewHandler создает обработчик админки
func NewHandler(affiliateService *affiliate.Service, commissionService *commission.Service, fraudService *fraud.Service, payoutService *payout.Service, storeCreditService *storecredit.Service, settingsCache *settings.Cache, logger *zap.Logger) *Handler {
	return &Handler{
		affiliateService:   affiliateService,
		commissionService:  commissionService,
		fraudService:       fraudService,
		payoutService:      payoutService,
		storeCreditService: storeCreditService,
		settingsCache:      settingsCache,
		logger:             logger,
	}
}

// Register привязывает маршруты админки к мультиплексору
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/affiliates", h.handleListAffiliates)
	mux.HandleFunc("/admin/affiliates/create", h.handleCreateAffiliate)
	mux.HandleFunc("/admin/affiliates/freeze", h.handleFreeze)
	mux.HandleFunc("/admin/affiliates/unfreeze", h.handleUnfreeze)
	mux.HandleFunc("/admin/affiliates/fraud", h.handleFraudSummary)
	mux.HandleFunc("/admin/affiliates/balances", h.handleBalances)
	mux.HandleFunc("/admin/affiliates/commissions", h.handleListCommissions)
	mux.HandleFunc("/admin/affiliates/convert", h.handleConvert)
	mux.HandleFunc("/admin/commissions/release", h.handleReleaseCommissions)
	mux.HandleFunc("/admin/payouts", h.handleListPayouts)
	mux.HandleFunc("/admin/payouts/method", h.handlePayoutMethod)
	mux.HandleFunc("/admin/payouts/create", h.handleCreatePayout)
	mux.HandleFunc("/admin/payouts/approve", h.handleApprove)
	mux.HandleFunc("/admin/payouts/decline", h.handleDecline)
	mux.HandleFunc("/admin/payouts/paid", h.handlePaid)
	mux.HandleFunc("/admin/store-credit/balance", h.handleCreditBalance)
	mux.HandleFunc("/admin/store-credit/transactions", h.handleCreditTransactions)
	mux.HandleFunc("/admin/settings", h.handleSettings)
}

func (h *Handler) handleListAffiliates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := models.AffiliateFilter{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("risk_level"); v != "" {
		level := models.RiskLevel(v)
		filter.RiskLevel = &level
	}
	if v := r.URL.Query().Get("frozen"); v != "" {
		frozen := v == "true"
		filter.IsFrozen = &frozen
	}

	affiliates, err := h.affiliateService.ListAffiliates(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, affiliates)
}

func (h *Handler) handleCreateAffiliate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		OwnerUserID int64 `json:"owner_user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	created, err := h.affiliateService.CreateAffiliate(r.Context(), req.OwnerUserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleFreeze(w http.ResponseWriter, r *http.Request) {
	h.handleFreezeChange(w, r, true)
}

func (h *Handler) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	h.handleFreezeChange(w, r, false)
}

func (h *Handler) handleFreezeChange(w http.ResponseWriter, r *http.Request, freeze bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		AffiliateID int64 `json:"affiliate_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	actor := adminActor(r)
	var err error
	if freeze {
		err = h.fraudService.FreezeAffiliate(r.Context(), req.AffiliateID, actor)
	} else {
		err = h.fraudService.UnfreezeAffiliate(r.Context(), req.AffiliateID, actor)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"frozen": freeze})
}

func (h *Handler) handleFraudSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := h.fraudService.GetSummary(r.Context(), queryInt64(r, "affiliate_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	balances, err := h.commissionService.GetBalances(r.Context(), queryInt64(r, "affiliate_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balances)
}

func (h *Handler) handleListCommissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	commissions, err := h.commissionService.ListCommissions(r.Context(),
		queryInt64(r, "affiliate_id"), queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, commissions)
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		AffiliateID int64 `json:"affiliate_id"`
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	txn, err := h.storeCreditService.ConvertCommissionToCredit(r.Context(), req.AffiliateID, req.AmountCents)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, txn)
}

// handleReleaseCommissions принудительно освобождает комиссии с истекшим
// холдом, не дожидаясь планировщика
func (h *Handler) handleReleaseCommissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count, err := h.commissionService.ForceRelease(r.Context(), adminActor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"released": count})
}

func (h *Handler) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := models.PayoutFilter{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := models.PayoutStatus(v)
		filter.Status = &status
	}

	requests, err := h.payoutService.ListRequests(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, requests)
}

func (h *Handler) handlePayoutMethod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		AffiliateID int64           `json:"affiliate_id"`
		Type        string          `json:"type"`
		Details     models.Metadata `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	method, err := h.payoutService.UpsertPayoutMethod(r.Context(), req.AffiliateID,
		models.PayoutMethodType(req.Type), req.Details)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, method)
}

func (h *Handler) handleCreatePayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		AffiliateID int64 `json:"affiliate_id"`
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	request, err := h.payoutService.CreatePayoutRequest(r.Context(), req.AffiliateID, req.AmountCents)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, request)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.payoutService.ApproveRequest)
}

func (h *Handler) handleDecline(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.payoutService.DeclineRequest)
}

func (h *Handler) handlePaid(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.payoutService.MarkPaid)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, actor, note string) (*models.PayoutRequest, error)

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID string `json:"request_id"`
		Note      string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	id, err := uuid.Parse(req.RequestID)
	if err != nil {
		http.Error(w, "некорректный идентификатор заявки", http.StatusBadRequest)
		return
	}

	request, err := fn(r.Context(), id, adminActor(r), req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

func (h *Handler) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := queryInt64(r, "user_id")
	balance, err := h.storeCreditService.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, models.StoreCreditBalance{UserID: userID, BalanceCents: balance})
}

func (h *Handler) handleCreditTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	txns, err := h.storeCreditService.ListTransactions(r.Context(),
		queryInt64(r, "user_id"), queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, txns)
}

// handleSettings изменяет настройку программы и инвалидирует кэш
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if req.Key != settings.KeyHoldingPeriodDays && req.Key != settings.KeyMinPayoutCents {
		http.Error(w, "неизвестный ключ настройки", http.StatusBadRequest)
		return
	}

	if err := h.settingsCache.Set(r.Context(), req.Key, req.Value); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("настройка изменена",
		zap.String("key", req.Key),
		zap.String("value", req.Value),
		zap.String("actor", adminActor(r)))

	h.writeJSON(w, http.StatusOK, map[string]string{req.Key: req.Value})
}

// writeError переводит типизированные ошибки доменного слоя в HTTP статусы
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case apperrors.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case apperrors.IsConflict(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case apperrors.IsFrozen(err):
		http.Error(w, err.Error(), http.StatusForbidden)
	case apperrors.IsInsufficientBalance(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("внутренняя ошибка админки", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("ошибка сериализации ответа", zap.Error(err))
	}
}

// adminActor извлекает имя администратора из заголовка запроса
func adminActor(r *http.Request) string {
	if actor := r.Header.Get("X-Admin"); actor != "" {
		return actor
	}
	return "admin"
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}
