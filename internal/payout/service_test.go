package payout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"partnerka/internal/audit"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePayoutRepo реализует store.PayoutRepository в памяти
type fakePayoutRepo struct {
	methods   map[int64]*models.PayoutMethod
	requests  map[uuid.UUID]*models.PayoutRequest
	available int64
}

func newFakePayoutRepo(available int64) *fakePayoutRepo {
	return &fakePayoutRepo{
		methods:   make(map[int64]*models.PayoutMethod),
		requests:  make(map[uuid.UUID]*models.PayoutRequest),
		available: available,
	}
}

func (f *fakePayoutRepo) UpsertMethod(ctx context.Context, method *models.PayoutMethod) error {
	f.methods[method.AffiliateID] = method
	return nil
}

func (f *fakePayoutRepo) GetMethod(ctx context.Context, affiliateID int64) (*models.PayoutMethod, error) {
	m, ok := f.methods[affiliateID]
	if !ok {
		return nil, apperrors.NewNotFound("платежный метод", fmt.Sprintf("%d", affiliateID))
	}
	return m, nil
}

func (f *fakePayoutRepo) reserved(affiliateID int64) int64 {
	var total int64
	for _, r := range f.requests {
		if r.AffiliateID == affiliateID && r.Status != models.PayoutStatusDeclined {
			total += r.AmountCents
		}
	}
	return total
}

func (f *fakePayoutRepo) CreateRequest(ctx context.Context, request *models.PayoutRequest) error {
	for _, r := range f.requests {
		if r.AffiliateID == request.AffiliateID && r.Status == models.PayoutStatusPending {
			return apperrors.NewConflict("у партнера уже есть необработанная заявка на выплату", string(models.PayoutStatusPending))
		}
	}
	if f.available-f.reserved(request.AffiliateID) < request.AmountCents {
		return apperrors.NewInsufficientBalance(request.AmountCents, f.available-f.reserved(request.AffiliateID))
	}
	request.Status = models.PayoutStatusPending
	request.CreatedAt = time.Now()
	f.requests[request.ID] = request
	return nil
}

func (f *fakePayoutRepo) GetRequest(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, apperrors.NewNotFound("заявка на выплату", id.String())
	}
	clone := *r
	return &clone, nil
}

func (f *fakePayoutRepo) TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.PayoutStatus, adminNote string) (bool, error) {
	r, ok := f.requests[id]
	if !ok || r.Status != from {
		return false, nil
	}
	now := time.Now()
	r.Status = to
	r.AdminNote = adminNote
	r.ProcessedAt = &now
	return true, nil
}

func (f *fakePayoutRepo) ListRequests(ctx context.Context, filter models.PayoutFilter) ([]*models.PayoutRequest, error) {
	var out []*models.PayoutRequest
	for _, r := range f.requests {
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	return out, nil
}

// fakeAffiliateRepo реализует store.AffiliateRepository для проверок заморозки
type fakeAffiliateRepo struct {
	affiliates map[int64]*models.Affiliate
}

func (f *fakeAffiliateRepo) Create(ctx context.Context, a *models.Affiliate) error { return nil }

func (f *fakeAffiliateRepo) GetByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	a, ok := f.affiliates[id]
	if !ok {
		return nil, apperrors.NewNotFound("партнер", fmt.Sprintf("%d", id))
	}
	return a, nil
}

func (f *fakeAffiliateRepo) GetByOwnerUserID(ctx context.Context, ownerUserID int64) (*models.Affiliate, error) {
	return nil, apperrors.NewNotFound("партнер", fmt.Sprintf("%d", ownerUserID))
}

func (f *fakeAffiliateRepo) GetByReferralCode(ctx context.Context, code string) (*models.Affiliate, error) {
	return nil, apperrors.NewNotFound("партнер", code)
}

func (f *fakeAffiliateRepo) SetFrozen(ctx context.Context, id int64, frozen bool) (bool, error) {
	return false, nil
}

func (f *fakeAffiliateRepo) List(ctx context.Context, filter models.AffiliateFilter) ([]*models.Affiliate, error) {
	return nil, nil
}

type fakeSettings struct {
	minPayout int64
}

func (f *fakeSettings) HoldingPeriodDays(ctx context.Context) int { return 7 }
func (f *fakeSettings) MinPayoutCents(ctx context.Context) int64  { return f.minPayout }

type fakeNotifier struct {
	changes []models.PayoutStatus
}

func (f *fakeNotifier) CommissionEarned(ctx context.Context, c *models.Commission) error { return nil }

func (f *fakeNotifier) PayoutStatusChanged(ctx context.Context, r *models.PayoutRequest, old models.PayoutStatus) error {
	f.changes = append(f.changes, r.Status)
	return nil
}

func (f *fakeNotifier) HighRiskAlert(ctx context.Context, affiliateID int64, totalScore int) error {
	return nil
}

type fakeAuditRepo struct{}

func (f *fakeAuditRepo) Record(ctx context.Context, entry *models.AuditEntry) error { return nil }

func newTestService(repo *fakePayoutRepo, minPayout int64, affiliates ...*models.Affiliate) (*Service, *fakeNotifier) {
	affiliateRepo := &fakeAffiliateRepo{affiliates: make(map[int64]*models.Affiliate)}
	for _, a := range affiliates {
		affiliateRepo.affiliates[a.ID] = a
	}
	notifier := &fakeNotifier{}
	auditor := audit.New(&fakeAuditRepo{}, zap.NewNop())
	svc := NewService(repo, affiliateRepo, notifier, &fakeSettings{minPayout: minPayout}, auditor, nil, zap.NewNop())
	return svc, notifier
}

func withMethod(repo *fakePayoutRepo, affiliateID int64) *fakePayoutRepo {
	repo.methods[affiliateID] = &models.PayoutMethod{
		AffiliateID: affiliateID,
		Type:        models.PayoutMethodPaypal,
		Details:     models.Metadata{"email": "partner@example.com"},
	}
	return repo
}

func TestUpsertPayoutMethod(t *testing.T) {
	repo := newFakePayoutRepo(0)
	svc, _ := newTestService(repo, 0, &models.Affiliate{ID: 1})
	ctx := context.Background()

	method, err := svc.UpsertPayoutMethod(ctx, 1, models.PayoutMethodBank, models.Metadata{"iban": "DE89"})
	require.NoError(t, err)
	assert.Equal(t, models.PayoutMethodBank, method.Type)

	// Невалидный тип метода
	_, err = svc.UpsertPayoutMethod(ctx, 1, "crypto", models.Metadata{"wallet": "0x0"})
	assert.True(t, apperrors.IsValidation(err))

	// Пустые реквизиты
	_, err = svc.UpsertPayoutMethod(ctx, 1, models.PayoutMethodPaypal, nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestUpsertPayoutMethodFrozen(t *testing.T) {
	repo := newFakePayoutRepo(0)
	svc, _ := newTestService(repo, 0, &models.Affiliate{ID: 1, IsFrozen: true})

	// Замороженный партнер не может менять реквизиты
	_, err := svc.UpsertPayoutMethod(context.Background(), 1, models.PayoutMethodPaypal, models.Metadata{"email": "x@example.com"})
	assert.True(t, apperrors.IsFrozen(err))
}

func TestCreatePayoutRequest(t *testing.T) {
	repo := withMethod(newFakePayoutRepo(10000), 1)
	svc, _ := newTestService(repo, 0, &models.Affiliate{ID: 1})
	ctx := context.Background()

	request, err := svc.CreatePayoutRequest(ctx, 1, 6000)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPending, request.Status)

	// Вторая заявка при необработанной первой — конфликт
	_, err = svc.CreatePayoutRequest(ctx, 1, 1000)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCreatePayoutRequestChecks(t *testing.T) {
	ctx := context.Background()

	// Замороженный партнер
	svc, _ := newTestService(withMethod(newFakePayoutRepo(10000), 1), 0, &models.Affiliate{ID: 1, IsFrozen: true})
	_, err := svc.CreatePayoutRequest(ctx, 1, 1000)
	assert.True(t, apperrors.IsFrozen(err))

	// Нет реквизитов
	svc, _ = newTestService(newFakePayoutRepo(10000), 0, &models.Affiliate{ID: 1})
	_, err = svc.CreatePayoutRequest(ctx, 1, 1000)
	assert.True(t, apperrors.IsValidation(err))

	// Неположительная сумма
	svc, _ = newTestService(withMethod(newFakePayoutRepo(10000), 1), 0, &models.Affiliate{ID: 1})
	_, err = svc.CreatePayoutRequest(ctx, 1, 0)
	assert.True(t, apperrors.IsValidation(err))

	// Меньше минимальной выплаты
	svc, _ = newTestService(withMethod(newFakePayoutRepo(10000), 1), 5000, &models.Affiliate{ID: 1})
	_, err = svc.CreatePayoutRequest(ctx, 1, 4000)
	assert.True(t, apperrors.IsValidation(err))

	// Больше доступного баланса
	svc, _ = newTestService(withMethod(newFakePayoutRepo(1000), 1), 0, &models.Affiliate{ID: 1})
	_, err = svc.CreatePayoutRequest(ctx, 1, 2000)
	assert.True(t, apperrors.IsInsufficientBalance(err))
}

func TestPayoutLifecycle(t *testing.T) {
	repo := withMethod(newFakePayoutRepo(10000), 1)
	svc, notifier := newTestService(repo, 0, &models.Affiliate{ID: 1})
	ctx := context.Background()

	request, err := svc.CreatePayoutRequest(ctx, 1, 6000)
	require.NoError(t, err)

	approved, err := svc.ApproveRequest(ctx, request.ID, "admin@shop", "проверено")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusApproved, approved.Status)
	assert.NotNil(t, approved.ProcessedAt)

	paid, err := svc.MarkPaid(ctx, request.ID, "admin@shop", "переведено")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPaid, paid.Status)

	assert.Equal(t, []models.PayoutStatus{models.PayoutStatusApproved, models.PayoutStatusPaid}, notifier.changes)
}

func TestPayoutInvalidTransitions(t *testing.T) {
	repo := withMethod(newFakePayoutRepo(10000), 1)
	svc, _ := newTestService(repo, 0, &models.Affiliate{ID: 1})
	ctx := context.Background()

	request, err := svc.CreatePayoutRequest(ctx, 1, 6000)
	require.NoError(t, err)

	// paid возможен только из approved
	_, err = svc.MarkPaid(ctx, request.ID, "admin@shop", "")
	assert.True(t, apperrors.IsConflict(err))

	_, err = svc.DeclineRequest(ctx, request.ID, "admin@shop", "подозрение на фрод")
	require.NoError(t, err)

	// Отклоненная заявка конечна
	_, err = svc.ApproveRequest(ctx, request.ID, "admin@shop", "")
	assert.True(t, apperrors.IsConflict(err))
}

func TestDeclineReleasesReservedBalance(t *testing.T) {
	repo := withMethod(newFakePayoutRepo(10000), 1)
	svc, _ := newTestService(repo, 0, &models.Affiliate{ID: 1})
	ctx := context.Background()

	request, err := svc.CreatePayoutRequest(ctx, 1, 8000)
	require.NoError(t, err)

	_, err = svc.DeclineRequest(ctx, request.ID, "admin@shop", "неверные реквизиты")
	require.NoError(t, err)

	// Сумма отклоненной заявки снова доступна
	again, err := svc.CreatePayoutRequest(ctx, 1, 8000)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPending, again.Status)
}
