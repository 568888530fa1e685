package fraud

import (
	"context"
	"testing"
	"time"

	"partnerka/internal/audit"
	"partnerka/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCommissionStats реализует store.CommissionRepository; детекторам нужна
// только статистика возвратов
type fakeCommissionStats struct {
	total    int
	reversed int
}

func (f *fakeCommissionStats) CreateWithLifetime(ctx context.Context, c *models.Commission) error {
	return nil
}

func (f *fakeCommissionStats) Reverse(ctx context.Context, sourceID string, sourceType models.SourceType) (*models.Commission, error) {
	return nil, nil
}

func (f *fakeCommissionStats) MarkAvailable(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeCommissionStats) CountReleasable(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeCommissionStats) GetBalances(ctx context.Context, affiliateID int64) (*models.CommissionBalances, error) {
	return &models.CommissionBalances{AffiliateID: affiliateID}, nil
}

func (f *fakeCommissionStats) GetAvailableBalance(ctx context.Context, affiliateID int64) (int64, error) {
	return 0, nil
}

func (f *fakeCommissionStats) ListByAffiliateID(ctx context.Context, affiliateID int64, limit int) ([]*models.Commission, error) {
	return nil, nil
}

func (f *fakeCommissionStats) RefundStats(ctx context.Context, affiliateID int64) (int, int, error) {
	return f.total, f.reversed, nil
}

func newTestCollectors(stats *fakeCommissionStats, affiliates ...*models.Affiliate) (*Collectors, *fakeFraudRepo) {
	fraudRepo := newFakeFraudRepo()
	affiliateRepo := newFakeAffiliateRepo(affiliates...)
	auditor := audit.New(&fakeAuditRepo{}, zap.NewNop())
	svc := NewService(fraudRepo, affiliateRepo, &fakeNotifier{}, auditor, nil, zap.NewNop())
	collectors := NewCollectors(svc, fraudRepo, affiliateRepo, stats, zap.NewNop())
	return collectors, fraudRepo
}

func eventTypes(events []*models.FraudEvent) []models.FraudEventType {
	var out []models.FraudEventType
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestRecordSignupCleanUser(t *testing.T) {
	collectors, fraudRepo := newTestCollectors(&fakeCommissionStats{}, testAffiliate(1))

	err := collectors.RecordSignup(context.Background(), SignupInput{
		AffiliateID:       1,
		ReferredUserID:    500,
		IP:                "203.0.113.10",
		DeviceFingerprint: "fp-clean",
		Email:             "alice@example.com",
	})
	require.NoError(t, err)

	// Чистая регистрация не порождает событий
	assert.Empty(t, fraudRepo.events)
	assert.Len(t, fraudRepo.signups, 1)
}

func TestRecordSignupIPReputation(t *testing.T) {
	collectors, fraudRepo := newTestCollectors(&fakeCommissionStats{}, testAffiliate(1))

	// При нескольких категориях IP учитывается самая тяжелая: Tor
	err := collectors.RecordSignup(context.Background(), SignupInput{
		AffiliateID:    1,
		ReferredUserID: 500,
		Email:          "alice@example.com",
		IPIsVPN:        true,
		IPIsTor:        true,
	})
	require.NoError(t, err)

	require.Len(t, fraudRepo.events, 1)
	assert.Equal(t, models.FraudEventTorIP, fraudRepo.events[0].Type)
	assert.Equal(t, models.ScoreTorIP, fraudRepo.events[0].Score)
}

func TestRecordSignupDeviceReuse(t *testing.T) {
	collectors, fraudRepo := newTestCollectors(&fakeCommissionStats{}, testAffiliate(1))
	ctx := context.Background()

	first := SignupInput{AffiliateID: 1, ReferredUserID: 500, DeviceFingerprint: "fp-1", Email: "a@example.com"}
	second := SignupInput{AffiliateID: 1, ReferredUserID: 501, DeviceFingerprint: "fp-1", Email: "b@example.com"}

	require.NoError(t, collectors.RecordSignup(ctx, first))
	assert.Empty(t, fraudRepo.events)

	// Вторая регистрация с того же устройства у того же партнера
	require.NoError(t, collectors.RecordSignup(ctx, second))
	assert.Contains(t, eventTypes(fraudRepo.events), models.FraudEventDeviceReuse)
}

func TestRecordSignupDeviceMultiAffiliate(t *testing.T) {
	collectors, fraudRepo := newTestCollectors(&fakeCommissionStats{}, testAffiliate(1), testAffiliate(2))
	ctx := context.Background()

	require.NoError(t, collectors.RecordSignup(ctx, SignupInput{
		AffiliateID: 1, ReferredUserID: 500, DeviceFingerprint: "fp-shared", Email: "a@example.com",
	}))
	require.NoError(t, collectors.RecordSignup(ctx, SignupInput{
		AffiliateID: 2, ReferredUserID: 501, DeviceFingerprint: "fp-shared", Email: "b@example.com",
	}))

	// Одно устройство у двух разных партнеров
	assert.Contains(t, eventTypes(fraudRepo.events), models.FraudEventDeviceMultiAffiliate)
}

func TestRecordSignupSelfReferral(t *testing.T) {
	affiliate := testAffiliate(1) // владелец — пользователь 100
	collectors, fraudRepo := newTestCollectors(&fakeCommissionStats{}, affiliate)

	err := collectors.RecordSignup(context.Background(), SignupInput{
		AffiliateID:    1,
		ReferredUserID: affiliate.OwnerUserID,
		Email:          "owner@example.com",
	})
	require.NoError(t, err)

	require.Len(t, fraudRepo.events, 1)
	assert.Equal(t, models.FraudEventSelfReferral, fraudRepo.events[0].Type)
}

func TestRecordSignupSuspiciousEmail(t *testing.T) {
	collectors, fraudRepo := newTestCollectors(&fakeCommissionStats{}, testAffiliate(1))
	ctx := context.Background()

	// Одноразовый домен
	require.NoError(t, collectors.RecordSignup(ctx, SignupInput{
		AffiliateID: 1, ReferredUserID: 500, Email: "bob@mailinator.com",
	}))
	assert.Contains(t, eventTypes(fraudRepo.events), models.FraudEventDisposableEmail)

	// Скриптовый паттерн: короткий префикс и длинный числовой хвост
	require.NoError(t, collectors.RecordSignup(ctx, SignupInput{
		AffiliateID: 1, ReferredUserID: 501, Email: "user48291@example.com",
	}))
	assert.Contains(t, eventTypes(fraudRepo.events), models.FraudEventEmailBotPattern)
}

func TestRecordSignupEmailAlias(t *testing.T) {
	collectors, fraudRepo := newTestCollectors(&fakeCommissionStats{}, testAffiliate(1))
	ctx := context.Background()

	require.NoError(t, collectors.RecordSignup(ctx, SignupInput{
		AffiliateID: 1, ReferredUserID: 500, Email: "carol@example.com",
	}))
	require.NoError(t, collectors.RecordSignup(ctx, SignupInput{
		AffiliateID: 1, ReferredUserID: 501, Email: "carol+promo@example.com",
	}))

	// Второй адрес — алиас того же ящика
	assert.Contains(t, eventTypes(fraudRepo.events), models.FraudEventEmailAlias)
}

func TestRecordOrderPaymentInstrumentReuse(t *testing.T) {
	collectors, fraudRepo := newTestCollectors(&fakeCommissionStats{}, testAffiliate(1), testAffiliate(2))
	ctx := context.Background()

	require.NoError(t, collectors.RecordOrderPayment(ctx, OrderPaymentInput{
		SourceID: "order-1", UserID: 500, AffiliateID: 1, InstrumentFingerprint: "card-1",
	}))
	assert.Empty(t, fraudRepo.events)

	// Та же карта у другого пользователя
	require.NoError(t, collectors.RecordOrderPayment(ctx, OrderPaymentInput{
		SourceID: "order-2", UserID: 501, AffiliateID: 1, InstrumentFingerprint: "card-1",
	}))
	assert.Contains(t, eventTypes(fraudRepo.events), models.FraudEventInstrumentReuse)

	// Та же карта у другого партнера
	require.NoError(t, collectors.RecordOrderPayment(ctx, OrderPaymentInput{
		SourceID: "order-3", UserID: 502, AffiliateID: 2, InstrumentFingerprint: "card-1",
	}))
	assert.Contains(t, eventTypes(fraudRepo.events), models.FraudEventInstrumentMultiAffiliate)
}

func TestEvaluateRefundRate(t *testing.T) {
	ctx := context.Background()

	// Мало заказов: детектор молчит даже при 100% возвратов
	collectors, fraudRepo := newTestCollectors(&fakeCommissionStats{total: 2, reversed: 2}, testAffiliate(1))
	require.NoError(t, collectors.EvaluateRefundRate(ctx, 1))
	assert.Empty(t, fraudRepo.events)

	// Больше половины возвратов при достаточной выборке
	collectors, fraudRepo = newTestCollectors(&fakeCommissionStats{total: 10, reversed: 6}, testAffiliate(1))
	require.NoError(t, collectors.EvaluateRefundRate(ctx, 1))
	require.Len(t, fraudRepo.events, 1)
	assert.Equal(t, models.FraudEventHighRefundRate, fraudRepo.events[0].Type)

	// Ровно половина — не срабатывает
	collectors, fraudRepo = newTestCollectors(&fakeCommissionStats{total: 10, reversed: 5}, testAffiliate(1))
	require.NoError(t, collectors.EvaluateRefundRate(ctx, 1))
	assert.Empty(t, fraudRepo.events)
}

func TestNormalizeEmailBase(t *testing.T) {
	assert.Equal(t, "carol@example.com", normalizeEmailBase("Carol+promo@Example.com"))
	assert.Equal(t, "carol@example.com", normalizeEmailBase("carol@example.com"))
	assert.Equal(t, "not-an-email", normalizeEmailBase(" not-an-email "))
}
