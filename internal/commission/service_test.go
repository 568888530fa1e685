package commission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"partnerka/internal/audit"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCommissionRepo реализует store.CommissionRepository в памяти
type fakeCommissionRepo struct {
	commissions map[string]*models.Commission
	lifetime    map[int64]int64
}

func newFakeCommissionRepo() *fakeCommissionRepo {
	return &fakeCommissionRepo{
		commissions: make(map[string]*models.Commission),
		lifetime:    make(map[int64]int64),
	}
}

func sourceKey(sourceID string, sourceType models.SourceType) string {
	return sourceID + "/" + string(sourceType)
}

func (f *fakeCommissionRepo) CreateWithLifetime(ctx context.Context, c *models.Commission) error {
	key := sourceKey(c.SourceID, c.SourceType)
	if _, ok := f.commissions[key]; ok {
		return apperrors.NewConflict(fmt.Sprintf("комиссия по источнику %s уже существует", c.SourceID), "")
	}
	clone := *c
	f.commissions[key] = &clone
	f.lifetime[c.AffiliateID] += c.AmountCents
	return nil
}

func (f *fakeCommissionRepo) Reverse(ctx context.Context, sourceID string, sourceType models.SourceType) (*models.Commission, error) {
	c, ok := f.commissions[sourceKey(sourceID, sourceType)]
	if !ok || c.Status == models.CommissionStatusReversed {
		return nil, nil
	}
	c.Status = models.CommissionStatusReversed
	f.lifetime[c.AffiliateID] -= c.AmountCents
	clone := *c
	return &clone, nil
}

func (f *fakeCommissionRepo) MarkAvailable(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for _, c := range f.commissions {
		if c.Status == models.CommissionStatusPending && !c.AvailableAt.After(now) {
			c.Status = models.CommissionStatusAvailable
			count++
		}
	}
	return count, nil
}

func (f *fakeCommissionRepo) CountReleasable(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for _, c := range f.commissions {
		if c.Status == models.CommissionStatusPending && !c.AvailableAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (f *fakeCommissionRepo) GetBalances(ctx context.Context, affiliateID int64) (*models.CommissionBalances, error) {
	b := &models.CommissionBalances{AffiliateID: affiliateID, LifetimeCents: f.lifetime[affiliateID]}
	for _, c := range f.commissions {
		if c.AffiliateID != affiliateID {
			continue
		}
		switch c.Status {
		case models.CommissionStatusPending:
			b.PendingCents += c.AmountCents
		case models.CommissionStatusAvailable:
			b.AvailableCents += c.AmountCents
		}
	}
	return b, nil
}

func (f *fakeCommissionRepo) GetAvailableBalance(ctx context.Context, affiliateID int64) (int64, error) {
	b, _ := f.GetBalances(ctx, affiliateID)
	return b.AvailableCents, nil
}

func (f *fakeCommissionRepo) ListByAffiliateID(ctx context.Context, affiliateID int64, limit int) ([]*models.Commission, error) {
	var out []*models.Commission
	for _, c := range f.commissions {
		if c.AffiliateID == affiliateID {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeCommissionRepo) RefundStats(ctx context.Context, affiliateID int64) (int, int, error) {
	total, reversed := 0, 0
	for _, c := range f.commissions {
		if c.AffiliateID != affiliateID || c.SourceType != models.SourceTypeOrder {
			continue
		}
		total++
		if c.Status == models.CommissionStatusReversed {
			reversed++
		}
	}
	return total, reversed, nil
}

// fakeSettings реализует settings.Provider с фиксированными значениями
type fakeSettings struct {
	holdingDays int
	minPayout   int64
}

func (f *fakeSettings) HoldingPeriodDays(ctx context.Context) int { return f.holdingDays }
func (f *fakeSettings) MinPayoutCents(ctx context.Context) int64  { return f.minPayout }

// fakeNotifier считает отправленные уведомления
type fakeNotifier struct {
	earned int
}

func (f *fakeNotifier) CommissionEarned(ctx context.Context, c *models.Commission) error {
	f.earned++
	return nil
}

func (f *fakeNotifier) PayoutStatusChanged(ctx context.Context, r *models.PayoutRequest, old models.PayoutStatus) error {
	return nil
}

func (f *fakeNotifier) HighRiskAlert(ctx context.Context, affiliateID int64, totalScore int) error {
	return nil
}

// fakeAuditRepo собирает записи журнала безопасности
type fakeAuditRepo struct {
	entries []*models.AuditEntry
}

func (f *fakeAuditRepo) Record(ctx context.Context, entry *models.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func newTestService(repo *fakeCommissionRepo) (*Service, *fakeNotifier) {
	notifier := &fakeNotifier{}
	auditor := audit.New(&fakeAuditRepo{}, zap.NewNop())
	svc := NewService(repo, notifier, &fakeSettings{holdingDays: 7}, auditor, nil, zap.NewNop())
	return svc, notifier
}

func TestCalculateCommission(t *testing.T) {
	tests := []struct {
		name     string
		base     int64
		expected int64
	}{
		{"десять процентов от круглой суммы", 10000, 1000},
		{"заказ на 49.99", 4999, 500},
		{"остаток меньше половины округляется вниз", 1004, 100},
		{"остаток больше половины округляется вверх", 1006, 101},
		{"половина при четном частном вниз", 5, 0},
		{"половина при нечетном частном вверх", 15, 2},
		{"минимальная ненулевая комиссия", 6, 1},
		{"единица дает ноль", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateCommission(tt.base))
		})
	}
}

func TestCreateCommission(t *testing.T) {
	repo := newFakeCommissionRepo()
	svc, notifier := newTestService(repo)
	ctx := context.Background()

	commission, err := svc.CreateCommission(ctx, 1, "order-1", models.SourceTypeOrder, 4999)
	require.NoError(t, err)
	require.NotNil(t, commission)

	assert.Equal(t, int64(500), commission.AmountCents)
	assert.Equal(t, models.CommissionStatusPending, commission.Status)
	assert.Equal(t, 1, notifier.earned)

	// Холд: комиссия станет доступной через 7 дней
	expectedRelease := commission.CreatedAt.AddDate(0, 0, 7)
	assert.WithinDuration(t, expectedRelease, commission.AvailableAt, time.Second)

	// Накопительный итог увеличен
	balances, err := svc.GetBalances(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balances.LifetimeCents)
	assert.Equal(t, int64(500), balances.PendingCents)
}

func TestCreateCommissionValidation(t *testing.T) {
	svc, _ := newTestService(newFakeCommissionRepo())
	ctx := context.Background()

	_, err := svc.CreateCommission(ctx, 1, "", models.SourceTypeOrder, 100)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.CreateCommission(ctx, 1, "order-1", "subscription", 100)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.CreateCommission(ctx, 1, "order-1", models.SourceTypeOrder, -100)
	assert.True(t, apperrors.IsValidation(err))
}

func TestCreateCommissionZeroAmountSkipped(t *testing.T) {
	repo := newFakeCommissionRepo()
	svc, notifier := newTestService(repo)

	// Комиссия с базы 5 центов нулевая: начисление тихо пропускается
	commission, err := svc.CreateCommission(context.Background(), 1, "order-tiny", models.SourceTypeOrder, 5)
	assert.NoError(t, err)
	assert.Nil(t, commission)
	assert.Empty(t, repo.commissions)
	assert.Zero(t, notifier.earned)
}

func TestCreateCommissionDuplicateWebhook(t *testing.T) {
	repo := newFakeCommissionRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	first, err := svc.CreateCommission(ctx, 1, "order-1", models.SourceTypeOrder, 10000)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Повторная доставка того же вебхука не создает дубликат и не ошибка
	dup, err := svc.CreateCommission(ctx, 1, "order-1", models.SourceTypeOrder, 10000)
	assert.NoError(t, err)
	assert.Nil(t, dup)

	balances, _ := svc.GetBalances(ctx, 1)
	assert.Equal(t, int64(1000), balances.LifetimeCents)
}

func TestReverseCommission(t *testing.T) {
	repo := newFakeCommissionRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CreateCommission(ctx, 1, "order-1", models.SourceTypeOrder, 10000)
	require.NoError(t, err)

	reversed, err := svc.ReverseCommission(ctx, "order-1", models.SourceTypeOrder)
	require.NoError(t, err)
	require.NotNil(t, reversed)
	assert.Equal(t, models.CommissionStatusReversed, reversed.Status)

	// Накопительный итог уменьшен обратно
	balances, _ := svc.GetBalances(ctx, 1)
	assert.Equal(t, int64(0), balances.LifetimeCents)
	assert.Equal(t, int64(0), balances.PendingCents)

	// Повторная отмена идемпотентна
	again, err := svc.ReverseCommission(ctx, "order-1", models.SourceTypeOrder)
	assert.NoError(t, err)
	assert.Nil(t, again)

	balances, _ = svc.GetBalances(ctx, 1)
	assert.Equal(t, int64(0), balances.LifetimeCents)
}

func TestReverseCommissionUnknownSource(t *testing.T) {
	svc, _ := newTestService(newFakeCommissionRepo())

	// Отмена по неизвестному источнику ничего не меняет
	commission, err := svc.ReverseCommission(context.Background(), "order-missing", models.SourceTypeOrder)
	assert.NoError(t, err)
	assert.Nil(t, commission)
}

func TestMarkAvailable(t *testing.T) {
	repo := newFakeCommissionRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CreateCommission(ctx, 1, "order-1", models.SourceTypeOrder, 10000)
	require.NoError(t, err)

	// До истечения холда ничего не освобождается
	count, err := svc.MarkAvailable(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// После истечения холда комиссия доступна
	count, err = svc.MarkAvailable(ctx, time.Now().AddDate(0, 0, 8))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	balances, _ := svc.GetBalances(ctx, 1)
	assert.Equal(t, int64(1000), balances.AvailableCents)
	assert.Equal(t, int64(0), balances.PendingCents)
}

func TestForceRelease(t *testing.T) {
	repo := newFakeCommissionRepo()
	auditRepo := &fakeAuditRepo{}
	auditor := audit.New(auditRepo, zap.NewNop())
	svc := NewService(repo, &fakeNotifier{}, &fakeSettings{holdingDays: 0}, auditor, nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.CreateCommission(ctx, 1, "order-1", models.SourceTypeOrder, 10000)
	require.NoError(t, err)

	// Нулевой холд: принудительный запуск освобождает комиссию сразу
	count, err := svc.ForceRelease(ctx, "admin@shop")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	balances, _ := svc.GetBalances(ctx, 1)
	assert.Equal(t, int64(1000), balances.AvailableCents)

	// Операция попадает в журнал безопасности с инициатором
	require.Len(t, auditRepo.entries, 1)
	assert.Equal(t, "admin@shop", auditRepo.entries[0].Actor)
	assert.Equal(t, "commissions_force_released", auditRepo.entries[0].Action)
}
