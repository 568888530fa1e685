package fraud

import (
	"context"
	"fmt"
	"testing"

	"partnerka/internal/audit"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFraudRepo реализует store.FraudRepository в памяти
type fakeFraudRepo struct {
	events        []*models.FraudEvent
	scores        map[int64]*models.FraudScore
	signups       []*models.Signup
	orderPayments []*models.OrderPayment
}

func newFakeFraudRepo() *fakeFraudRepo {
	return &fakeFraudRepo{scores: make(map[int64]*models.FraudScore)}
}

func (f *fakeFraudRepo) InsertEvent(ctx context.Context, event *models.FraudEvent) error {
	clone := *event
	f.events = append(f.events, &clone)
	return nil
}

func (f *fakeFraudRepo) SumScores(ctx context.Context, affiliateID int64) (int, error) {
	total := 0
	for _, e := range f.events {
		if e.AffiliateID == affiliateID {
			total += e.Score
		}
	}
	return total, nil
}

func (f *fakeFraudRepo) UpsertScore(ctx context.Context, score *models.FraudScore) error {
	clone := *score
	f.scores[score.AffiliateID] = &clone
	return nil
}

func (f *fakeFraudRepo) GetScore(ctx context.Context, affiliateID int64) (*models.FraudScore, error) {
	if s, ok := f.scores[affiliateID]; ok {
		clone := *s
		return &clone, nil
	}
	return &models.FraudScore{AffiliateID: affiliateID, RiskLevel: models.RiskLevelLow}, nil
}

func (f *fakeFraudRepo) ListEvents(ctx context.Context, affiliateID int64, limit int) ([]*models.FraudEvent, error) {
	var out []*models.FraudEvent
	for _, e := range f.events {
		if e.AffiliateID == affiliateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeFraudRepo) CountEvents(ctx context.Context, affiliateID int64) (int, error) {
	count := 0
	for _, e := range f.events {
		if e.AffiliateID == affiliateID {
			count++
		}
	}
	return count, nil
}

func (f *fakeFraudRepo) CreateSignup(ctx context.Context, signup *models.Signup) error {
	clone := *signup
	clone.ID = int64(len(f.signups) + 1)
	f.signups = append(f.signups, &clone)
	signup.ID = clone.ID
	return nil
}

func (f *fakeFraudRepo) CountSignupsByFingerprint(ctx context.Context, affiliateID int64, fingerprint string) (int, error) {
	count := 0
	for _, s := range f.signups {
		if s.AffiliateID == affiliateID && s.DeviceFingerprint == fingerprint && fingerprint != "" {
			count++
		}
	}
	return count, nil
}

func (f *fakeFraudRepo) CountAffiliatesByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	seen := make(map[int64]bool)
	for _, s := range f.signups {
		if s.DeviceFingerprint == fingerprint && fingerprint != "" {
			seen[s.AffiliateID] = true
		}
	}
	return len(seen), nil
}

func (f *fakeFraudRepo) EmailBaseReferred(ctx context.Context, emailBase string, excludeUserID int64) (bool, error) {
	for _, s := range f.signups {
		if s.EmailBase == emailBase && s.ReferredUserID != excludeUserID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFraudRepo) CreateOrderPayment(ctx context.Context, payment *models.OrderPayment) error {
	clone := *payment
	clone.ID = int64(len(f.orderPayments) + 1)
	f.orderPayments = append(f.orderPayments, &clone)
	return nil
}

func (f *fakeFraudRepo) CountInstrumentOtherUsers(ctx context.Context, fingerprint string, userID int64) (int, error) {
	seen := make(map[int64]bool)
	for _, p := range f.orderPayments {
		if p.InstrumentFingerprint == fingerprint && fingerprint != "" && p.UserID != userID {
			seen[p.UserID] = true
		}
	}
	return len(seen), nil
}

func (f *fakeFraudRepo) CountInstrumentAffiliates(ctx context.Context, fingerprint string) (int, error) {
	seen := make(map[int64]bool)
	for _, p := range f.orderPayments {
		if p.InstrumentFingerprint == fingerprint && fingerprint != "" {
			seen[p.AffiliateID] = true
		}
	}
	return len(seen), nil
}

// fakeAffiliateRepo реализует store.AffiliateRepository в памяти
type fakeAffiliateRepo struct {
	affiliates map[int64]*models.Affiliate
}

func newFakeAffiliateRepo(affiliates ...*models.Affiliate) *fakeAffiliateRepo {
	repo := &fakeAffiliateRepo{affiliates: make(map[int64]*models.Affiliate)}
	for _, a := range affiliates {
		repo.affiliates[a.ID] = a
	}
	return repo
}

func (f *fakeAffiliateRepo) Create(ctx context.Context, a *models.Affiliate) error {
	for _, existing := range f.affiliates {
		if existing.OwnerUserID == a.OwnerUserID || existing.ReferralCode == a.ReferralCode {
			return apperrors.NewConflict("партнер с таким кодом или владельцем уже существует", "")
		}
	}
	a.ID = int64(len(f.affiliates) + 1)
	f.affiliates[a.ID] = a
	return nil
}

func (f *fakeAffiliateRepo) GetByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	a, ok := f.affiliates[id]
	if !ok {
		return nil, apperrors.NewNotFound("партнер", fmt.Sprintf("%d", id))
	}
	clone := *a
	return &clone, nil
}

func (f *fakeAffiliateRepo) GetByOwnerUserID(ctx context.Context, ownerUserID int64) (*models.Affiliate, error) {
	for _, a := range f.affiliates {
		if a.OwnerUserID == ownerUserID {
			clone := *a
			return &clone, nil
		}
	}
	return nil, apperrors.NewNotFound("партнер", fmt.Sprintf("%d", ownerUserID))
}

func (f *fakeAffiliateRepo) GetByReferralCode(ctx context.Context, code string) (*models.Affiliate, error) {
	for _, a := range f.affiliates {
		if a.ReferralCode == code {
			clone := *a
			return &clone, nil
		}
	}
	return nil, apperrors.NewNotFound("партнер", code)
}

func (f *fakeAffiliateRepo) SetFrozen(ctx context.Context, id int64, frozen bool) (bool, error) {
	a, ok := f.affiliates[id]
	if !ok || a.IsFrozen == frozen {
		return false, nil
	}
	a.IsFrozen = frozen
	return true, nil
}

func (f *fakeAffiliateRepo) List(ctx context.Context, filter models.AffiliateFilter) ([]*models.Affiliate, error) {
	var out []*models.Affiliate
	for _, a := range f.affiliates {
		clone := *a
		out = append(out, &clone)
	}
	return out, nil
}

// fakeAuditRepo реализует store.AuditRepository в памяти
type fakeAuditRepo struct {
	entries []*models.AuditEntry
}

func (f *fakeAuditRepo) Record(ctx context.Context, entry *models.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

// fakeNotifier считает алерты о высоком риске
type fakeNotifier struct {
	alerts []int
}

func (f *fakeNotifier) CommissionEarned(ctx context.Context, c *models.Commission) error { return nil }

func (f *fakeNotifier) PayoutStatusChanged(ctx context.Context, r *models.PayoutRequest, old models.PayoutStatus) error {
	return nil
}

func (f *fakeNotifier) HighRiskAlert(ctx context.Context, affiliateID int64, totalScore int) error {
	f.alerts = append(f.alerts, totalScore)
	return nil
}

func newTestFraudService(affiliates ...*models.Affiliate) (*Service, *fakeFraudRepo, *fakeAffiliateRepo, *fakeNotifier) {
	fraudRepo := newFakeFraudRepo()
	affiliateRepo := newFakeAffiliateRepo(affiliates...)
	notifier := &fakeNotifier{}
	auditor := audit.New(&fakeAuditRepo{}, zap.NewNop())
	svc := NewService(fraudRepo, affiliateRepo, notifier, auditor, nil, zap.NewNop())
	return svc, fraudRepo, affiliateRepo, notifier
}

func testAffiliate(id int64) *models.Affiliate {
	return &models.Affiliate{ID: id, OwnerUserID: id * 100, ReferralCode: fmt.Sprintf("CODE%d", id)}
}

func TestAddEventAccumulatesScore(t *testing.T) {
	svc, fraudRepo, _, _ := newTestFraudService(testAffiliate(1))
	ctx := context.Background()

	_, err := svc.AddEvent(ctx, 1, models.FraudEventVPNIP, models.ScoreVPNIP, nil, nil, nil)
	require.NoError(t, err)

	score, err := fraudRepo.GetScore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 15, score.TotalScore)
	assert.Equal(t, models.RiskLevelLow, score.RiskLevel)

	// События не дедуплицируются: тот же сигнал добавляет балл повторно
	_, err = svc.AddEvent(ctx, 1, models.FraudEventVPNIP, models.ScoreVPNIP, nil, nil, nil)
	require.NoError(t, err)

	score, _ = fraudRepo.GetScore(ctx, 1)
	assert.Equal(t, 30, score.TotalScore)
	assert.Equal(t, models.RiskLevelMedium, score.RiskLevel)
}

func TestAddEventValidation(t *testing.T) {
	svc, _, _, _ := newTestFraudService(testAffiliate(1))

	_, err := svc.AddEvent(context.Background(), 1, models.FraudEventVPNIP, 0, nil, nil, nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.AddEvent(context.Background(), 99, models.FraudEventVPNIP, 15, nil, nil, nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAutoFreezeAtThreshold(t *testing.T) {
	svc, fraudRepo, affiliateRepo, _ := newTestFraudService(testAffiliate(1))
	ctx := context.Background()

	// Один чарджбек дает 60 баллов и замораживает партнера
	_, err := svc.AddEvent(ctx, 1, models.FraudEventChargeback, models.ScoreChargeback, nil, nil, nil)
	require.NoError(t, err)

	affiliate, _ := affiliateRepo.GetByID(ctx, 1)
	assert.True(t, affiliate.IsFrozen)

	score, _ := fraudRepo.GetScore(ctx, 1)
	assert.Equal(t, models.RiskLevelFrozen, score.RiskLevel)

	// Дальнейшие события не меняют статус заморозки повторно
	_, err = svc.AddEvent(ctx, 1, models.FraudEventVPNIP, models.ScoreVPNIP, nil, nil, nil)
	require.NoError(t, err)

	affiliate, _ = affiliateRepo.GetByID(ctx, 1)
	assert.True(t, affiliate.IsFrozen)

	score, _ = fraudRepo.GetScore(ctx, 1)
	assert.Equal(t, 75, score.TotalScore)
	assert.Equal(t, models.RiskLevelFrozen, score.RiskLevel)
}

func TestHighRiskAlertWindow(t *testing.T) {
	svc, _, _, notifier := newTestFraudService(testAffiliate(1))
	ctx := context.Background()

	// 20 + 20 = 40: вход в зону high внутри окна, алерт отправлен
	_, err := svc.AddEvent(ctx, 1, models.FraudEventDeviceReuse, models.ScoreDeviceReuse, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, notifier.alerts)

	_, err = svc.AddEvent(ctx, 1, models.FraudEventDeviceReuse, models.ScoreDeviceReuse, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, 40, notifier.alerts[0])

	// Балл растет дальше, но алерт разовый
	_, err = svc.AddEvent(ctx, 1, models.FraudEventEmailAlias, models.ScoreEmailAlias, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, notifier.alerts, 1)
}

func TestHighRiskAlertSkippedByJump(t *testing.T) {
	svc, _, _, notifier := newTestFraudService(testAffiliate(1))
	ctx := context.Background()

	// 30 + 50 = 80: одно крупное событие перепрыгивает окно [40, 50),
	// алерт не отправляется
	_, err := svc.AddEvent(ctx, 1, models.FraudEventDisposableEmail, models.ScoreDisposableEmail, nil, nil, nil)
	require.NoError(t, err)

	_, err = svc.AddEvent(ctx, 1, models.FraudEventInstrumentMultiAffiliate, models.ScoreInstrumentMultiAffiliate, nil, nil, nil)
	require.NoError(t, err)

	assert.Empty(t, notifier.alerts)
}

func TestManualFreezeAndUnfreeze(t *testing.T) {
	svc, fraudRepo, affiliateRepo, _ := newTestFraudService(testAffiliate(1))
	ctx := context.Background()

	_, err := svc.AddEvent(ctx, 1, models.FraudEventDeviceReuse, models.ScoreDeviceReuse, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.FreezeAffiliate(ctx, 1, "admin@shop"))

	affiliate, _ := affiliateRepo.GetByID(ctx, 1)
	assert.True(t, affiliate.IsFrozen)

	score, _ := fraudRepo.GetScore(ctx, 1)
	assert.Equal(t, models.RiskLevelFrozen, score.RiskLevel)

	// Повторная заморозка — конфликт
	err = svc.FreezeAffiliate(ctx, 1, "admin@shop")
	assert.True(t, apperrors.IsConflict(err))

	// Разморозка возвращает уровень, рассчитанный из текущего балла
	require.NoError(t, svc.UnfreezeAffiliate(ctx, 1, "admin@shop"))

	affiliate, _ = affiliateRepo.GetByID(ctx, 1)
	assert.False(t, affiliate.IsFrozen)

	score, _ = fraudRepo.GetScore(ctx, 1)
	assert.Equal(t, 20, score.TotalScore)
	assert.Equal(t, models.RiskLevelMedium, score.RiskLevel)

	// Разморозка незамороженного — конфликт
	err = svc.UnfreezeAffiliate(ctx, 1, "admin@shop")
	assert.True(t, apperrors.IsConflict(err))
}

func TestUnfreezeKeepsHighRiskLevel(t *testing.T) {
	svc, fraudRepo, affiliateRepo, _ := newTestFraudService(testAffiliate(1))
	ctx := context.Background()

	_, err := svc.AddEvent(ctx, 1, models.FraudEventChargeback, models.ScoreChargeback, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.UnfreezeAffiliate(ctx, 1, "admin@shop"))

	// Балл остался выше порога заморозки, но партнер разморожен:
	// уровень high, а не frozen. Следующее событие заморозит снова.
	affiliate, _ := affiliateRepo.GetByID(ctx, 1)
	assert.False(t, affiliate.IsFrozen)

	score, _ := fraudRepo.GetScore(ctx, 1)
	assert.Equal(t, models.RiskLevelHigh, score.RiskLevel)

	_, err = svc.AddEvent(ctx, 1, models.FraudEventEmailAlias, models.ScoreEmailAlias, nil, nil, nil)
	require.NoError(t, err)

	affiliate, _ = affiliateRepo.GetByID(ctx, 1)
	assert.True(t, affiliate.IsFrozen)
}

func TestScoreOrderIndependence(t *testing.T) {
	tests := []struct {
		name       string
		scores     []int
		wantTotal  int
		wantLevel  models.RiskLevel
		wantFrozen bool
	}{
		{
			name:      "зона high без заморозки",
			scores:    []int{15, 10, 20},
			wantTotal: 45,
			wantLevel: models.RiskLevelHigh,
		},
		{
			name:       "порог заморозки",
			scores:     []int{25, 25, 15},
			wantTotal:  65,
			wantLevel:  models.RiskLevelFrozen,
			wantFrozen: true,
		},
	}

	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, perm := range permutations {
				svc, fraudRepo, affiliateRepo, _ := newTestFraudService(testAffiliate(1))
				ctx := context.Background()

				for _, i := range perm {
					_, err := svc.AddEvent(ctx, 1, models.FraudEventVPNIP, tt.scores[i], nil, nil, nil)
					require.NoError(t, err, "порядок %v", perm)
				}

				score, err := fraudRepo.GetScore(ctx, 1)
				require.NoError(t, err)
				assert.Equal(t, tt.wantTotal, score.TotalScore, "порядок %v", perm)
				assert.Equal(t, tt.wantLevel, score.RiskLevel, "порядок %v", perm)

				affiliate, _ := affiliateRepo.GetByID(ctx, 1)
				assert.Equal(t, tt.wantFrozen, affiliate.IsFrozen, "порядок %v", perm)
			}
		})
	}
}

func TestGetSummary(t *testing.T) {
	svc, _, _, _ := newTestFraudService(testAffiliate(1))
	ctx := context.Background()

	_, err := svc.AddEvent(ctx, 1, models.FraudEventVPNIP, models.ScoreVPNIP, nil, nil, nil)
	require.NoError(t, err)
	_, err = svc.AddEvent(ctx, 1, models.FraudEventSelfReferral, models.ScoreSelfReferral, nil, nil, nil)
	require.NoError(t, err)

	summary, err := svc.GetSummary(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Affiliate.ID)
	assert.Equal(t, 40, summary.Score.TotalScore)
	assert.Equal(t, 2, summary.EventCount)
	assert.Len(t, summary.RecentEvents, 2)
}
