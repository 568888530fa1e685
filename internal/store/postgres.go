package store

import (
	"context"
	"fmt"
	"time"

	"partnerka/internal/config"
	"partnerka/pkg/apperrors"
	"partnerka/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store представляет интерфейс для работы с базой данных
type Store interface {
	Affiliate() AffiliateRepository
	Referral() ReferralRepository
	Commission() CommissionRepository
	Fraud() FraudRepository
	StoreCredit() StoreCreditRepository
	Payout() PayoutRepository
	Audit() AuditRepository
	Settings() SettingsRepository
	DB() *pgxpool.Pool
	Close() error
}

// store реализует интерфейс Store
type store struct {
	db          *pgxpool.Pool
	logger      *zap.Logger
	affiliate   AffiliateRepository
	referral    ReferralRepository
	commission  CommissionRepository
	fraud       FraudRepository
	storeCredit StoreCreditRepository
	payout      PayoutRepository
	audit       AuditRepository
	settings    SettingsRepository
}

// AffiliateRepository интерфейс для работы с партнерами
type AffiliateRepository interface {
	Create(ctx context.Context, affiliate *models.Affiliate) error
	GetByID(ctx context.Context, id int64) (*models.Affiliate, error)
	GetByOwnerUserID(ctx context.Context, ownerUserID int64) (*models.Affiliate, error)
	GetByReferralCode(ctx context.Context, code string) (*models.Affiliate, error)
	SetFrozen(ctx context.Context, id int64, frozen bool) (bool, error)
	List(ctx context.Context, filter models.AffiliateFilter) ([]*models.Affiliate, error)
}

// AuditRepository интерфейс журнала безопасности
type AuditRepository interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

// SettingsRepository интерфейс для админских настроек
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	// Создание пула
	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// Проверка подключения
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	s := &store{
		db:     db,
		logger: logger,
	}

	// Инициализация репозиториев
	s.affiliate = NewAffiliateRepository(db, logger)
	s.referral = NewReferralRepository(db, logger)
	s.commission = NewCommissionRepository(db, logger)
	s.fraud = NewFraudRepository(db, logger)
	s.storeCredit = NewStoreCreditRepository(db, logger)
	s.payout = NewPayoutRepository(db, logger)
	s.audit = NewAuditRepository(db, logger)
	s.settings = NewSettingsRepository(db, logger)

	return s, nil
}

// Affiliate возвращает репозиторий партнеров
func (s *store) Affiliate() AffiliateRepository {
	return s.affiliate
}

// Referral возвращает репозиторий рефералов
func (s *store) Referral() ReferralRepository {
	return s.referral
}

// Commission возвращает репозиторий комиссий
func (s *store) Commission() CommissionRepository {
	return s.commission
}

// Fraud возвращает репозиторий фрод-событий
func (s *store) Fraud() FraudRepository {
	return s.fraud
}

// StoreCredit возвращает репозиторий внутренних счетов
func (s *store) StoreCredit() StoreCreditRepository {
	return s.storeCredit
}

// Payout возвращает репозиторий выплат
func (s *store) Payout() PayoutRepository {
	return s.payout
}

// Audit возвращает репозиторий журнала безопасности
func (s *store) Audit() AuditRepository {
	return s.audit
}

// Settings возвращает репозиторий настроек
func (s *store) Settings() SettingsRepository {
	return s.settings
}

// DB возвращает подключение к базе данных
func (s *store) DB() *pgxpool.Pool {
	return s.db
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}

// affiliateRepository реализует AffiliateRepository
type affiliateRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewAffiliateRepository создает новый репозиторий партнеров
func NewAffiliateRepository(db *pgxpool.Pool, logger *zap.Logger) AffiliateRepository {
	return &affiliateRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает нового партнера
func (r *affiliateRepository) Create(ctx context.Context, affiliate *models.Affiliate) error {
	query := `
		INSERT INTO affiliates (owner_user_id, referral_code, total_commission_lifetime_cents, is_frozen, created_at)
		VALUES ($1, $2, 0, false, $3)
		RETURNING id`

	affiliate.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		affiliate.OwnerUserID,
		affiliate.ReferralCode,
		affiliate.CreatedAt,
	).Scan(&affiliate.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflict("партнер с таким кодом или владельцем уже существует", "")
		}
		return fmt.Errorf("ошибка создания партнера: %w", err)
	}

	r.logger.Info("партнер создан",
		zap.Int64("affiliate_id", affiliate.ID),
		zap.Int64("owner_user_id", affiliate.OwnerUserID),
		zap.String("referral_code", affiliate.ReferralCode))

	return nil
}

// GetByID получает партнера по ID
func (r *affiliateRepository) GetByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

// GetByOwnerUserID получает партнера по ID пользователя-владельца
func (r *affiliateRepository) GetByOwnerUserID(ctx context.Context, ownerUserID int64) (*models.Affiliate, error) {
	return r.getOne(ctx, `WHERE owner_user_id = $1`, ownerUserID)
}

// GetByReferralCode получает партнера по реферальному коду
func (r *affiliateRepository) GetByReferralCode(ctx context.Context, code string) (*models.Affiliate, error) {
	return r.getOne(ctx, `WHERE referral_code = $1`, code)
}

func (r *affiliateRepository) getOne(ctx context.Context, where string, arg any) (*models.Affiliate, error) {
	query := `
		SELECT id, owner_user_id, referral_code, total_commission_lifetime_cents, is_frozen, created_at
		FROM affiliates ` + where

	affiliate := &models.Affiliate{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&affiliate.ID,
		&affiliate.OwnerUserID,
		&affiliate.ReferralCode,
		&affiliate.TotalCommissionLifetimeCents,
		&affiliate.IsFrozen,
		&affiliate.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("партнер", fmt.Sprintf("%v", arg))
		}
		return nil, fmt.Errorf("ошибка получения партнера: %w", err)
	}

	return affiliate, nil
}

// SetFrozen условно переключает флаг заморозки. Возвращает true, если флаг
// фактически изменился: повторный вызов для уже замороженного партнера
// ничего не меняет и возвращает false.
func (r *affiliateRepository) SetFrozen(ctx context.Context, id int64, frozen bool) (bool, error) {
	query := `UPDATE affiliates SET is_frozen = $2 WHERE id = $1 AND is_frozen <> $2`

	result, err := r.db.Exec(ctx, query, id, frozen)
	if err != nil {
		return false, fmt.Errorf("ошибка изменения флага заморозки: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// List получает партнеров по фильтру для админки
func (r *affiliateRepository) List(ctx context.Context, filter models.AffiliateFilter) ([]*models.Affiliate, error) {
	query := `
		SELECT a.id, a.owner_user_id, a.referral_code, a.total_commission_lifetime_cents, a.is_frozen, a.created_at
		FROM affiliates a
		LEFT JOIN fraud_scores fs ON fs.affiliate_id = a.id`

	args := []any{}
	where := ""
	if filter.RiskLevel != nil {
		args = append(args, *filter.RiskLevel)
		where += fmt.Sprintf(" AND COALESCE(fs.risk_level, 'low') = $%d", len(args))
	}
	if filter.IsFrozen != nil {
		args = append(args, *filter.IsFrozen)
		where += fmt.Sprintf(" AND a.is_frozen = $%d", len(args))
	}
	if where != "" {
		query += " WHERE " + where[5:]
	}
	query += " ORDER BY a.created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка партнеров: %w", err)
	}
	defer rows.Close()

	var affiliates []*models.Affiliate
	for rows.Next() {
		affiliate := &models.Affiliate{}
		err := rows.Scan(
			&affiliate.ID,
			&affiliate.OwnerUserID,
			&affiliate.ReferralCode,
			&affiliate.TotalCommissionLifetimeCents,
			&affiliate.IsFrozen,
			&affiliate.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования партнера: %w", err)
		}
		affiliates = append(affiliates, affiliate)
	}

	return affiliates, nil
}
