package models

import (
	"time"
)

// Affiliate представляет участника партнерской программы
type Affiliate struct {
	ID                           int64     `json:"id" db:"id"`
	OwnerUserID                  int64     `json:"owner_user_id" db:"owner_user_id"`
	ReferralCode                 string    `json:"referral_code" db:"referral_code"`
	TotalCommissionLifetimeCents int64     `json:"total_commission_lifetime_cents" db:"total_commission_lifetime_cents"`
	IsFrozen                     bool      `json:"is_frozen" db:"is_frozen"`
	CreatedAt                    time.Time `json:"created_at" db:"created_at"`
}

// Referral представляет связь приглашенного пользователя с партнером.
// Один пользователь может быть приглашен только одним партнером.
type Referral struct {
	ID             int64     `json:"id" db:"id"`
	AffiliateID    int64     `json:"affiliate_id" db:"affiliate_id"`
	ReferredUserID int64     `json:"referred_user_id" db:"referred_user_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Signup представляет зафиксированную регистрацию по партнерской ссылке.
// Используется детекторами фрода для поиска повторных фингерпринтов и email.
type Signup struct {
	ID                int64     `json:"id" db:"id"`
	AffiliateID       int64     `json:"affiliate_id" db:"affiliate_id"`
	ReferredUserID    int64     `json:"referred_user_id" db:"referred_user_id"`
	IP                string    `json:"ip" db:"ip"`
	UserAgent         string    `json:"user_agent" db:"user_agent"`
	DeviceFingerprint string    `json:"device_fingerprint" db:"device_fingerprint"`
	Email             string    `json:"email" db:"email"`
	EmailBase         string    `json:"email_base" db:"email_base"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// OrderPayment представляет привязку платежного инструмента к заказу.
// Фиксируется при оплате заказа приглашенным пользователем.
type OrderPayment struct {
	ID                    int64     `json:"id" db:"id"`
	SourceID              string    `json:"source_id" db:"source_id"`
	UserID                int64     `json:"user_id" db:"user_id"`
	AffiliateID           int64     `json:"affiliate_id" db:"affiliate_id"`
	InstrumentFingerprint string    `json:"instrument_fingerprint" db:"instrument_fingerprint"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
}

// AffiliateFilter задает фильтры для выборки партнеров в админке
type AffiliateFilter struct {
	RiskLevel *RiskLevel `json:"risk_level,omitempty"`
	IsFrozen  *bool      `json:"is_frozen,omitempty"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}
