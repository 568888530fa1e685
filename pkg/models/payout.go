package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutMethodType представляет тип платежного метода для выплат
type PayoutMethodType string

const (
	PayoutMethodPaypal PayoutMethodType = "paypal"
	PayoutMethodBank   PayoutMethodType = "bank"
)

// IsValid проверяет валидность типа платежного метода
func (pt PayoutMethodType) IsValid() bool {
	switch pt {
	case PayoutMethodPaypal, PayoutMethodBank:
		return true
	default:
		return false
	}
}

// PayoutMethod представляет реквизиты партнера для выплат
type PayoutMethod struct {
	AffiliateID int64            `json:"affiliate_id" db:"affiliate_id"`
	Type        PayoutMethodType `json:"type" db:"type"`
	Details     Metadata         `json:"details" db:"details"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// PayoutStatus представляет статус заявки на выплату
type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusApproved PayoutStatus = "approved"
	PayoutStatusDeclined PayoutStatus = "declined"
	PayoutStatusPaid     PayoutStatus = "paid"
)

// CanTransitionTo проверяет допустимость перехода статуса заявки.
// pending -> approved|declined, approved -> paid. Остальные переходы запрещены.
func (ps PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	switch ps {
	case PayoutStatusPending:
		return next == PayoutStatusApproved || next == PayoutStatusDeclined
	case PayoutStatusApproved:
		return next == PayoutStatusPaid
	default:
		return false
	}
}

// PayoutRequest представляет заявку партнера на выплату
type PayoutRequest struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	AffiliateID int64        `json:"affiliate_id" db:"affiliate_id"`
	AmountCents int64        `json:"amount_cents" db:"amount_cents"`
	Status      PayoutStatus `json:"status" db:"status"`
	AdminNote   string       `json:"admin_note" db:"admin_note"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty" db:"processed_at"`
}

// PayoutFilter задает фильтры для выборки заявок на выплату
type PayoutFilter struct {
	Status *PayoutStatus `json:"status,omitempty"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}
