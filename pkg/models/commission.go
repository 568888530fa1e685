package models

import (
	"time"

	"github.com/google/uuid"
)

// CommissionStatus представляет статус комиссии
type CommissionStatus string

const (
	CommissionStatusPending   CommissionStatus = "pending"
	CommissionStatusAvailable CommissionStatus = "available"
	CommissionStatusReversed  CommissionStatus = "reversed"
)

// IsValid проверяет валидность статуса комиссии
func (cs CommissionStatus) IsValid() bool {
	switch cs {
	case CommissionStatusPending, CommissionStatusAvailable, CommissionStatusReversed:
		return true
	default:
		return false
	}
}

// SourceType представляет тип источника комиссии
type SourceType string

const (
	SourceTypeOrder SourceType = "order"
	SourceTypeTopup SourceType = "topup"
)

// IsValid проверяет валидность типа источника
func (st SourceType) IsValid() bool {
	switch st {
	case SourceTypeOrder, SourceTypeTopup:
		return true
	default:
		return false
	}
}

// Commission представляет начисленную комиссию партнера.
// Жизненный цикл: pending -> available (по истечении холда),
// pending/available -> reversed (возврат или чарджбек). Статус reversed конечный.
type Commission struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	AffiliateID int64            `json:"affiliate_id" db:"affiliate_id"`
	SourceID    string           `json:"source_id" db:"source_id"`
	SourceType  SourceType       `json:"source_type" db:"source_type"`
	AmountCents int64            `json:"amount_cents" db:"amount_cents"`
	Status      CommissionStatus `json:"status" db:"status"`
	AvailableAt time.Time        `json:"available_at" db:"available_at"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// CommissionBalances представляет агрегированные балансы комиссий партнера.
// Available — сумма доступных комиссий за вычетом выплат и конвертаций.
type CommissionBalances struct {
	AffiliateID    int64 `json:"affiliate_id"`
	PendingCents   int64 `json:"pending_cents"`
	AvailableCents int64 `json:"available_cents"`
	LifetimeCents  int64 `json:"lifetime_cents"`
}
