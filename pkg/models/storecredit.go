package models

import (
	"time"

	"github.com/google/uuid"
)

// StoreCreditTransactionType представляет тип операции со store credit
type StoreCreditTransactionType string

const (
	StoreCreditCredit StoreCreditTransactionType = "credit"
	StoreCreditDebit  StoreCreditTransactionType = "debit"
)

// StoreCreditBalance представляет текущий баланс внутреннего счета пользователя.
// Баланс никогда не бывает отрицательным.
type StoreCreditBalance struct {
	UserID       int64     `json:"user_id" db:"user_id"`
	BalanceCents int64     `json:"balance_cents" db:"balance_cents"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// StoreCreditTransaction представляет операцию по внутреннему счету.
// Журнал только для добавления, записи неизменяемы.
type StoreCreditTransaction struct {
	ID          uuid.UUID                  `json:"id" db:"id"`
	UserID      int64                      `json:"user_id" db:"user_id"`
	Type        StoreCreditTransactionType `json:"type" db:"type"`
	AmountCents int64                      `json:"amount_cents" db:"amount_cents"`
	Reason      string                     `json:"reason" db:"reason"`
	Metadata    Metadata                   `json:"metadata" db:"metadata"`
	CreatedAt   time.Time                  `json:"created_at" db:"created_at"`
}
