package models

import (
	"time"
)

// AuditEntry представляет запись журнала безопасности.
// Журнал ведется по принципу best-effort: сбой записи не откатывает
// финансовую операцию, которую он сопровождает.
type AuditEntry struct {
	ID         int64     `json:"id" db:"id"`
	Actor      string    `json:"actor" db:"actor"`
	Action     string    `json:"action" db:"action"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	OldValue   string    `json:"old_value" db:"old_value"`
	NewValue   string    `json:"new_value" db:"new_value"`
	Metadata   Metadata  `json:"metadata" db:"metadata"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
