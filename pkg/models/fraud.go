package models

import (
	"time"

	"github.com/google/uuid"
)

// FraudEventType представляет тип фрод-сигнала
type FraudEventType string

const (
	FraudEventVPNIP                    FraudEventType = "vpn_ip"
	FraudEventDatacenterIP             FraudEventType = "datacenter_ip"
	FraudEventTorIP                    FraudEventType = "tor_ip"
	FraudEventDeviceReuse              FraudEventType = "device_reuse"
	FraudEventDeviceMassReuse          FraudEventType = "device_mass_reuse"
	FraudEventSelfReferral             FraudEventType = "self_referral"
	FraudEventDeviceMultiAffiliate     FraudEventType = "device_multi_affiliate"
	FraudEventDisposableEmail          FraudEventType = "disposable_email"
	FraudEventEmailAlias               FraudEventType = "email_alias"
	FraudEventEmailBotPattern          FraudEventType = "email_bot_pattern"
	FraudEventInstrumentReuse          FraudEventType = "instrument_reuse"
	FraudEventInstrumentMultiAffiliate FraudEventType = "instrument_multi_affiliate"
	FraudEventHighRefundRate           FraudEventType = "high_refund_rate"
	FraudEventChargeback               FraudEventType = "chargeback"
)

// Фиксированные баллы фрод-сигналов
const (
	ScoreVPNIP                    = 15
	ScoreDatacenterIP             = 20
	ScoreTorIP                    = 25
	ScoreDeviceReuse              = 20
	ScoreDeviceMassReuse          = 40
	ScoreSelfReferral             = 25
	ScoreDeviceMultiAffiliate     = 30
	ScoreDisposableEmail          = 30
	ScoreEmailAlias               = 10
	ScoreEmailBotPattern          = 25
	ScoreInstrumentReuse          = 40
	ScoreInstrumentMultiAffiliate = 50
	ScoreHighRefundRate           = 30
	ScoreChargeback               = 60
)

// Metadata представляет произвольные данные события для аудита.
// Содержимое никогда не участвует в логике, только отображается в админке.
type Metadata map[string]any

// FraudEvent представляет фрод-событие партнера. Журнал только для добавления:
// события не дедуплицируются и не удаляются.
type FraudEvent struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	AffiliateID     int64          `json:"affiliate_id" db:"affiliate_id"`
	Type            FraudEventType `json:"type" db:"type"`
	Score           int            `json:"score" db:"score"`
	Metadata        Metadata       `json:"metadata" db:"metadata"`
	RelatedUserID   *int64         `json:"related_user_id,omitempty" db:"related_user_id"`
	RelatedSourceID *string        `json:"related_source_id,omitempty" db:"related_source_id"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// RiskLevel представляет уровень риска партнера
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
	RiskLevelFrozen RiskLevel = "frozen"
)

// Пороги уровней риска по суммарному баллу
const (
	RiskThresholdMedium = 20
	RiskThresholdHigh   = 40
	RiskThresholdFrozen = 60
)

// RiskLevelForScore возвращает уровень риска по суммарному баллу.
// Для незамороженного партнера балл выше порога заморозки дает high:
// метка frozen ставится только при фактической заморозке аккаунта.
func RiskLevelForScore(totalScore int, frozen bool) RiskLevel {
	if frozen {
		return RiskLevelFrozen
	}
	switch {
	case totalScore < RiskThresholdMedium:
		return RiskLevelLow
	case totalScore < RiskThresholdHigh:
		return RiskLevelMedium
	default:
		return RiskLevelHigh
	}
}

// FraudScore представляет агрегированный фрод-балл партнера (1:1 с партнером).
// TotalScore всегда пересчитывается как сумма всех событий партнера.
type FraudScore struct {
	AffiliateID int64     `json:"affiliate_id" db:"affiliate_id"`
	TotalScore  int       `json:"total_score" db:"total_score"`
	RiskLevel   RiskLevel `json:"risk_level" db:"risk_level"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// FraudSummary представляет сводку по фроду для админки
type FraudSummary struct {
	Affiliate    *Affiliate    `json:"affiliate"`
	Score        *FraudScore   `json:"score"`
	RecentEvents []*FraudEvent `json:"recent_events"`
	EventCount   int           `json:"event_count"`
}
