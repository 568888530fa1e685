package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения
type Metrics struct {
	logger *zap.Logger

	// Счетчики
	commissionsCreated  *prometheus.CounterVec
	commissionsReversed *prometheus.CounterVec
	commissionsReleased prometheus.Counter
	fraudEvents         *prometheus.CounterVec
	affiliatesFrozen    *prometheus.CounterVec
	payoutTransitions   *prometheus.CounterVec
	storeCreditOps      *prometheus.CounterVec

	// Гистограммы
	commissionAmount  prometheus.Histogram
	fraudEventScore   prometheus.Histogram
	storeCreditAmount prometheus.Histogram
}

// New создает новый экземпляр метрик
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger: logger,

		commissionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commissions_created_total",
				Help: "Общее количество созданных комиссий",
			},
			[]string{"source_type"},
		),

		commissionsReversed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commissions_reversed_total",
				Help: "Общее количество отмененных комиссий",
			},
			[]string{"source_type"},
		),

		commissionsReleased: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commissions_released_total",
				Help: "Общее количество комиссий, переведенных в available",
			},
		),

		fraudEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraud_events_total",
				Help: "Общее количество фрод-событий",
			},
			[]string{"type"},
		),

		affiliatesFrozen: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliates_frozen_total",
				Help: "Общее количество заморозок партнеров",
			},
			[]string{"trigger"}, // auto, admin
		),

		payoutTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payout_transitions_total",
				Help: "Общее количество переходов статусов выплат",
			},
			[]string{"to_status"},
		),

		storeCreditOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_credit_operations_total",
				Help: "Общее количество операций по внутренним счетам",
			},
			[]string{"type"}, // credit, debit
		),

		commissionAmount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "commission_amount_cents",
				Help:    "Размер начисленной комиссии в центах",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 50000},
			},
		),

		fraudEventScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fraud_event_score",
				Help:    "Балл одного фрод-события",
				Buckets: []float64{10, 15, 20, 25, 30, 40, 50, 60},
			},
		),

		storeCreditAmount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "store_credit_amount_cents",
				Help:    "Размер операции по внутреннему счету в центах",
				Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 50000},
			},
		),
	}

	// Регистрируем все метрики
	prometheus.MustRegister(
		m.commissionsCreated,
		m.commissionsReversed,
		m.commissionsReleased,
		m.fraudEvents,
		m.affiliatesFrozen,
		m.payoutTransitions,
		m.storeCreditOps,
		m.commissionAmount,
		m.fraudEventScore,
		m.storeCreditAmount,
	)

	return m
}

// RecordCommissionCreated записывает создание комиссии
func (m *Metrics) RecordCommissionCreated(sourceType string, amountCents int64) {
	m.commissionsCreated.WithLabelValues(sourceType).Inc()
	m.commissionAmount.Observe(float64(amountCents))
}

// RecordCommissionReversed записывает отмену комиссии
func (m *Metrics) RecordCommissionReversed(sourceType string) {
	m.commissionsReversed.WithLabelValues(sourceType).Inc()
}

// RecordCommissionsReleased записывает перевод комиссий в available
func (m *Metrics) RecordCommissionsReleased(count int64) {
	m.commissionsReleased.Add(float64(count))
}

// RecordFraudEvent записывает фрод-событие
func (m *Metrics) RecordFraudEvent(eventType string, score int) {
	m.fraudEvents.WithLabelValues(eventType).Inc()
	m.fraudEventScore.Observe(float64(score))
}

// RecordAffiliateFrozen записывает заморозку партнера
func (m *Metrics) RecordAffiliateFrozen(auto bool) {
	trigger := "admin"
	if auto {
		trigger = "auto"
	}
	m.affiliatesFrozen.WithLabelValues(trigger).Inc()
}

// RecordPayoutTransition записывает переход статуса выплаты
func (m *Metrics) RecordPayoutTransition(toStatus string) {
	m.payoutTransitions.WithLabelValues(toStatus).Inc()
}

// RecordStoreCreditOp записывает операцию по внутреннему счету
func (m *Metrics) RecordStoreCreditOp(opType string, amountCents int64) {
	m.storeCreditOps.WithLabelValues(opType).Inc()
	m.storeCreditAmount.Observe(float64(amountCents))
}
