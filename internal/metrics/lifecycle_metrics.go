package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics содержит метрики ядра: резервы, заказы, платежи.
type LifecycleMetrics struct {
	// Счётчики резервирования
	reservationsTotal prometheus.Counter
	reservationsOut   prometheus.Counter
	releasesTotal     prometheus.Counter
	unitsSoldTotal    prometheus.Counter

	// Счётчики заказов по результату
	ordersCreated   prometheus.Counter
	ordersCompleted prometheus.Counter
	ordersFailed    prometheus.Counter
	ordersCancelled prometheus.Counter

	// Счётчики платежей
	paymentsCreated   prometheus.Counter
	paymentsCompleted prometheus.Counter
	paymentsFailed    prometheus.Counter
	paymentsRefunded  prometheus.Counter
	webhookErrors     prometheus.Counter

	// Гистограммы времени выполнения
	reserveDuration     prometheus.Histogram
	createOrderDuration prometheus.Histogram

	// Gauge активных резервов (единиц под удержанием)
	activeHolds prometheus.Gauge

	// Счётчики событий timeline/outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewLifecycleMetrics создаёт метрики поверх дефолтного registerer.
func NewLifecycleMetrics() *LifecycleMetrics {
	return newLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		reservationsTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_stock_reservations_total",
			Help: "Total number of successful stock reservations",
		}),
		reservationsOut: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_stock_out_of_stock_total",
			Help: "Total number of reservations rejected for insufficient stock",
		}),
		releasesTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_stock_releases_total",
			Help: "Total number of stock units released",
		}),
		unitsSoldTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_stock_units_sold_total",
			Help: "Total number of stock units marked sold",
		}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_orders_completed_total",
			Help: "Total number of orders completed",
		}),
		ordersFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_orders_failed_total",
			Help: "Total number of orders failed",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		}),
		paymentsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_payments_created_total",
			Help: "Total number of payments created",
		}),
		paymentsCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_payments_completed_total",
			Help: "Total number of payments completed",
		}),
		paymentsFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_payments_failed_total",
			Help: "Total number of payments failed",
		}),
		paymentsRefunded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_payments_refunded_total",
			Help: "Total number of refunds processed",
		}),
		webhookErrors: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_payment_webhook_errors_total",
			Help: "Total number of webhooks rejected as unprocessable",
		}),
		reserveDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ams_stock_reserve_duration_seconds",
			Help:    "Duration of stock reservation calls in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		createOrderDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ams_order_create_duration_seconds",
			Help:    "Duration of order creation calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		activeHolds: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ams_stock_active_holds",
			Help: "Number of stock units currently held by reservations",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ams_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordReservation учитывает успешный резерв qty единиц.
func (m *LifecycleMetrics) RecordReservation(qty int) {
	m.reservationsTotal.Inc()
	m.activeHolds.Add(float64(qty))
}

// RecordOutOfStock учитывает отказ по недостатку стока.
func (m *LifecycleMetrics) RecordOutOfStock() {
	m.reservationsOut.Inc()
}

// RecordRelease учитывает снятие резерва с qty единиц.
func (m *LifecycleMetrics) RecordRelease(qty int) {
	m.releasesTotal.Add(float64(qty))
	m.activeHolds.Sub(float64(qty))
}

// RecordUnitSold учитывает продажу единицы, ранее бывшей под резервом.
func (m *LifecycleMetrics) RecordUnitSold() {
	m.unitsSoldTotal.Inc()
	m.activeHolds.Dec()
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *LifecycleMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderCompleted увеличивает счётчик завершённых заказов.
func (m *LifecycleMetrics) RecordOrderCompleted() {
	m.ordersCompleted.Inc()
}

// RecordOrderFailed увеличивает счётчик неудачных заказов.
func (m *LifecycleMetrics) RecordOrderFailed() {
	m.ordersFailed.Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *LifecycleMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

// RecordPaymentCreated увеличивает счётчик созданных платежей.
func (m *LifecycleMetrics) RecordPaymentCreated() {
	m.paymentsCreated.Inc()
}

// RecordPaymentCompleted увеличивает счётчик завершённых платежей.
func (m *LifecycleMetrics) RecordPaymentCompleted() {
	m.paymentsCompleted.Inc()
}

// RecordPaymentFailed увеличивает счётчик неудачных платежей.
func (m *LifecycleMetrics) RecordPaymentFailed() {
	m.paymentsFailed.Inc()
}

// RecordPaymentRefunded увеличивает счётчик возвратов.
func (m *LifecycleMetrics) RecordPaymentRefunded() {
	m.paymentsRefunded.Inc()
}

// RecordWebhookError увеличивает счётчик отвергнутых webhook'ов.
func (m *LifecycleMetrics) RecordWebhookError() {
	m.webhookErrors.Inc()
}

// RecordReserveDuration записывает время выполнения резервирования.
func (m *LifecycleMetrics) RecordReserveDuration(duration time.Duration) {
	m.reserveDuration.Observe(duration.Seconds())
}

// RecordCreateOrderDuration записывает время создания заказа.
func (m *LifecycleMetrics) RecordCreateOrderDuration(duration time.Duration) {
	m.createOrderDuration.Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *LifecycleMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *LifecycleMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
