package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы обработки, используемые как значения label.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeWarning   = "warning"
	OutcomeError     = "error"

	DispatchSent      = "sent"
	DispatchPartial   = "partial"
	DispatchFailed    = "failed"
	DispatchSkipped   = "skipped"
	DispatchDuplicate = "duplicate"
	DispatchRejected  = "rejected"
)

// LifecycleMetrics содержит метрики жизненного цикла заказа: создание,
// сверка платежей и отправка уведомлений.
type LifecycleMetrics struct {
	// Создание заказов
	ordersCreated prometheus.Counter
	ordersFailed  *prometheus.CounterVec

	// Сверка платежей
	webhookEvents      *prometheus.CounterVec
	paymentTransitions *prometheus.CounterVec

	// Уведомления
	dispatches       *prometheus.CounterVec
	channelAttempts  *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	activeDispatches prometheus.Gauge

	stepDuration *prometheus.HistogramVec
}

// NewLifecycleMetrics создаёт метрики в default registry.
func NewLifecycleMetrics() *LifecycleMetrics {
	return newLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sweetbar_orders_created_total",
			Help: "Total number of orders created with inventory decremented",
		}),
		ordersFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sweetbar_orders_failed_total",
			Help: "Total number of rejected order creation requests",
		}, []string{"reason"}),
		webhookEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sweetbar_webhook_events_total",
			Help: "Payment webhook notifications by event family and outcome",
		}, []string{"family", "outcome"}),
		paymentTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sweetbar_payment_status_updates_total",
			Help: "Order payment status updates applied by reconciliation",
		}, []string{"status"}),
		dispatches: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sweetbar_notification_dispatches_total",
			Help: "Notification dispatches by outcome",
		}, []string{"outcome"}),
		channelAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sweetbar_notification_channel_attempts_total",
			Help: "Delivery attempts per notification channel",
		}, []string{"channel", "result"}),
		dispatchDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "sweetbar_notification_dispatch_duration_seconds",
			Help:    "Duration of a notification dispatch including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		activeDispatches: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sweetbar_notification_dispatches_in_flight",
			Help: "Number of notification dispatches in progress",
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "sweetbar_lifecycle_step_duration_seconds",
			Help:    "Duration of individual lifecycle steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
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

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
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

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// Все методы допускают nil-получатель: компоненты без метрик передают nil.

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *LifecycleMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderFailed увеличивает счётчик отклонённых заказов.
func (m *LifecycleMetrics) RecordOrderFailed(reason string) {
	if m == nil {
		return
	}
	m.ordersFailed.WithLabelValues(reason).Inc()
}

// RecordWebhookEvent учитывает уведомление провайдера.
func (m *LifecycleMetrics) RecordWebhookEvent(family, outcome string) {
	if m == nil {
		return
	}
	if family == "" {
		family = "unknown"
	}
	m.webhookEvents.WithLabelValues(family, outcome).Inc()
}

// RecordPaymentStatus учитывает применённый платёжный статус.
func (m *LifecycleMetrics) RecordPaymentStatus(status string) {
	if m == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(status).Inc()
}

// RecordDispatch учитывает итог отправки уведомления.
func (m *LifecycleMetrics) RecordDispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

// RecordChannelAttempt учитывает попытку доставки по каналу.
func (m *LifecycleMetrics) RecordChannelAttempt(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.channelAttempts.WithLabelValues(channel, result).Inc()
}

// RecordDispatchStarted увеличивает количество активных отправок.
func (m *LifecycleMetrics) RecordDispatchStarted() {
	if m == nil {
		return
	}
	m.activeDispatches.Inc()
}

// RecordDispatchFinished уменьшает количество активных отправок и пишет длительность.
func (m *LifecycleMetrics) RecordDispatchFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.activeDispatches.Dec()
	m.dispatchDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага.
func (m *LifecycleMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}
