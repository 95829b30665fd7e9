package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics содержит метрики платёжного цикла.
type PaymentMetrics struct {
	// Счётчики операций
	admitted        prometheus.Counter
	idempotentHits  *prometheus.CounterVec
	succeeded       prometheus.Counter
	failed          prometheus.Counter
	cancelled       prometheus.Counter
	reopened        prometheus.Counter
	retriesArmed    prometheus.Counter
	deadLettered    prometheus.Counter
	publishFailures prometheus.Counter

	// Гистограмма времени от admission до терминального статуса
	processingDuration prometheus.Histogram

	// Gauge для платежей в обработке
	inflight prometheus.Gauge
}

// NewPaymentMetrics создаёт метрики на default-реестре.
func NewPaymentMetrics() *PaymentMetrics {
	return newPaymentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPaymentMetricsWithRegisterer(registerer prometheus.Registerer) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PaymentMetrics{
		admitted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payproc_payments_admitted_total",
			Help: "Total number of newly admitted payments",
		}),
		idempotentHits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payproc_idempotent_hits_total",
			Help: "Total number of idempotent replays grouped by resolution source",
		}, []string{"source"}),
		succeeded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payproc_payments_succeeded_total",
			Help: "Total number of payments settled successfully",
		}),
		failed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payproc_payments_failed_total",
			Help: "Total number of payments failed after retry exhaustion",
		}),
		cancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payproc_payments_cancelled_total",
			Help: "Total number of payments cancelled by operator action",
		}),
		reopened: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payproc_payments_reopened_total",
			Help: "Total number of dead-lettered payments reopened by operator action",
		}),
		retriesArmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payproc_retries_scheduled_total",
			Help: "Total number of retry deliveries scheduled",
		}),
		deadLettered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payproc_dead_lettered_total",
			Help: "Total number of payments escalated to the dead-letter stream",
		}),
		publishFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payproc_publish_failures_total",
			Help: "Total number of event publish failures",
		}),
		processingDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "payproc_processing_duration_seconds",
			Help:    "Time from admission to a terminal payment status in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		inflight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "payproc_payments_inflight",
			Help: "Number of payments currently between admission and a terminal status",
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

// RecordAdmitted увеличивает счётчик принятых платежей.
func (m *PaymentMetrics) RecordAdmitted() {
	m.admitted.Inc()
	m.inflight.Inc()
}

// RecordIdempotentHit увеличивает счётчик идемпотентных повторов.
// source — откуда разрешился ключ: "cache" или "store".
func (m *PaymentMetrics) RecordIdempotentHit(source string) {
	m.idempotentHits.WithLabelValues(source).Inc()
}

// RecordSucceeded увеличивает счётчик успешно проведённых платежей.
func (m *PaymentMetrics) RecordSucceeded() {
	m.succeeded.Inc()
	m.inflight.Dec()
}

// RecordFailed увеличивает счётчик платежей, исчерпавших повторы.
func (m *PaymentMetrics) RecordFailed() {
	m.failed.Inc()
	m.inflight.Dec()
}

// RecordCancelled увеличивает счётчик отменённых платежей.
func (m *PaymentMetrics) RecordCancelled() {
	m.cancelled.Inc()
	m.inflight.Dec()
}

// RecordReopened увеличивает счётчик переоткрытых платежей.
// Переоткрытый платёж снова считается находящимся в обработке.
func (m *PaymentMetrics) RecordReopened() {
	m.reopened.Inc()
	m.inflight.Inc()
}

// RecordRetryScheduled увеличивает счётчик запланированных повторов.
func (m *PaymentMetrics) RecordRetryScheduled() {
	m.retriesArmed.Inc()
}

// RecordDeadLettered увеличивает счётчик эскалаций в dead-letter.
func (m *PaymentMetrics) RecordDeadLettered() {
	m.deadLettered.Inc()
}

// RecordPublishFailure увеличивает счётчик неудачных публикаций.
func (m *PaymentMetrics) RecordPublishFailure() {
	m.publishFailures.Inc()
}

// RecordProcessingDuration записывает время от admission до терминала.
func (m *PaymentMetrics) RecordProcessingDuration(duration time.Duration) {
	m.processingDuration.Observe(duration.Seconds())
}
