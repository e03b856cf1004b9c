package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics содержит метрики сессий редактирования заказов.
// Все методы безопасны для nil-получателя: сессия без метрик просто ничего не пишет.
type SessionMetrics struct {
	// Жизненный цикл
	sessionsLoaded prometheus.Counter
	activeSessions prometheus.Gauge
	evictions      prometheus.Counter

	// Редактирование
	mutations  *prometheus.CounterVec
	navigation *prometheus.CounterVec

	// Сохранение и завершение
	saveOutcomes     *prometheus.CounterVec
	saveDuration     prometheus.Histogram
	finalizeOutcomes *prometheus.CounterVec
	finalizeDuration *prometheus.HistogramVec
}

// NewSessionMetrics создаёт метрики в DefaultRegisterer.
func NewSessionMetrics() *SessionMetrics {
	return NewSessionMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSessionMetricsWithRegisterer создаёт метрики в указанном реестре (удобно для тестов).
func NewSessionMetricsWithRegisterer(registerer prometheus.Registerer) *SessionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SessionMetrics{
		sessionsLoaded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "order_editor_sessions_loaded_total",
			Help: "Total number of orders loaded into edit sessions",
		}),
		activeSessions: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "order_editor_active_sessions",
			Help: "Number of currently open edit sessions",
		}),
		evictions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "order_editor_session_evictions_total",
			Help: "Total number of idle sessions evicted from the registry",
		}),
		mutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "order_editor_mutations_total",
			Help: "Total number of applied mutations grouped by kind",
		}, []string{"kind"}),
		navigation: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "order_editor_history_navigation_total",
			Help: "Total number of undo/redo operations",
		}, []string{"direction"}),
		saveOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "order_editor_save_total",
			Help: "Total number of save attempts grouped by outcome",
		}, []string{"outcome"}),
		saveDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "order_editor_save_duration_seconds",
			Help:    "Duration of the store round trip during save",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		finalizeOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "order_editor_finalize_total",
			Help: "Total number of finalization attempts grouped by transition and outcome",
		}, []string{"transition", "outcome"}),
		finalizeDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "order_editor_finalize_duration_seconds",
			Help:    "Duration of the store round trip during finalization",
			Buckets: prometheus.DefBuckets,
		}, []string{"transition"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		return existingCollector[prometheus.Counter](err, opts.Name)
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		return existingCollector[prometheus.Gauge](err, opts.Name)
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		return existingCollector[prometheus.Histogram](err, opts.Name)
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		return existingCollector[*prometheus.CounterVec](err, opts.Name)
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		return existingCollector[*prometheus.HistogramVec](err, opts.Name)
	}
	return collector
}

// existingCollector возвращает уже зарегистрированный коллектор того же типа.
func existingCollector[T any](err error, name string) T {
	alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	existing, ok := alreadyRegistered.ExistingCollector.(T)
	if !ok {
		panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
	}
	return existing
}

// RecordLoad увеличивает счётчик загруженных заказов.
func (m *SessionMetrics) RecordLoad() {
	if m == nil {
		return
	}
	m.sessionsLoaded.Inc()
}

// SessionOpened увеличивает количество открытых сессий.
func (m *SessionMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed уменьшает количество открытых сессий.
func (m *SessionMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// RecordEvictions учитывает сессии, закрытые по простою.
func (m *SessionMetrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// RecordMutation учитывает применённую мутацию.
func (m *SessionMetrics) RecordMutation(kind string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(kind).Inc()
}

// RecordUndo учитывает undo.
func (m *SessionMetrics) RecordUndo() {
	if m == nil {
		return
	}
	m.navigation.WithLabelValues("undo").Inc()
}

// RecordRedo учитывает redo.
func (m *SessionMetrics) RecordRedo() {
	if m == nil {
		return
	}
	m.navigation.WithLabelValues("redo").Inc()
}

// RecordSave учитывает результат сохранения; duration == 0: без обращения к хранилищу.
func (m *SessionMetrics) RecordSave(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.saveOutcomes.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.saveDuration.Observe(duration.Seconds())
	}
}

// RecordFinalize учитывает результат завершающего перехода.
func (m *SessionMetrics) RecordFinalize(transition, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.finalizeOutcomes.WithLabelValues(transition, outcome).Inc()
	if duration > 0 {
		m.finalizeDuration.WithLabelValues(transition).Observe(duration.Seconds())
	}
}
