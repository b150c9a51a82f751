package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the business counters of the order core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	OrdersCreated        prometheus.Counter
	OrdersCancelled      *prometheus.CounterVec
	StatusTransitions    *prometheus.CounterVec
	ReservationFailures  *prometheus.CounterVec
	PaymentNotifications *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	StockAdjustments     *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_created_total",
			Help: "Orders committed in pending state.",
		}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_cancelled_total",
			Help: "Orders cancelled, by origin (user, admin, payment).",
		}, []string{"origin"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_status_transitions_total",
			Help: "Committed order status transitions.",
		}, []string{"from", "to"}),
		ReservationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_reservation_failures_total",
			Help: "Order creations rejected by stock or catalog checks.",
		}, []string{"reason"}),
		PaymentNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payment_notifications_total",
			Help: "Gateway notifications by outcome.",
		}, []string{"outcome"}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notification_dispatch_failures_total",
			Help: "Best-effort user notifications that failed to dispatch.",
		}, []string{"event"}),
		StockAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_adjustments_total",
			Help: "Inventory ledger entries written, by type.",
		}, []string{"type"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OrdersCreated,
		m.OrdersCancelled,
		m.StatusTransitions,
		m.ReservationFailures,
		m.PaymentNotifications,
		m.NotificationFailures,
		m.StockAdjustments,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.OrdersCreated.Inc()
}

func (m *Metrics) OrderCancelled(origin string) {
	if m == nil {
		return
	}
	m.OrdersCancelled.WithLabelValues(origin).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ReservationFailed(reason string) {
	if m == nil {
		return
	}
	m.ReservationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) PaymentNotification(outcome string) {
	if m == nil {
		return
	}
	m.PaymentNotifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) NotificationFailed(event string) {
	if m == nil {
		return
	}
	m.NotificationFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) StockAdjusted(txType string) {
	if m == nil {
		return
	}
	m.StockAdjustments.WithLabelValues(txType).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
