package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New("storefront")
	m.OrderCreated()
	m.OrderCreated()
	m.PaymentNotification("applied")
	m.OrderCancelled("payment")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentNotifications.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersCancelled.WithLabelValues("payment")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderCreated()
		m.Transition("pending", "confirmed")
		m.NotificationFailed("order.created")
		m.ObserveHTTP("GET", "/orders/{id}", "200", 0.01)
	})
}
