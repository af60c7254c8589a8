package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broker holds the order-entry metrics. A nil *Broker records nothing.
type Broker struct {
	Placed    *prometheus.CounterVec
	Rejected  *prometheus.CounterVec
	Cancelled prometheus.Counter
	Destroyed prometheus.Counter
	Live      prometheus.Gauge
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Broker {
	f := promauto.With(reg)
	return &Broker{
		Placed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockbroker_orders_placed_total",
			Help: "Orders accepted into the registry, by kind",
		}, []string{"kind"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockbroker_orders_rejected_total",
			Help: "Order requests rejected before registration, by reason",
		}, []string{"reason"}),
		Cancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "stockbroker_orders_cancelled_total",
			Help: "Orders removed by cancellation",
		}),
		Destroyed: f.NewCounter(prometheus.CounterOpts{
			Name: "stockbroker_orders_destroyed_total",
			Help: "Orders released at registry teardown",
		}),
		Live: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockbroker_live_orders",
			Help: "Orders currently held by the registry",
		}),
	}
}

func (m *Broker) OrderPlaced(kind string) {
	if m == nil {
		return
	}
	m.Placed.WithLabelValues(kind).Inc()
}

func (m *Broker) OrderRejected(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *Broker) OrderCancelled() {
	if m == nil {
		return
	}
	m.Cancelled.Inc()
}

func (m *Broker) OrdersDestroyed(n int) {
	if m == nil {
		return
	}
	m.Destroyed.Add(float64(n))
}

func (m *Broker) SetLive(n int) {
	if m == nil {
		return
	}
	m.Live.Set(float64(n))
}
