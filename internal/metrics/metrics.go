package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busticket_orders_created_total",
			Help: "Orders created, by payment provider",
		},
		[]string{"provider"},
	)

	orderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busticket_order_failures_total",
			Help: "Order creation failures, by error code",
		},
		[]string{"code"},
	)

	callbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busticket_payment_callbacks_total",
			Help: "Payment callbacks received, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	refunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busticket_refunds_total",
			Help: "Ticket cancellations, by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	gatewayCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "busticket_gateway_call_duration_seconds",
			Help:    "Outbound payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "outcome"},
	)

	expiredReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "busticket_reservations_expired_total",
			Help: "Orders expired by the reservation sweeper",
		},
	)

	httpRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "busticket_http_request_duration_seconds",
			Help:    "HTTP requests, by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	seatLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "busticket_seat_lock_seconds",
			Help:    "Time spent acquiring seat row locks",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

func OrderCreated(provider string) {
	ordersCreated.WithLabelValues(provider).Inc()
}

func OrderFailed(code string) {
	orderFailures.WithLabelValues(code).Inc()
}

// Callback outcomes: applied, replay, invalid_signature, unknown_payment,
// amount_mismatch, rejected.
func Callback(provider, outcome string) {
	callbacks.WithLabelValues(provider, outcome).Inc()
}

func Refund(path, outcome string) {
	refunds.WithLabelValues(path, outcome).Inc()
}

func GatewayCall(provider, operation, outcome string, d time.Duration) {
	gatewayCalls.WithLabelValues(provider, operation, outcome).Observe(d.Seconds())
}

func ReservationsExpired(n int) {
	expiredReservations.Add(float64(n))
}

func SeatLockWait(d time.Duration) {
	seatLockWait.Observe(d.Seconds())
}

func HTTPRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
