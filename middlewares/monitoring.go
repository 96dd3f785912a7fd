package middlewares

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// operation is one of the cart, checkout or order handlers
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_operations_total",
			Help: "Cart, checkout and order operations by outcome",
		},
		[]string{"operation", "status"},
	)

	paymentVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_payment_verifications_total",
			Help: "Payment confirmations by result",
		},
		[]string{"result"},
	)

	stockShortfalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_stock_shortfalls_total",
			Help: "Order lines paid for without enough stock to decrement",
		},
	)
)

// PrometheusMiddleware records request count and latency per route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordPaymentVerification counts a confirmation outcome: confirmed,
// duplicate, invalid_signature or failed.
func RecordPaymentVerification(result string) {
	paymentVerifications.WithLabelValues(result).Inc()
}

func RecordStockShortfalls(n int) {
	if n > 0 {
		stockShortfalls.Add(float64(n))
	}
}
