package metric

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests.",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Open websocket connections.",
		},
	)

	roomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watch_rooms_active",
			Help: "Rooms with at least one member.",
		},
	)

	framesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watch_frames_relayed_total",
			Help: "Frames queued for delivery to a member.",
		},
	)

	framesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watch_frames_dropped_total",
			Help: "Frames dropped because a recipient's send buffer was full.",
		},
	)

	requestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watch_requests_rejected_total",
			Help: "Client requests answered with an error frame, by code.",
		},
		[]string{"code"},
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watch_lifecycle_events_dropped_total",
			Help: "Room lifecycle events dropped because the export queue was full.",
		},
	)
)

// RecordHTTPMetrics records one completed HTTP request.
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

// GinMiddleware records request metrics keyed by the matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RecordHTTPMetrics(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}

// Handler serves the default registry in the prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func IncrementWSActiveConnections() {
	wsActiveConnections.Inc()
}

func DecrementWSActiveConnections() {
	wsActiveConnections.Dec()
}

func SetRoomsActive(count int) {
	roomsActive.Set(float64(count))
}

func FrameRelayed() {
	framesRelayed.Inc()
}

func FrameDropped() {
	framesDropped.Inc()
}

func RequestRejected(code string) {
	requestsRejected.WithLabelValues(code).Inc()
}

func LifecycleEventDropped() {
	eventsDropped.Inc()
}
