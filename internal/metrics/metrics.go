package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_ws_connections",
		Help: "Current number of linked websocket connections",
	})
	FanoutMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_fanout_messages_total",
		Help: "Total number of feed events fanned out to rooms",
	})
	DeliveryFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_delivery_failures_total",
		Help: "Total number of per-connection delivery failures",
	})
	AdmissionRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_admission_rejections_total",
		Help: "Total number of rejected admission attempts",
	}, []string{"code"})
	SupervisorRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_supervisor_restarts_total",
		Help: "Total number of full listener restarts",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		FanoutMessagesTotal,
		DeliveryFailuresTotal,
		AdmissionRejectionsTotal,
		SupervisorRestartsTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
