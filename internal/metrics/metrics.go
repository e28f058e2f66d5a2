// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nexus_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	DocumentWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_document_writes_total",
		Help: "Committed document writes by module and operation.",
	}, []string{"module", "op"})

	GeoRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_geo_requests_total",
		Help: "Upstream geocoding and routing calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	LiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_live_subscriptions",
		Help: "Open change feed subscriptions.",
	})
)

// Handler serves the /metrics endpoint.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// Middleware records request latency. Unmatched routes share one label.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
