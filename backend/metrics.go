package backend

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// server metrics on a registry owned by the server,
// so that several servers can run in one process (tests)
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestSeconds    *prometheus.HistogramVec
	commits           *prometheus.CounterVec
	liveSubscriptions prometheus.Gauge
	liveSnapshots     prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	metrics := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "social",
			Name:      "http_requests_total",
			Help:      "Http requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "social",
			Name:      "http_request_seconds",
			Help:      "Http request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "social",
			Name:      "commits_total",
			Help:      "Document commits by result kind.",
		}, []string{"result"}),
		liveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "social",
			Name:      "live_subscriptions",
			Help:      "Open live query subscriptions.",
		}),
		liveSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "social",
			Name:      "live_snapshots_total",
			Help:      "Snapshots sent to live query subscribers.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.requests,
		metrics.requestSeconds,
		metrics.commits,
		metrics.liveSubscriptions,
		metrics.liveSnapshots,
	)
	return metrics
}

func (self *Metrics) Registry() *prometheus.Registry {
	return self.registry
}

func (self *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(self.registry, promhttp.HandlerOpts{})
}

func (self *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		self.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		self.requestSeconds.WithLabelValues(method, route).Observe(time.Since(startTime).Seconds())
	}
}

// `result` is "ok" or an error kind
func (self *Metrics) Commit(result string) {
	self.commits.WithLabelValues(result).Inc()
}

func (self *Metrics) LiveOpen() {
	self.liveSubscriptions.Inc()
}

func (self *Metrics) LiveClose() {
	self.liveSubscriptions.Dec()
}

func (self *Metrics) LiveSnapshot() {
	self.liveSnapshots.Inc()
}
