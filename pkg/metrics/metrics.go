package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the session and transport counters. A nil *Collector is
// valid and records nothing.
type Collector struct {
	refreshes     *prometheus.CounterVec
	refreshShared prometheus.Counter
	authRetries   prometheus.Counter
	logouts       *prometheus.CounterVec
	upstream      *prometheus.CounterVec
	upstreamTime  prometheus.Histogram
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fyuze_token_refresh_total",
			Help: "Refresh-token grants sent to the auth backend by result.",
		}, []string{"result"}),
		refreshShared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fyuze_token_refresh_shared_total",
			Help: "Callers that joined an already running refresh.",
		}),
		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fyuze_auth_retry_total",
			Help: "Requests resent once after a 401.",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fyuze_logout_total",
			Help: "Session clears by reason.",
		}, []string{"reason"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fyuze_upstream_requests_total",
			Help: "Requests sent to the backend by method and status code.",
		}, []string{"method", "status_code"}),
		upstreamTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fyuze_upstream_latency_seconds",
			Help:    "Backend request latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.refreshes,
		c.refreshShared,
		c.authRetries,
		c.logouts,
		c.upstream,
		c.upstreamTime,
	)

	return c
}

func (c *Collector) RecordRefresh(ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	c.refreshes.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRefreshShared() {
	if c == nil {
		return
	}
	c.refreshShared.Inc()
}

func (c *Collector) RecordAuthRetry() {
	if c == nil {
		return
	}
	c.authRetries.Inc()
}

func (c *Collector) RecordLogout(reason string) {
	if c == nil {
		return
	}
	c.logouts.WithLabelValues(reason).Inc()
}

// RecordUpstream records one backend round trip; status 0 means the request
// never got a response.
func (c *Collector) RecordUpstream(method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.upstream.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.upstreamTime.Observe(d.Seconds())
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
