// Package metrics holds the Prometheus collectors exported on /api/metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private to the service so tests and the handler see the same set.
var Registry = prometheus.NewRegistry()

var (
	PollsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "polls",
		Name:      "created_total",
		Help:      "Polls created.",
	})

	PollsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "polls",
		Name:      "deleted_total",
		Help:      "Polls deleted by their owner.",
	})

	// Votes is labelled by outcome: "new" for a first response, "update" for a re-vote.
	Votes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polls",
		Name:      "votes_total",
		Help:      "Votes cast, by outcome.",
	}, []string{"outcome"})

	ShortIDCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "polls",
		Name:      "short_id_collisions_total",
		Help:      "Generated short ids that were already taken.",
	})

	CascadeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polls",
		Name:      "cascade_events_total",
		Help:      "Reference cleanup events by type and result.",
	}, []string{"type", "result"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "polls",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		PollsCreated,
		PollsDeleted,
		Votes,
		ShortIDCollisions,
		CascadeEvents,
		RequestDuration,
	)
}

// Middleware records request latency keyed by the matched route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
