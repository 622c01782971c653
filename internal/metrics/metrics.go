package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"hostel-allocation-backend/internal/ledger"
	"hostel-allocation-backend/internal/lifecycle"
)

const namespace = "hostel"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	applicationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "applications",
			Name:      "events_total",
			Help:      "Committed application transitions by event type.",
		},
		[]string{"event"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		applicationEvents,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies, labelled by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Events counts lifecycle events. It satisfies lifecycle.Notifier.
type Events struct{}

// Notify increments the counter for the event's type.
func (Events) Notify(ev lifecycle.Event) {
	applicationEvents.WithLabelValues(string(ev.Type)).Inc()
}

// OccupancyCollector reports bed counts per hostel, read from the ledger at scrape time.
type OccupancyCollector struct {
	ledger  *ledger.Ledger
	log     logrus.FieldLogger
	timeout time.Duration
	beds    *prometheus.Desc
	rate    *prometheus.Desc
}

// NewOccupancyCollector creates a collector over l.
func NewOccupancyCollector(l *ledger.Ledger, log logrus.FieldLogger) *OccupancyCollector {
	return &OccupancyCollector{
		ledger:  l,
		log:     log.WithField("component", "metrics"),
		timeout: 5 * time.Second,
		beds: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "beds"),
			"Beds per hostel by state.",
			[]string{"hostel", "state"}, nil,
		),
		rate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "occupancy_rate"),
			"Occupied share of in-service beds, in percent.",
			[]string{"hostel"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *OccupancyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.beds
	ch <- c.rate
}

// Collect implements prometheus.Collector.
func (c *OccupancyCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	summaries, err := c.ledger.HostelSummaries(ctx)
	if err != nil {
		c.log.WithError(err).Warn("failed to collect occupancy")
		return
	}
	for _, s := range summaries {
		a := s.Availability
		name := s.Hostel.Name
		for state, n := range map[string]int{
			"available":   a.Available,
			"reserved":    a.Reserved,
			"occupied":    a.Occupied - a.Reserved,
			"maintenance": a.Maintenance,
		} {
			ch <- prometheus.MustNewConstMetric(c.beds, prometheus.GaugeValue, float64(n), name, state)
		}
		ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, a.OccupancyRate, name)
	}
}
