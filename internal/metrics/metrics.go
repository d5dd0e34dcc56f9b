package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes.
const (
	OutcomeAggregated       = "aggregated"
	OutcomeNoStory          = "no_story"
	OutcomeNoViewers        = "no_viewers"
	OutcomeNavigationError  = "navigation_error"
	OutcomeExtractionError  = "extraction_error"
	OutcomeAggregationError = "aggregation_error"
	OutcomePanic            = "panic"
)

// Recorder receives monitoring events. Implementations are safe for
// concurrent use.
type Recorder interface {
	MonitorStarted()
	MonitorStopped()
	CycleCompleted(outcome string)
	ObserveAggregation(duration time.Duration, newViews, newLikes int)
	ObserveRequest(route string, status int, duration time.Duration)
}

type Provider struct {
	registry            *prometheus.Registry
	monitorsActive      prometheus.Gauge
	cyclesTotal         *prometheus.CounterVec
	aggregationDuration prometheus.Histogram
	newObservations     *prometheus.CounterVec
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
}

// NewProvider registers the story monitor metrics on reg.
func NewProvider(reg *prometheus.Registry) *Provider {
	factory := promauto.With(reg)
	return &Provider{
		registry: reg,
		monitorsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "story_monitor_monitors_active",
			Help: "Number of running monitors",
		}),
		cyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "story_monitor_cycles_total",
			Help: "Total number of monitor cycles by outcome",
		}, []string{"outcome"}),
		aggregationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "story_monitor_aggregation_duration_seconds",
			Help:    "Duration of committed aggregations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		newObservations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "story_monitor_new_observations_total",
			Help: "Total number of first-time views and likes counted",
		}, []string{"kind"}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "story_monitor_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "story_monitor_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (p *Provider) MonitorStarted() { p.monitorsActive.Inc() }
func (p *Provider) MonitorStopped() { p.monitorsActive.Dec() }

func (p *Provider) CycleCompleted(outcome string) {
	p.cyclesTotal.WithLabelValues(outcome).Inc()
}

func (p *Provider) ObserveAggregation(duration time.Duration, newViews, newLikes int) {
	p.aggregationDuration.Observe(duration.Seconds())
	p.newObservations.WithLabelValues("view").Add(float64(newViews))
	p.newObservations.WithLabelValues("like").Add(float64(newLikes))
}

func (p *Provider) ObserveRequest(route string, status int, duration time.Duration) {
	p.requestsTotal.WithLabelValues(route, httpStatusBucket(status)).Inc()
	p.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func httpStatusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}

// Noop is a Recorder for when metrics are disabled.
type Noop struct{}

func (Noop) MonitorStarted()                                 {}
func (Noop) MonitorStopped()                                 {}
func (Noop) CycleCompleted(_ string)                         {}
func (Noop) ObserveAggregation(_ time.Duration, _, _ int)    {}
func (Noop) ObserveRequest(_ string, _ int, _ time.Duration) {}
