// Package metrics exposes dispatcher and booking counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and the dispatcher report into.
type Recorder interface {
	RequestCreated()
	RequestClaimed(lag time.Duration)
	RequestFinished(status string, took time.Duration)
	DispatchTimeout()
	LoginFailed()
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	created       prometheus.Counter
	claimed       prometheus.Counter
	outcomes      *prometheus.CounterVec
	timeouts      prometheus.Counter
	loginFailures prometheus.Counter
	lag           prometheus.Histogram
	duration      prometheus.Histogram
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teesched_requests_created_total",
			Help: "Booking requests accepted.",
		}),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teesched_requests_claimed_total",
			Help: "Booking requests moved from PENDING to RUNNING by this process.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teesched_requests_finished_total",
			Help: "Booking requests that reached a terminal status.",
		}, []string{"status"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teesched_dispatch_timeouts_total",
			Help: "RUNNING requests failed for exceeding the run timeout.",
		}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teesched_login_failures_total",
			Help: "Rejected login attempts.",
		}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teesched_dispatch_lag_seconds",
			Help:    "Delay between execution_time and the claim.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teesched_execution_duration_seconds",
			Help:    "Time from claim to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(c.created, c.claimed, c.outcomes, c.timeouts, c.loginFailures, c.lag, c.duration)
	return c
}

func (c *Collector) RequestCreated() { c.created.Inc() }

func (c *Collector) RequestClaimed(lag time.Duration) {
	c.claimed.Inc()
	if lag < 0 {
		lag = 0
	}
	c.lag.Observe(lag.Seconds())
}

func (c *Collector) RequestFinished(status string, took time.Duration) {
	c.outcomes.WithLabelValues(status).Inc()
	c.duration.Observe(took.Seconds())
}

func (c *Collector) DispatchTimeout() { c.timeouts.Inc() }

func (c *Collector) LoginFailed() { c.loginFailures.Inc() }

// Nop discards everything.
type Nop struct{}

func (Nop) RequestCreated() {}
func (Nop) RequestClaimed(time.Duration) {}
func (Nop) RequestFinished(string, time.Duration) {}
func (Nop) DispatchTimeout() {}
func (Nop) LoginFailed() {}

// Or returns r, or Nop when r is nil.
func Or(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
