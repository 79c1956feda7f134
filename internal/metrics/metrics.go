// Package metrics exports limiter activity to Prometheus. Metrics is a
// limiter.Observer that counts events as they happen; StatusCollector reads
// bucket and hard limit state at scrape time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
)

const namespace = "pacer"

// Metrics counts limiter events. It implements limiter.Observer.
type Metrics struct {
	calls          *prometheus.CounterVec
	tokens         *prometheus.CounterVec
	wait           prometheus.Histogram
	backoffs       prometheus.Counter
	backoffSeconds prometheus.Counter
}

// New creates the event metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_calls_total",
			Help:      "Acquisition attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "granted_tokens_total",
			Help:      "Tokens granted by kind.",
		}, []string{"kind"}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquire_wait_seconds",
			Help:      "Time blocking acquisitions spent suspended before they finished.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}),
		backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoffs_total",
			Help:      "Backoff requests applied to the bucket.",
		}),
		backoffSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoff_requested_seconds_total",
			Help:      "Sum of requested backoff durations.",
		}),
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.calls, m.tokens, m.wait, m.backoffs, m.backoffSeconds}
}

func (m *Metrics) Observe(ev limiter.Event) {
	switch ev.Kind {
	case limiter.KindBackoff:
		m.backoffs.Inc()
		m.backoffSeconds.Add(ev.Backoff.Seconds())
		return
	case limiter.KindAcquire:
		m.wait.Observe(ev.Waited.Seconds())
	}

	m.calls.WithLabelValues(string(ev.Kind), string(ev.Outcome)).Inc()
	if ev.Outcome == limiter.OutcomeGranted {
		m.tokens.WithLabelValues(string(ev.Kind)).Add(float64(ev.Tokens))
	}
}

// StatusSource is satisfied by *limiter.RateLimiter.
type StatusSource interface {
	Status() limiter.Status
}

// StatusCollector reports limiter state as gauges, computed on every scrape.
type StatusCollector struct {
	src StatusSource

	tokens       *prometheus.Desc
	capacity     *prometheus.Desc
	paused       *prometheus.Desc
	backoffLeft  *prometheus.Desc
	limitCurrent *prometheus.Desc
	limitMax     *prometheus.Desc
	limitReset   *prometheus.Desc
}

func NewStatusCollector(src StatusSource) *StatusCollector {
	return &StatusCollector{
		src:          src,
		tokens:       prometheus.NewDesc("pacer_bucket_tokens", "Tokens currently available in the bucket.", nil, nil),
		capacity:     prometheus.NewDesc("pacer_bucket_capacity", "Bucket capacity.", nil, nil),
		paused:       prometheus.NewDesc("pacer_bucket_paused", "1 while the bucket is in backoff.", nil, nil),
		backoffLeft:  prometheus.NewDesc("pacer_bucket_backoff_remaining_seconds", "Time left in the current backoff.", nil, nil),
		limitCurrent: prometheus.NewDesc("pacer_hard_limit_calls", "Calls counted in the current window.", []string{"limit", "period"}, nil),
		limitMax:     prometheus.NewDesc("pacer_hard_limit_max_calls", "Calls allowed per window.", []string{"limit", "period"}, nil),
		limitReset:   prometheus.NewDesc("pacer_hard_limit_reset_seconds", "Time until the window resets.", []string{"limit", "period"}, nil),
	}
}

func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tokens
	ch <- c.capacity
	ch <- c.paused
	ch <- c.backoffLeft
	ch <- c.limitCurrent
	ch <- c.limitMax
	ch <- c.limitReset
}

func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()

	var paused float64
	if st.Bucket.BackoffRemaining > 0 {
		paused = 1
	}
	ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.GaugeValue, float64(st.Bucket.Tokens))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Bucket.Capacity))
	ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, paused)
	ch <- prometheus.MustNewConstMetric(c.backoffLeft, prometheus.GaugeValue, st.Bucket.BackoffRemaining.Seconds())

	for name, hl := range st.HardLimits {
		period := hl.Period.String()
		ch <- prometheus.MustNewConstMetric(c.limitCurrent, prometheus.GaugeValue, float64(hl.Current), name, period)
		ch <- prometheus.MustNewConstMetric(c.limitMax, prometheus.GaugeValue, float64(hl.Max), name, period)
		ch <- prometheus.MustNewConstMetric(c.limitReset, prometheus.GaugeValue, hl.ResetIn.Seconds(), name, period)
	}
}

// RegisterStatus registers a status collector for src on reg. The limiter
// must exist first, so this is separate from New, whose Metrics is passed
// to the limiter as an observer.
func RegisterStatus(reg prometheus.Registerer, src StatusSource) error {
	return reg.Register(NewStatusCollector(src))
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
