package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kpublish"

// Recorder holds the service's Prometheus collectors. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	sends            *prometheus.CounterVec
	sendLatency      prometheus.Histogram
	requests         *prometheus.CounterVec
	producerCreates  *prometheus.CounterVec
	producersCached  prometheus.Gauge
	conversionErrors prometheus.Counter
}

// NewRecorder registers all collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Recorder{registry: reg}

	r.sends = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sends_total",
		Help:      "Number of broker sends by result",
	}, []string{"topic", "result"})

	r.sendLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "send_latency_seconds",
		Help:      "Latency of a single broker send in seconds",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
	})

	r.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_requests_total",
		Help:      "Publish requests by HTTP status",
	}, []string{"status"})

	r.producerCreates = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "producer_creations_total",
		Help:      "Producer handle creations by result",
	}, []string{"result"})

	r.producersCached = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "producers_cached",
		Help:      "Producer handles currently cached",
	})

	r.conversionErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversion_errors_total",
		Help:      "Documents rejected by the JSON to Avro converter",
	})

	return r
}

// ObserveSend records the outcome of one broker send.
func (r *Recorder) ObserveSend(topic string, err error, d time.Duration) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.sends.WithLabelValues(topic, result).Inc()
	r.sendLatency.Observe(d.Seconds())
}

func (r *Recorder) ObserveRequest(status int) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveProducerCreate records a handle creation attempt; cached is the
// cache size after it.
func (r *Recorder) ObserveProducerCreate(err error, cached int) {
	if r == nil {
		return
	}
	if err != nil {
		r.producerCreates.WithLabelValues("failure").Inc()
		return
	}
	r.producerCreates.WithLabelValues("success").Inc()
	r.producersCached.Set(float64(cached))
}

// SetProducersCached reports the current cache size, e.g. after teardown.
func (r *Recorder) SetProducersCached(n int) {
	if r == nil {
		return
	}
	r.producersCached.Set(float64(n))
}

func (r *Recorder) ObserveConversionError() {
	if r == nil {
		return
	}
	r.conversionErrors.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
