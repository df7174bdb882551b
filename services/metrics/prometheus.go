package metricsvc

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gruppenschlau/gruppenschlau/core"
)

const namespace = "gruppenschlau"

// Recorder is a core.Metrics backed by prometheus collectors.
type Recorder struct {
	registry    *prometheus.Registry
	cacheLookup *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	emails      *prometheus.CounterVec
}

var _ core.Metrics = (*Recorder)(nil)

// NewRecorder registers its collectors, plus the go and process collectors, on a new registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read cache lookups by view and outcome.",
		}, []string{"view", "hit"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_reads_total",
			Help:      "Reads answered with a degraded result, by view.",
		}, []string{"view"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_transitions_total",
			Help:      "Group status transitions.",
		}, []string{"from", "to"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_emails_total",
			Help:      "Activation emails by outcome.",
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.cacheLookup, r.degraded, r.transitions, r.emails,
	)
	return r
}

func (r *Recorder) CacheLookup(view string, hit bool) {
	r.cacheLookup.WithLabelValues(view, strconv.FormatBool(hit)).Inc()
}

func (r *Recorder) DegradedRead(view string) {
	r.degraded.WithLabelValues(view).Inc()
}

func (r *Recorder) GroupTransition(from, to string) {
	r.transitions.WithLabelValues(from, to).Inc()
}

func (r *Recorder) EmailsDispatched(sent, failed int) {
	r.emails.WithLabelValues("sent").Add(float64(sent))
	r.emails.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
