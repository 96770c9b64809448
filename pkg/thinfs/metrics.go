package thinfs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts how the filesystem is used. A nil *Metrics records nothing.
type Metrics struct {
	Lookups       *prometheus.CounterVec
	Opens         *prometheus.CounterVec
	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thintex_lookups_total",
			Help: "Number of child lookups by result",
		}, []string{"result"}),
		Opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thintex_opens_total",
			Help: "Number of opened regular files by where the body came from",
		}, []string{"source"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thintex_fetches_total",
			Help: "Number of body downloads by result",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "thintex_fetch_duration_seconds",
			Help:    "Duration of body downloads in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Lookups, m.Opens, m.Fetches, m.FetchDuration} {
		err := reg.Register(c)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) lookup(found bool) {
	if m == nil {
		return
	}
	res := "found"
	if !found {
		res = "missing"
	}
	m.Lookups.WithLabelValues(res).Inc()
}

func (m *Metrics) open(source string) {
	if m == nil {
		return
	}
	m.Opens.WithLabelValues(source).Inc()
}

func (m *Metrics) fetch(err error, dt time.Duration) {
	if m == nil {
		return
	}
	res := "ok"
	if err != nil {
		res = "error"
	}
	m.Fetches.WithLabelValues(res).Inc()
	m.FetchDuration.Observe(dt.Seconds())
}
