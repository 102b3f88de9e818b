package stats

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors exported on /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	Hashrate prometheus.Gauge
	Hashes   prometheus.Counter
	Shares   *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		Hashrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hashrate_hs",
			Help:      "Smoothed hashrate over the stats window, hashes per second",
		}),
		Hashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hashes_total",
			Help:      "Total hashes computed across all workers",
		}),
		Shares: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shares_total",
			Help:      "Submitted shares by upstream verdict",
		}, []string{"status"}),
	}

	reg.MustRegister(m.Hashrate, m.Hashes, m.Shares)
	return m
}
