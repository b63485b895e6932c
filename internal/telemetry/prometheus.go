package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports samples as a histogram keyed by label.
type PrometheusObserver struct {
	latency *prometheus.HistogramVec
}

// NewPrometheusObserver registers the latency histogram on reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	h := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_latency_seconds",
			Help:      "Voice pipeline stage latency in seconds",
			Buckets:   []float64{0.02, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10},
		},
		[]string{"label"},
	)
	if err := reg.Register(h); err != nil {
		return nil, err
	}
	return &PrometheusObserver{latency: h}, nil
}

func (p *PrometheusObserver) Observe(s Sample) {
	p.latency.WithLabelValues(s.Label).Observe(s.Duration.Seconds())
}
