package inference

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics are per run, on a private registry, and dumped to a textfile at the end
// for the node exporter to pick up.
type metrics struct {
	registry  *prometheus.Registry
	pages     prometheus.Counter
	batches   *prometheus.CounterVec
	documents prometheus.Counter
	inference prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adaparse_pages_total",
			Help: "Pages transcribed by the model",
		}),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adaparse_batches_total",
				Help: "Batches sent to the model",
			},
			[]string{"status"},
		),
		documents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adaparse_documents_total",
			Help: "Documents written as .mmd",
		}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adaparse_inference_seconds",
			Help:    "Model inference time per batch",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	m.registry.MustRegister(m.pages, m.batches, m.documents, m.inference)
	return m
}

func (m *metrics) batch(ok bool, seconds float64) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.batches.WithLabelValues(status).Inc()
	m.inference.Observe(seconds)
}

// writeTextfile writes the registry in the Prometheus text format.
func (m *metrics) writeTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
