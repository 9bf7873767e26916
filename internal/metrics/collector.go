package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Describe sends nothing, which makes the registry an unchecked collector: families
// may be registered after it has been handed to a prometheus.Registry.
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

// Collect converts the current snapshot into constant Prometheus metrics. Samples that
// cannot be represented are reported as invalid metrics, which fails the gather.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for s := range r.Snapshot() {
		m, err := constMetric(s)
		if err != nil {
			m = prometheus.NewInvalidMetric(s.promDesc, err)
		}
		ch <- m
	}
}

func constMetric(s Sample) (prometheus.Metric, error) {
	switch s.Descriptor.Kind {
	case KindCounter:
		return prometheus.NewConstMetric(s.promDesc, prometheus.CounterValue, s.Value, s.LabelValues...)
	case KindGauge:
		return prometheus.NewConstMetric(s.promDesc, prometheus.GaugeValue, s.Value, s.LabelValues...)
	case KindHistogram:
		buckets := make(map[float64]uint64, len(s.Histogram.Buckets))
		for _, b := range s.Histogram.Buckets {
			buckets[b.UpperBound] = b.CumulativeCount
		}
		return prometheus.NewConstHistogram(s.promDesc, s.Histogram.Count, s.Histogram.Sum, buckets, s.LabelValues...)
	default:
		return nil, fmt.Errorf("unsupported kind %s", s.Descriptor.Kind)
	}
}

// NewGatherer wraps the registry in a prometheus.Registry for exposition. With
// runtime set, the Go runtime and process collectors are included as well.
func NewGatherer(r *Registry, runtime bool) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(r); err != nil {
		return nil, fmt.Errorf("register metrics collector: %w", err)
	}
	if runtime {
		if err := reg.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("register go collector: %w", err)
		}
		if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("register process collector: %w", err)
		}
	}
	return reg, nil
}
