package metrics

import (
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

type sampleValue interface {
	read() Sample
}

func newSampleValue(d Descriptor, lvs []string) sampleValue {
	switch d.Kind {
	case KindHistogram:
		return &histogramValue{labels: lvs, upper: d.Buckets, buckets: make([]uint64, len(d.Buckets))}
	case KindGauge:
		return &gaugeValue{labels: lvs}
	default:
		return &counterValue{labels: lvs}
	}
}

// atomicFloat stores a float64 as its IEEE-754 bits.
type atomicFloat struct {
	bits atomic.Uint64
}

func (a *atomicFloat) add(v float64) {
	for {
		old := a.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if a.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (a *atomicFloat) store(v float64) { a.bits.Store(math.Float64bits(v)) }

func (a *atomicFloat) load() float64 { return math.Float64frombits(a.bits.Load()) }

type counterValue struct {
	labels []string
	val    atomicFloat
}

func (c *counterValue) read() Sample {
	return Sample{LabelValues: slices.Clone(c.labels), Value: c.val.load()}
}

type gaugeValue struct {
	labels []string
	val    atomicFloat
}

func (g *gaugeValue) read() Sample {
	return Sample{LabelValues: slices.Clone(g.labels), Value: g.val.load()}
}

// histogramValue keeps cumulative bucket counts. The mutex is per sample so that
// a read sees buckets, count and sum from the same set of observations.
type histogramValue struct {
	labels  []string
	upper   []float64
	mu      sync.Mutex
	buckets []uint64
	count   uint64
	sum     float64
}

func (h *histogramValue) observe(v float64) {
	h.mu.Lock()
	for i, ub := range h.upper {
		if v <= ub {
			h.buckets[i]++
		}
	}
	h.count++
	h.sum += v
	h.mu.Unlock()
}

func (h *histogramValue) read() Sample {
	h.mu.Lock()
	snap := &HistogramSnapshot{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make([]Bucket, len(h.upper)),
	}
	for i, ub := range h.upper {
		snap.Buckets[i] = Bucket{UpperBound: ub, CumulativeCount: h.buckets[i]}
	}
	h.mu.Unlock()
	return Sample{LabelValues: slices.Clone(h.labels), Histogram: snap}
}

// Counter is a handle to a registered counter family.
type Counter struct {
	f *family
}

// Counter returns the counter family registered under name.
func (r *Registry) Counter(name string) (*Counter, error) {
	f, err := r.lookup(name, KindCounter)
	if err != nil {
		return nil, err
	}
	return &Counter{f: f}, nil
}

// WithLabelValues returns the sample for the given label values, creating it at zero.
func (c *Counter) WithLabelValues(lvs ...string) (*CounterSample, error) {
	s, err := c.f.sample(lvs)
	if err != nil {
		return nil, err
	}
	return &CounterSample{name: c.f.desc.Name, v: s.(*counterValue)}, nil
}

// CounterSample is one labelled counter.
type CounterSample struct {
	name string
	v    *counterValue
}

// Inc adds one.
func (s *CounterSample) Inc() { s.v.val.add(1) }

// Add adds n, which must be non-negative.
func (s *CounterSample) Add(n float64) error {
	if n < 0 || math.IsNaN(n) {
		return InvalidValueError{Name: s.name, Value: n, Reason: "counter increments must be non-negative"}
	}
	s.v.val.add(n)
	return nil
}

// Value returns the current count.
func (s *CounterSample) Value() float64 { return s.v.val.load() }

// Histogram is a handle to a registered histogram family.
type Histogram struct {
	f *family
}

// Histogram returns the histogram family registered under name.
func (r *Registry) Histogram(name string) (*Histogram, error) {
	f, err := r.lookup(name, KindHistogram)
	if err != nil {
		return nil, err
	}
	return &Histogram{f: f}, nil
}

// WithLabelValues returns the sample for the given label values.
func (h *Histogram) WithLabelValues(lvs ...string) (*HistogramSample, error) {
	s, err := h.f.sample(lvs)
	if err != nil {
		return nil, err
	}
	return &HistogramSample{name: h.f.desc.Name, v: s.(*histogramValue)}, nil
}

// HistogramSample is one labelled histogram.
type HistogramSample struct {
	name string
	v    *histogramValue
}

// Observe records v. Values above the highest bound only count toward +Inf. NaN is
// rejected since it would poison the sum.
func (s *HistogramSample) Observe(v float64) error {
	if math.IsNaN(v) {
		return InvalidValueError{Name: s.name, Value: v, Reason: "observations must be numbers"}
	}
	s.v.observe(v)
	return nil
}

// Snapshot returns the current state of the sample.
func (s *HistogramSample) Snapshot() HistogramSnapshot { return *s.v.read().Histogram }

// Gauge is a handle to a registered gauge family.
type Gauge struct {
	f *family
}

// Gauge returns the gauge family registered under name.
func (r *Registry) Gauge(name string) (*Gauge, error) {
	f, err := r.lookup(name, KindGauge)
	if err != nil {
		return nil, err
	}
	return &Gauge{f: f}, nil
}

// Set overwrites the value of an unlabelled gauge.
func (g *Gauge) Set(v float64) error {
	s, err := g.WithLabelValues()
	if err != nil {
		return err
	}
	s.Set(v)
	return nil
}

// WithLabelValues returns the sample for the given label values.
func (g *Gauge) WithLabelValues(lvs ...string) (*GaugeSample, error) {
	s, err := g.f.sample(lvs)
	if err != nil {
		return nil, err
	}
	return &GaugeSample{v: s.(*gaugeValue)}, nil
}

// GaugeSample is one labelled gauge.
type GaugeSample struct {
	v *gaugeValue
}

// Set overwrites the value; the last writer wins.
func (s *GaugeSample) Set(v float64) { s.v.val.store(v) }

// Add adds v, which may be negative.
func (s *GaugeSample) Add(v float64) { s.v.val.add(v) }

// Value returns the current value.
func (s *GaugeSample) Value() float64 { return s.v.val.load() }
