// Package metrics holds the process metric registry and the update API that other
// subsystems use to report into it.
//
// A Registry is constructed once at startup and shared by reference. Families are
// registered up front; samples are created lazily per label-value tuple and mutated
// with atomic operations, so the request path never takes a registry-wide lock.
package metrics

import (
	"iter"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
)

// Kind identifies the instrument type of a metric family.
type Kind int

const (
	KindCounter Kind = iota
	KindHistogram
	KindGauge
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindHistogram:
		return "histogram"
	case KindGauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// DefaultBuckets are latency bounds in seconds used when a histogram descriptor has none.
var DefaultBuckets = []float64{0.1, 0.3, 0.5, 0.7, 1, 3, 5, 7, 10}

// Descriptor describes a metric family. It is copied on registration and never
// changes afterwards.
type Descriptor struct {
	Name    string
	Help    string
	Kind    Kind
	Labels  []string
	Buckets []float64 // histograms only, strictly ascending
}

// Registry is a concurrent collection of metric families.
type Registry struct {
	families sync.Map // map[string]*family
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

type family struct {
	desc     Descriptor
	promDesc *prometheus.Desc
	samples  sync.Map // map[string]sampleValue keyed by joined label values
	inits    sync.Map // map[string]*sync.Mutex, per-key insertion locks
}

// Register adds a family. A name that is already taken yields DuplicateMetricError and
// leaves the registry untouched.
func (r *Registry) Register(d Descriptor) error {
	if err := validate(d); err != nil {
		return err
	}
	d.Labels = slices.Clone(d.Labels)
	if d.Kind == KindHistogram {
		if len(d.Buckets) == 0 {
			d.Buckets = slices.Clone(DefaultBuckets)
		} else {
			d.Buckets = slices.Clone(d.Buckets)
		}
	} else {
		d.Buckets = nil
	}
	f := &family{
		desc:     d,
		promDesc: prometheus.NewDesc(d.Name, d.Help, d.Labels, nil),
	}
	if _, loaded := r.families.LoadOrStore(d.Name, f); loaded {
		return DuplicateMetricError{Name: d.Name}
	}
	return nil
}

// MustRegister registers every descriptor and panics on the first failure. It is meant
// for process startup, where a duplicate name must halt initialization.
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Descriptors returns copies of all registered descriptors ordered by name.
func (r *Registry) Descriptors() []Descriptor {
	fams := r.sortedFamilies()
	out := make([]Descriptor, 0, len(fams))
	for _, f := range fams {
		d := f.desc
		d.Labels = slices.Clone(d.Labels)
		d.Buckets = slices.Clone(d.Buckets)
		out = append(out, d)
	}
	return out
}

func validate(d Descriptor) error {
	if !model.IsValidLegacyMetricName(d.Name) {
		return InvalidDescriptorError{Name: d.Name, Reason: "invalid metric name"}
	}
	switch d.Kind {
	case KindCounter, KindHistogram, KindGauge:
	default:
		return InvalidDescriptorError{Name: d.Name, Reason: "unknown kind"}
	}
	seen := make(map[string]struct{}, len(d.Labels))
	for _, l := range d.Labels {
		if !model.LabelName(l).IsValidLegacy() || strings.HasPrefix(l, "__") {
			return InvalidDescriptorError{Name: d.Name, Reason: "invalid label name " + l}
		}
		if d.Kind == KindHistogram && l == "le" {
			return InvalidDescriptorError{Name: d.Name, Reason: `histogram label "le" is reserved`}
		}
		if _, dup := seen[l]; dup {
			return InvalidDescriptorError{Name: d.Name, Reason: "duplicate label name " + l}
		}
		seen[l] = struct{}{}
	}
	for i, b := range d.Buckets {
		if math.IsNaN(b) || (i > 0 && b <= d.Buckets[i-1]) {
			return InvalidDescriptorError{Name: d.Name, Reason: "buckets must be strictly ascending"}
		}
	}
	return nil
}

func (r *Registry) lookup(name string, want Kind) (*family, error) {
	v, ok := r.families.Load(name)
	if !ok {
		return nil, UnknownMetricError{Name: name}
	}
	f := v.(*family)
	if f.desc.Kind != want {
		return nil, KindMismatchError{Name: name, Want: want, Got: f.desc.Kind}
	}
	return f, nil
}

func (r *Registry) sortedFamilies() []*family {
	var fams []*family
	r.families.Range(func(_, v any) bool {
		fams = append(fams, v.(*family))
		return true
	})
	sort.Slice(fams, func(i, j int) bool { return fams[i].desc.Name < fams[j].desc.Name })
	return fams
}

// sample returns the sample for lvs, creating it on first use. Creation is serialized
// per key; lookups of existing samples take no lock.
func (f *family) sample(lvs []string) (sampleValue, error) {
	if len(lvs) != len(f.desc.Labels) {
		return nil, LabelArityError{Name: f.desc.Name, Want: len(f.desc.Labels), Got: len(lvs)}
	}
	key := strings.Join(lvs, string([]byte{model.SeparatorByte}))
	if v, ok := f.samples.Load(key); ok {
		return v.(sampleValue), nil
	}

	m, _ := f.inits.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if v, ok := f.samples.Load(key); ok {
		return v.(sampleValue), nil
	}
	s := newSampleValue(f.desc, slices.Clone(lvs))
	f.samples.Store(key, s)
	f.inits.Delete(key)
	return s, nil
}

func (f *family) sortedKeys() []string {
	var keys []string
	f.samples.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Sample is a point-in-time reading of one labelled instrument.
type Sample struct {
	Descriptor  Descriptor
	LabelValues []string
	// Value holds the counter or gauge value.
	Value float64
	// Histogram is set for histogram families only.
	Histogram *HistogramSnapshot

	promDesc *prometheus.Desc
}

// HistogramSnapshot is the state of a histogram sample. Bucket counts are cumulative.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets []Bucket
}

// Bucket is one cumulative histogram bucket.
type Bucket struct {
	UpperBound      float64
	CumulativeCount uint64
}

// Snapshot returns a lazy sequence over every sample, families ordered by name and
// samples by label values. Each sample is read atomically but samples may reflect
// different instants under concurrent writes. Ranging over the sequence again walks
// the live registry again.
func (r *Registry) Snapshot() iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		for _, f := range r.sortedFamilies() {
			for _, key := range f.sortedKeys() {
				v, ok := f.samples.Load(key)
				if !ok {
					continue
				}
				s := v.(sampleValue).read()
				s.Descriptor = f.desc
				s.promDesc = f.promDesc
				if !yield(s) {
					return
				}
			}
		}
	}
}
