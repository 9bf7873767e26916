package metrics

// Metric families used by the gateway.
const (
	RequestDurationSeconds = "http_request_duration_seconds"
	RequestsTotal          = "http_requests_total"
	ActiveConnections      = "active_connections"
	DatabaseOperations     = "database_operations_total"
	CacheHitRatio          = "cache_hit_ratio"
)

// RequestLabels are the labels of the per-request families.
var RequestLabels = []string{"method", "route", "status_code"}

// DefaultDescriptors returns the descriptors the gateway registers at startup.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:    RequestDurationSeconds,
			Help:    "Duration of HTTP requests in seconds",
			Kind:    KindHistogram,
			Labels:  RequestLabels,
			Buckets: DefaultBuckets,
		},
		{
			Name:   RequestsTotal,
			Help:   "Total number of HTTP requests",
			Kind:   KindCounter,
			Labels: RequestLabels,
		},
		{
			Name: ActiveConnections,
			Help: "Number of live realtime connections",
			Kind: KindGauge,
		},
		{
			Name:   DatabaseOperations,
			Help:   "Total number of storage operations",
			Kind:   KindCounter,
			Labels: []string{"operation", "collection"},
		},
		{
			Name: CacheHitRatio,
			Help: "Response cache hit ratio",
			Kind: KindGauge,
		},
	}
}

// RegisterDefaults registers DefaultDescriptors, stopping at the first error.
func RegisterDefaults(r *Registry) error {
	for _, d := range DefaultDescriptors() {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
