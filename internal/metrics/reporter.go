package metrics

import (
	"errors"
	"math"

	"github.com/rs/zerolog"
)

// Storage operation kinds accepted by ReportStorageOperation.
const (
	OpRead   = "read"
	OpWrite  = "write"
	OpDelete = "delete"
)

// ErrRatioOutOfRange is returned by ReportCacheRatio for values outside [0,1].
var ErrRatioOutOfRange = errors.New("cache ratio must be within [0,1]")

// Reporter is the update API for subsystems outside the request path. Its methods
// are safe for concurrent use and never panic; bad input is logged and dropped.
type Reporter struct {
	connections *Gauge
	operations  *Counter
	cacheRatio  *Gauge
	logger      zerolog.Logger
}

// NewReporter resolves the default families. It fails if RegisterDefaults has not
// been applied to r.
func NewReporter(r *Registry, logger zerolog.Logger) (*Reporter, error) {
	connections, err := r.Gauge(ActiveConnections)
	if err != nil {
		return nil, err
	}
	operations, err := r.Counter(DatabaseOperations)
	if err != nil {
		return nil, err
	}
	cacheRatio, err := r.Gauge(CacheHitRatio)
	if err != nil {
		return nil, err
	}
	return &Reporter{
		connections: connections,
		operations:  operations,
		cacheRatio:  cacheRatio,
		logger:      logger.With().Str("component", "metrics_reporter").Logger(),
	}, nil
}

// ReportConnectionCount sets the number of live long-lived connections.
func (p *Reporter) ReportConnectionCount(n int64) {
	if n < 0 {
		p.logger.Warn().Int64("count", n).Msg("negative connection count dropped")
		return
	}
	if err := p.connections.Set(float64(n)); err != nil {
		p.logger.Warn().Err(err).Msg("connection count not recorded")
	}
}

// ReportStorageOperation counts one storage operation against a collection.
func (p *Reporter) ReportStorageOperation(kind, collection string) {
	switch kind {
	case OpRead, OpWrite, OpDelete:
	default:
		p.logger.Warn().Str("operation", kind).Str("collection", collection).Msg("unknown storage operation dropped")
		return
	}
	s, err := p.operations.WithLabelValues(kind, collection)
	if err != nil {
		p.logger.Warn().Err(err).Msg("storage operation not recorded")
		return
	}
	s.Inc()
}

// ReportCacheRatio sets the cache hit ratio. Out-of-range values are rejected and
// leave the previous value in place.
func (p *Reporter) ReportCacheRatio(ratio float64) error {
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		p.logger.Warn().Float64("ratio", ratio).Msg("cache ratio out of range dropped")
		return ErrRatioOutOfRange
	}
	if err := p.cacheRatio.Set(ratio); err != nil {
		p.logger.Warn().Err(err).Msg("cache ratio not recorded")
		return err
	}
	return nil
}
