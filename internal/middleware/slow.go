package middleware

import (
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSlowThreshold is the latency above which a request is reported as slow.
const DefaultSlowThreshold = time.Second

// SlowRequests logs a warning for every request that takes longer than threshold.
// The response itself is left alone.
func SlowRequests(logger zerolog.Logger, threshold time.Duration, clock Clock) Middleware {
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			intercept(next, w, r, clock, logger, func(rc *RequestContext, _ *http.Request) {
				start := rc.Now()
				rc.OnFinalize(func(rc *RequestContext) {
					elapsed := rc.Now().Sub(start)
					if elapsed <= threshold {
						return
					}
					ms := float64(elapsed) / float64(time.Millisecond)
					logger.Warn().
						Str("method", rc.Method).
						Str("url", rc.URL).
						Float64("duration_ms", math.Round(ms*100)/100).
						Msg("slow request detected")
				})
			})
		})
	}
}
