package middleware

import (
	"net/http"
	"strconv"

	"chat-observability/internal/metrics"

	"github.com/rs/zerolog"
)

// RouteResolver returns the route template that matches r, if any.
type RouteResolver func(r *http.Request) (string, bool)

// InstrumentConfig configures Instrument.
type InstrumentConfig struct {
	Registry *metrics.Registry
	// Resolver maps requests to route templates. Without one, or when it finds no
	// match, the raw path is used as the route label.
	Resolver RouteResolver
	Logger   zerolog.Logger
	Clock    Clock
}

// Instrument records request latency and a request count per method, route and status.
// Metric write failures are logged and dropped; they never affect the response.
func Instrument(cfg InstrumentConfig) (Middleware, error) {
	duration, err := cfg.Registry.Histogram(metrics.RequestDurationSeconds)
	if err != nil {
		return nil, err
	}
	requests, err := cfg.Registry.Counter(metrics.RequestsTotal)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger.With().Str("component", "instrumentation").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			intercept(next, w, r, cfg.Clock, logger, func(rc *RequestContext, r *http.Request) {
				start := rc.Now()
				route := r.URL.Path
				if cfg.Resolver != nil {
					if tmpl, ok := cfg.Resolver(r); ok {
						route = tmpl
					}
				}
				rc.Route = route

				rc.OnFinalize(func(rc *RequestContext) {
					elapsed := rc.Now().Sub(start).Seconds()
					lvs := []string{rc.Method, route, strconv.Itoa(rc.Status())}

					if h, err := duration.WithLabelValues(lvs...); err != nil {
						logger.Warn().Err(err).Msg("request duration not recorded")
					} else if err := h.Observe(elapsed); err != nil {
						logger.Warn().Err(err).Msg("request duration not recorded")
					}
					if c, err := requests.WithLabelValues(lvs...); err != nil {
						logger.Warn().Err(err).Msg("request count not recorded")
					} else {
						c.Inc()
					}
				})
			})
		})
	}, nil
}
