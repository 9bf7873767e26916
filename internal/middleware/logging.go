package middleware

import (
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSkipPaths are not logged by RequestLogger unless overridden.
var DefaultSkipPaths = []string{"/health", "/favicon.ico"}

// DefaultMaxBodyBytes bounds how much of a body is buffered for logging.
const DefaultMaxBodyBytes = 64 * 1024

// LoggerConfig configures RequestLogger.
type LoggerConfig struct {
	Logger       zerolog.Logger
	SkipPaths    []string
	MaxBodyBytes int64
	Clock        Clock
}

// RequestLogger writes one structured line per completed request, with the request
// body sanitized and the response body included for error statuses only.
func RequestLogger(cfg LoggerConfig) Middleware {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}
	limit := cfg.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	logger := cfg.Logger

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			intercept(next, w, r, cfg.Clock, logger, func(rc *RequestContext, r *http.Request) {
				start := rc.Now()
				reqType := r.Header.Get("Content-Type")
				rc.CaptureRequestBody(r, limit)
				rc.CaptureErrorResponses(limit)

				rc.OnFinalize(func(rc *RequestContext) {
					logRequest(logger, rc, reqType, rc.Now().Sub(start))
				})
			})
		})
	}
}

func logRequest(logger zerolog.Logger, rc *RequestContext, reqType string, elapsed time.Duration) {
	status := rc.Status()

	var ev *zerolog.Event
	switch {
	case status >= http.StatusInternalServerError:
		ev = logger.Error()
	case status >= http.StatusBadRequest:
		ev = logger.Warn()
	default:
		ev = logger.Info()
	}

	user := rc.User
	if user == "" {
		user = "-"
	}
	body, truncated := rc.RequestBody()
	respBody := BodyNotLogged
	if status >= http.StatusBadRequest {
		b, t := rc.ResponseBody()
		respBody = SanitizeBody(rc.rw.Header().Get("Content-Type"), b, t)
	}
	ms := float64(elapsed) / float64(time.Millisecond)

	ev.Str("remote_addr", rc.RemoteAddr).
		Str("user", user).
		Str("request_time", rc.Start.UTC().Format(time.RFC3339Nano)).
		Str("method", rc.Method).
		Str("url", rc.URL).
		Str("proto", rc.Proto).
		Int("status", status).
		Int64("content_length", rc.BytesWritten()).
		Str("referrer", rc.Referrer).
		Str("user_agent", rc.UserAgent).
		Float64("response_time_ms", math.Round(ms*1000)/1000).
		Str("request_id", rc.RequestID).
		Str("body", SanitizeBody(reqType, body, truncated)).
		Str("response_body", respBody).
		Msg("request completed")
}
