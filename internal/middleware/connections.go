package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionTracker records live long-lived client connections.
type SessionTracker interface {
	Join(ctx context.Context, session string) error
	Leave(ctx context.Context, session string) error
}

// Connections registers websocket and server-sent-event requests with t for as long
// as the handler runs. Tracking errors are logged and never fail the request.
func Connections(t SessionTracker, logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isLongLived(r) {
				next.ServeHTTP(w, r)
				return
			}

			// request ids come from callers and may repeat; sessions must not
			session := uuid.NewString()
			if err := t.Join(r.Context(), session); err != nil {
				logger.Warn().Err(err).Str("session", session).Str("request_id", r.Header.Get(RequestIDHeader)).Msg("session not tracked")
				next.ServeHTTP(w, r)
				return
			}
			defer func() {
				// the request context is usually cancelled by now
				if err := t.Leave(context.WithoutCancel(r.Context()), session); err != nil {
					logger.Warn().Err(err).Str("session", session).Msg("session not released")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func isLongLived(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
