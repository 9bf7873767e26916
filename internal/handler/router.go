package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

const catchAllRoute = "catch-all"

// DefaultRoutes are the chat API templates proxied downstream.
var DefaultRoutes = []string{
	"/api/auth/login",
	"/api/auth/register",
	"/api/messages",
	"/api/messages/{id}",
	"/api/conversations/{id}/messages",
	"/api/users/{id}",
	"/socket",
}

// RouterConfig lists the handlers mounted by NewRouter.
type RouterConfig struct {
	Routes  []string
	Metrics http.Handler
	Health  *HealthHandler
	Proxy   http.Handler
}

// NewRouter serves the local endpoints and proxies the route templates and any other
// path downstream.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", cfg.Metrics)
	r.HandleFunc("/health", cfg.Health.Health)
	r.HandleFunc("/ready", cfg.Health.Readiness)

	for _, tmpl := range cfg.Routes {
		r.Handle(tmpl, cfg.Proxy)
	}
	r.PathPrefix("/").Handler(cfg.Proxy).Name(catchAllRoute)
	return r
}

// RouteResolver returns the path template of the route matching a request. The
// catch-all route does not count as a match.
func RouteResolver(router *mux.Router) func(*http.Request) (string, bool) {
	return func(r *http.Request) (string, bool) {
		var m mux.RouteMatch
		if !router.Match(r, &m) || m.Route == nil || m.MatchErr != nil {
			return "", false
		}
		if m.Route.GetName() == catchAllRoute {
			return "", false
		}
		tmpl, err := m.Route.GetPathTemplate()
		if err != nil {
			return "", false
		}
		return tmpl, true
	}
}
