package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"chat-observability/internal/service"

	"github.com/rs/zerolog"
)

// ProxyHandler forwards requests to the downstream chat backend.
type ProxyHandler struct {
	proxy *httputil.ReverseProxy
}

// NewProxyHandler proxies to downstream through transport.
func NewProxyHandler(downstream string, transport http.RoundTripper, logger zerolog.Logger) (*ProxyHandler, error) {
	u, err := url.Parse(downstream)
	if err != nil {
		return nil, fmt.Errorf("parse downstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("downstream url %q must be absolute", downstream)
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			// the client went away; there is nobody to answer
			if r.Context().Err() != nil {
				return
			}
			if errors.Is(err, service.ErrCircuitBreakerOpen) {
				code, _ := service.ErrorCode(err)
				writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: code, Message: err.Error()})
				return
			}
			logger.Error().Err(err).Str("path", r.URL.Path).Msg("proxy error")
			writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "bad_gateway", Message: "downstream request failed"})
		},
	}
	return &ProxyHandler{proxy: rp}, nil
}

func (p *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}
