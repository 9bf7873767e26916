package handler

import (
	"bytes"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
)

var textFormat = expfmt.NewFormat(expfmt.TypeTextPlain)

// SerializationError wraps a failure to gather or encode the exposition.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string { return "serialization failed: " + e.Err.Error() }

func (e *SerializationError) Unwrap() error { return e.Err }

// MetricsHandler serves the Prometheus text exposition of a gatherer.
type MetricsHandler struct {
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

func NewMetricsHandler(g prometheus.Gatherer, logger zerolog.Logger) *MetricsHandler {
	return &MetricsHandler{gatherer: g, logger: logger}
}

// ServeHTTP renders the whole exposition before writing, so a failure never leaves a
// partial body behind.
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := h.render()
	if err != nil {
		h.logger.Error().Err(err).Msg("metrics exposition failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "serialization_failed",
			Message: err.Error(),
		})
		return
	}
	w.Header().Set("Content-Type", string(textFormat))
	_, _ = w.Write(body)
}

func (h *MetricsHandler) render() ([]byte, error) {
	families, err := h.gatherer.Gather()
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, textFormat)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, &SerializationError{Err: err}
		}
	}
	return buf.Bytes(), nil
}
