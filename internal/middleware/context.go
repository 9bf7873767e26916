package middleware

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Clock returns the current time. Readings must carry a monotonic component.
type Clock func() time.Time

type contextKey string

const requestContextKey contextKey = "request_context"

// RequestContext is the per-request state shared by the interceptors. The outermost
// interceptor creates it; every interceptor registers a finalizer that runs once,
// after the handler has returned.
type RequestContext struct {
	Start      time.Time
	Method     string
	Path       string
	URL        string
	Route      string
	Proto      string
	RemoteAddr string
	Referrer   string
	UserAgent  string
	RequestID  string
	User       string

	clock  Clock
	logger zerolog.Logger
	rw     *responseWriter

	requestBody      []byte
	requestTruncated bool

	mu         sync.Mutex
	finalizers []func(*RequestContext)
	once       sync.Once
}

// FromContext returns the RequestContext of the request, or nil outside an
// instrumented chain.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey).(*RequestContext)
	return rc
}

// Now reads the clock of the chain that created rc.
func (rc *RequestContext) Now() time.Time { return rc.clock() }

// Status returns the response status; 200 if the handler never set one.
func (rc *RequestContext) Status() int {
	rc.rw.mu.Lock()
	defer rc.rw.mu.Unlock()
	return rc.rw.status
}

// BytesWritten returns the number of response body bytes written.
func (rc *RequestContext) BytesWritten() int64 {
	rc.rw.mu.Lock()
	defer rc.rw.mu.Unlock()
	return rc.rw.bytes
}

// RequestBody returns the captured request body and whether it was cut at the
// capture limit.
func (rc *RequestContext) RequestBody() ([]byte, bool) {
	return rc.requestBody, rc.requestTruncated
}

// ResponseBody returns the captured error response body and whether it was cut at
// the capture limit. Bodies of responses below 400 are never captured.
func (rc *RequestContext) ResponseBody() ([]byte, bool) {
	rc.rw.mu.Lock()
	defer rc.rw.mu.Unlock()
	return rc.rw.captured.Bytes(), rc.rw.capturedTruncated
}

// OnFinalize registers fn to run when the response is finalized. Finalizers run in
// registration order; a panicking finalizer is logged and does not stop the others.
func (rc *RequestContext) OnFinalize(fn func(*RequestContext)) {
	rc.mu.Lock()
	rc.finalizers = append(rc.finalizers, fn)
	rc.mu.Unlock()
}

// CaptureRequestBody buffers up to limit bytes of the request body and puts them
// back in front of the unread remainder, so the handler still sees the full body.
func (rc *RequestContext) CaptureRequestBody(r *http.Request, limit int64) {
	if rc.requestBody != nil || r.Body == nil || r.Body == http.NoBody || limit <= 0 {
		return
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		rc.logger.Debug().Err(err).Msg("request body capture incomplete")
	}
	r.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if int64(len(buf)) > limit {
		buf = buf[:limit]
		rc.requestTruncated = true
	}
	rc.requestBody = buf
}

// CaptureErrorResponses keeps up to limit bytes of the response body when the status
// is 400 or above.
func (rc *RequestContext) CaptureErrorResponses(limit int64) {
	rc.rw.mu.Lock()
	if limit > rc.rw.captureLimit {
		rc.rw.captureLimit = limit
	}
	rc.rw.mu.Unlock()
}

func (rc *RequestContext) finalize() {
	rc.once.Do(func() {
		rc.mu.Lock()
		fns := slices.Clone(rc.finalizers)
		rc.mu.Unlock()
		for _, fn := range fns {
			rc.runFinalizer(fn)
		}
	})
}

func (rc *RequestContext) runFinalizer(fn func(*RequestContext)) {
	defer func() {
		if p := recover(); p != nil {
			rc.logger.Error().Interface("panic", p).Str("path", rc.Path).Msg("request finalizer failed")
		}
	}()
	fn(rc)
}

type replayBody struct {
	io.Reader
	io.Closer
}

// intercept runs next with a RequestContext, creating one if the request does not
// carry it yet. begin is called before next so the caller can register finalizers.
// The creator finalizes the context after next returns or panics. A request whose
// context was cancelled before any response was written, or a handler that aborts
// with http.ErrAbortHandler, is not finalized.
func intercept(next http.Handler, w http.ResponseWriter, r *http.Request, clock Clock, logger zerolog.Logger, begin func(*RequestContext, *http.Request)) {
	if rc := FromContext(r.Context()); rc != nil {
		begin(rc, r)
		next.ServeHTTP(w, r)
		return
	}

	if clock == nil {
		clock = time.Now
	}
	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	rc := &RequestContext{
		Start:      clock(),
		Method:     r.Method,
		Path:       r.URL.Path,
		URL:        r.URL.RequestURI(),
		Route:      r.URL.Path,
		Proto:      r.Proto,
		RemoteAddr: clientIP(r),
		Referrer:   r.Referer(),
		UserAgent:  r.UserAgent(),
		RequestID:  r.Header.Get(RequestIDHeader),
		clock:      clock,
		logger:     logger,
		rw:         rw,
	}
	r = r.WithContext(context.WithValue(r.Context(), requestContextKey, rc))

	defer func() {
		p := recover()
		if p == http.ErrAbortHandler {
			panic(p)
		}
		if p != nil {
			rw.markFailed()
		} else if r.Context().Err() != nil && !rw.wrote() {
			return
		}
		rc.finalize()
		if p != nil {
			panic(p)
		}
	}()

	begin(rc, r)
	next.ServeHTTP(rw, r)
}

// responseWriter records status and size, and tees error response bodies into a
// bounded buffer.
type responseWriter struct {
	http.ResponseWriter

	mu                sync.Mutex
	status            int
	bytes             int64
	wroteHeader       bool
	captureLimit      int64
	captured          bytes.Buffer
	capturedTruncated bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.mu.Lock()
	// 1xx responses other than 101 are informational and precede the real status.
	if !w.wroteHeader && (code >= 200 || code == http.StatusSwitchingProtocols) {
		w.status = code
		w.wroteHeader = true
	}
	w.mu.Unlock()
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	w.wroteHeader = true
	if w.status >= http.StatusBadRequest && w.captureLimit > 0 {
		room := w.captureLimit - int64(w.captured.Len())
		switch {
		case room >= int64(len(b)):
			w.captured.Write(b)
		case room > 0:
			w.captured.Write(b[:room])
			w.capturedTruncated = true
		default:
			w.capturedTruncated = true
		}
	}
	w.mu.Unlock()

	n, err := w.ResponseWriter.Write(b)

	w.mu.Lock()
	w.bytes += int64(n)
	w.mu.Unlock()
	return n, err
}

func (w *responseWriter) wrote() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wroteHeader
}

// markFailed sets status 500 for a handler that panicked before writing a header.
func (w *responseWriter) markFailed() {
	w.mu.Lock()
	if !w.wroteHeader {
		w.status = http.StatusInternalServerError
	}
	w.mu.Unlock()
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.mu.Lock()
		w.wroteHeader = true
		w.mu.Unlock()
		f.Flush()
	}
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.mu.Lock()
	if !w.wroteHeader {
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	w.mu.Unlock()
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
