package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeToken(t *testing.T, secret []byte, issuer, subject, role string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := CustomClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("signed token: %v", err)
	}
	return s
}

func TestIdentity_Valid(t *testing.T) {
	secret := []byte("test-secret")
	issuer := "test-issuer"
	var logs logBuffer

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-User-ID"); got != "user123" {
			t.Fatalf("expected X-User-ID=user123 got=%s", got)
		}
		if got := r.Header.Get("X-User-Role"); got != "admin" {
			t.Fatalf("expected X-User-Role=admin got=%s", got)
		}
		w.WriteHeader(http.StatusOK)
	}), RequestLogger(LoggerConfig{Logger: logs.logger()}), Identity(secret, issuer, zerolog.Nop()))

	token := makeToken(t, secret, issuer, "user123", "admin", time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", rr.Code, rr.Body.String())
	}

	entries := logs.withMessage(t, "request completed")
	require.Len(t, entries, 1)
	assert.Equal(t, "user123", entries[0]["user"])
}

func TestIdentity_InvalidStaysAnonymous(t *testing.T) {
	secret := []byte("test-secret")
	issuer := "test-issuer"

	cases := map[string]string{
		"missing header": "",
		"bad format":     "Token abc",
		"bad token":      "Bearer bad.token.here",
		"expired":        "Bearer " + makeToken(t, secret, issuer, "user123", "admin", -time.Minute),
		"wrong issuer":   "Bearer " + makeToken(t, secret, "wrong-issuer", "user123", "admin", time.Minute),
		"wrong secret":   "Bearer " + makeToken(t, []byte("other"), issuer, "user123", "admin", time.Minute),
	}

	for name, auth := range cases {
		t.Run(name, func(t *testing.T) {
			var user string
			handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user = r.Header.Get("X-User-ID")
				w.WriteHeader(http.StatusOK)
			}), Identity(secret, issuer, zerolog.Nop()))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if auth != "" {
				req.Header.Set("Authorization", auth)
			}
			// a client-supplied identity is never trusted
			req.Header.Set("X-User-ID", "spoofed")
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Empty(t, user)
		})
	}
}

type fakeTracker struct {
	mu      sync.Mutex
	joined  []string
	left    []string
	joinErr error
}

func (f *fakeTracker) Join(_ context.Context, s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, s)
	return nil
}

func (f *fakeTracker) Leave(ctx context.Context, s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.left = append(f.left, s)
	return nil
}

func TestConnections(t *testing.T) {
	tracker := &fakeTracker{}
	var during int
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracker.mu.Lock()
		during = len(tracker.joined) - len(tracker.left)
		tracker.mu.Unlock()
	}), Connections(tracker, zerolog.Nop()))

	ws := httptest.NewRequest(http.MethodGet, "/socket", nil)
	ws.Header.Set("Connection", "Upgrade")
	ws.Header.Set("Upgrade", "websocket")
	ws.Header.Set("X-Request-ID", "sess-1")
	h.ServeHTTP(httptest.NewRecorder(), ws)
	assert.Equal(t, 1, during)

	ctx, cancel := context.WithCancel(context.Background())
	sse := httptest.NewRequest(http.MethodGet, "/api/messages", nil).WithContext(ctx)
	sse.Header.Set("Accept", "text/event-stream")
	cancel()
	h.ServeHTTP(httptest.NewRecorder(), sse)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/messages", nil))

	assert.Len(t, tracker.joined, 2)
	assert.NotEqual(t, "sess-1", tracker.joined[0])
	assert.Equal(t, tracker.joined, tracker.left)
}

func TestConnections_TrackingFailureDoesNotFailRequest(t *testing.T) {
	tracker := &fakeTracker{joinErr: errors.New("redis down")}
	called := false
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}), Connections(tracker, zerolog.Nop()))

	req := httptest.NewRequest(http.MethodGet, "/socket", nil)
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
	assert.Empty(t, tracker.left)
}

func TestConnections_DuplicateRequestIDs(t *testing.T) {
	tracker := &fakeTracker{}
	entered := make(chan struct{})
	release := make(chan struct{})
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
	}), RequestID, Connections(tracker, zerolog.Nop()))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/socket", nil)
			req.Header.Set("Upgrade", "websocket")
			req.Header.Set("X-Request-ID", "same-id")
			h.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	<-entered
	<-entered

	tracker.mu.Lock()
	require.Len(t, tracker.joined, 2)
	assert.NotEqual(t, tracker.joined[0], tracker.joined[1])
	tracker.mu.Unlock()

	close(release)
	wg.Wait()
	assert.ElementsMatch(t, tracker.joined, tracker.left)
}

func TestStripIdentityHeaders(t *testing.T) {
	var seen http.Header
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}), StripIdentityHeaders)

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("X-User-ID", "admin")
	req.Header.Set("X-User-Role", "admin")
	req.Header.Set("Accept", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Empty(t, seen.Get("X-User-ID"))
	assert.Empty(t, seen.Get("X-User-Role"))
	assert.Equal(t, "application/json", seen.Get("Accept"))
}

func TestRequestID(t *testing.T) {
	var logs logBuffer
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		RequestLogger(LoggerConfig{Logger: logs.logger()}), RequestID)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	id := rr.Header().Get("X-Request-ID")
	require.NotEmpty(t, id)

	entries := logs.withMessage(t, "request completed")
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0]["request_id"])

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("X-Request-ID", "given")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "given", rr.Header().Get("X-Request-ID"))

	for _, bad := range []string{"has space", strings.Repeat("a", 129), "tab\there"} {
		req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
		req.Header.Set("X-Request-ID", bad)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		got := rr.Header().Get("X-Request-ID")
		assert.NotEqual(t, bad, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		RequestSizeLimit(4, zerolog.Nop()))

	req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
	req.ContentLength = 5
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
