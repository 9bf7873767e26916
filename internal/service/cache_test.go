package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxSize int, rep CacheReporter) *ResponseCache {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewResponseCache(ctx, maxSize, 1024*1024, rep)
}

func TestResponseCache_GetSet(t *testing.T) {
	rc := newTestCache(t, 100, nil)

	entry := &CacheEntry{
		Status:    200,
		Body:      []byte("test"),
		ExpiresAt: time.Now().Add(1 * time.Minute),
	}

	rc.Set("test-key", entry)
	retrieved, exists := rc.Get("test-key")

	if !exists {
		t.Fatal("expected entry to exist")
	}
	if retrieved.HitCount != 1 {
		t.Errorf("expected hit count 1, got %d", retrieved.HitCount)
	}
	if string(retrieved.Body) != "test" {
		t.Errorf("expected body 'test', got %s", string(retrieved.Body))
	}
}

func TestResponseCache_Expiration(t *testing.T) {
	rc := newTestCache(t, 100, nil)

	entry := &CacheEntry{
		Status:    200,
		Body:      []byte("test"),
		ExpiresAt: time.Now().Add(-1 * time.Second), // Expired
	}

	rc.Set("test-key", entry)
	_, exists := rc.Get("test-key")

	if exists {
		t.Error("expected entry to be expired")
	}
	if rc.Len() != 0 {
		t.Errorf("expected expired entry to be dropped, got %d entries", rc.Len())
	}
}

func TestResponseCache_SizeLimit(t *testing.T) {
	rc := newTestCache(t, 2, nil) // Max 2 entries

	for _, key := range []string{"a", "b", "c"} {
		rc.Set(key, &CacheEntry{
			Status:    200,
			Body:      []byte("test"),
			ExpiresAt: time.Now().Add(1 * time.Minute),
		})
		if key == "a" {
			rc.Get("a")
		}
	}

	assert.Equal(t, 2, rc.Len())
	_, ok := rc.Get("a")
	assert.True(t, ok, "the most hit entry survives eviction")
}

func TestResponseCache_EntryTooLarge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rc := NewResponseCache(ctx, 10, 3, nil)

	rc.Set("big", &CacheEntry{Body: []byte("test"), ExpiresAt: time.Now().Add(time.Minute)})
	assert.Equal(t, 0, rc.Len())
}

func TestResponseCache_Clear(t *testing.T) {
	rc := newTestCache(t, 100, nil)

	entry := &CacheEntry{
		Status:    200,
		Body:      []byte("test"),
		ExpiresAt: time.Now().Add(1 * time.Minute),
	}
	rc.Set("key1", entry)
	rc.Set("key2", entry)

	rc.Clear()

	if rc.Len() != 0 {
		t.Errorf("expected size 0 after clear, got %d", rc.Len())
	}
}

func TestResponseCache_ReportsRatioAndOperations(t *testing.T) {
	rep := &fakeReporter{}
	rc := newTestCache(t, 100, rep)

	rc.Get("k") // miss
	rc.Set("k", &CacheEntry{Status: 200, ExpiresAt: time.Now().Add(time.Minute)})
	rc.Get("k") // hit
	rc.Get("k") // hit
	rc.Delete("k")

	assert.InDelta(t, 2.0/3.0, rc.HitRatio(), 1e-9)
	assert.Equal(t, []float64{0, 0.5, 2.0 / 3.0}, rep.ratios)
	assert.Equal(t, []string{
		"read/response_cache",
		"write/response_cache",
		"read/response_cache",
		"read/response_cache",
		"delete/response_cache",
	}, rep.ops)
}

func TestResponseCache_HitRatioBeforeLookups(t *testing.T) {
	rc := newTestCache(t, 1, nil)
	assert.Equal(t, 0.0, rc.HitRatio())
}

func TestCachedRoundTripper_CachesGET(t *testing.T) {
	rc := newTestCache(t, 100, nil)
	crt := NewCachedRoundTripper(rc, nil)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Cache-Control", "max-age=300")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("response"))
	}))
	defer server.Close()

	client := &http.Client{Transport: crt}

	resp1, err := client.Get(server.URL + "/test")
	require.NoError(t, err)
	resp1.Body.Close()
	assert.Equal(t, "MISS", resp1.Header.Get("X-Cache"))

	resp2, err := client.Get(server.URL + "/test")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "HIT", resp2.Header.Get("X-Cache"))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, rc.Len())
}

func TestCachedRoundTripper_KeysByUser(t *testing.T) {
	rc := newTestCache(t, 100, nil)
	client := &http.Client{Transport: NewCachedRoundTripper(rc, nil)}

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(r.Header.Get("X-User-ID")))
	}))
	defer server.Close()

	for _, user := range []string{"alice", "bob", "alice"} {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/messages", nil)
		req.Header.Set("X-User-ID", user)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedRoundTripper_UnresolvedCredentialsBypass(t *testing.T) {
	rc := newTestCache(t, 100, nil)
	client := &http.Client{Transport: NewCachedRoundTripper(rc, nil)}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("messages of " + r.Header.Get("Authorization") + r.Header.Get("Cookie")))
	}))
	defer server.Close()

	fetch := func(header, value string) string {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/messages", nil)
		req.Header.Set(header, value)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	assert.Equal(t, "messages of Bearer alice", fetch("Authorization", "Bearer alice"))
	assert.Equal(t, "messages of Bearer bob", fetch("Authorization", "Bearer bob"))
	assert.Equal(t, "messages of session=carol", fetch("Cookie", "session=carol"))
	assert.Equal(t, "messages of session=dave", fetch("Cookie", "session=dave"))
	assert.Equal(t, 0, rc.Len())
}

func TestCachedRoundTripper_SkipsPOST(t *testing.T) {
	rc := newTestCache(t, 100, nil)
	crt := NewCachedRoundTripper(rc, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("response"))
	}))
	defer server.Close()

	client := &http.Client{Transport: crt}

	req, _ := http.NewRequest("POST", server.URL+"/test", nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	if rc.Len() != 0 {
		t.Errorf("expected no cache for POST, got %d entries", rc.Len())
	}
}

func TestCacheKey(t *testing.T) {
	key1 := CacheKey("GET", "", "/api/users", "")
	key2 := CacheKey("GET", "", "/api/users", "")
	key3 := CacheKey("GET", "", "/api/products", "")
	key4 := CacheKey("GET", "u1", "/api/users", "")

	if key1 != key2 {
		t.Error("same requests should have same cache key")
	}
	if key1 == key3 || key1 == key4 {
		t.Error("different requests should have different cache keys")
	}
}

func TestCacheableResponse(t *testing.T) {
	tests := []struct {
		status int
		header http.Header
		want   bool
	}{
		{200, http.Header{}, true},
		{404, http.Header{}, true},
		{500, http.Header{}, false},
		{200, http.Header{"Cache-Control": {"no-cache"}}, false},
		{200, http.Header{"Cache-Control": {"no-store"}}, false},
		{200, http.Header{"Cache-Control": {"private, max-age=60"}}, false},
	}

	for _, tt := range tests {
		got := CacheableResponse(tt.status, tt.header)
		if got != tt.want {
			t.Errorf("CacheableResponse(%d, %v) = %v, want %v", tt.status, tt.header, got, tt.want)
		}
	}
}

func TestExtractCacheTTL(t *testing.T) {
	tests := []struct {
		header http.Header
		want   time.Duration
	}{
		{http.Header{"Cache-Control": {"max-age=300"}}, 300 * time.Second},
		{http.Header{"Cache-Control": {"public, max-age=30"}}, 30 * time.Second},
		{http.Header{"Cache-Control": {"max-age=abc"}}, 5 * time.Second},
		{http.Header{}, 5 * time.Second},
	}

	for i, tt := range tests {
		if got := ExtractCacheTTL(tt.header, 5*time.Second); got != tt.want {
			t.Errorf("test %d: ExtractCacheTTL got %v, want %v", i, got, tt.want)
		}
	}
}
