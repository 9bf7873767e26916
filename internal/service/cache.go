package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CacheCollection is the collection name cache operations are reported under.
const CacheCollection = "response_cache"

// CacheReporter receives the cache hit ratio and one call per cache operation.
type CacheReporter interface {
	ReportCacheRatio(ratio float64) error
	ReportStorageOperation(kind, collection string)
}

// CacheEntry holds cached HTTP response data
type CacheEntry struct {
	Status    int
	Headers   http.Header
	Body      []byte
	ExpiresAt time.Time
	HitCount  int64
	CreatedAt time.Time
}

// ResponseCache caches downstream GET responses in memory. Every lookup updates the
// hit ratio reported to the CacheReporter.
type ResponseCache struct {
	mu       sync.RWMutex
	cache    map[string]*CacheEntry
	maxSize  int
	maxEntry int64
	now      func() time.Time

	hits     atomic.Uint64
	misses   atomic.Uint64
	reporter CacheReporter
}

// NewResponseCache creates a new response cache. Expired entries are swept until ctx
// is done. reporter may be nil.
func NewResponseCache(ctx context.Context, maxSize int, maxEntrySize int64, reporter CacheReporter) *ResponseCache {
	rc := &ResponseCache{
		cache:    make(map[string]*CacheEntry),
		maxSize:  maxSize,
		maxEntry: maxEntrySize,
		now:      time.Now,
		reporter: reporter,
	}

	go rc.cleanupExpired(ctx, 30*time.Second)

	return rc
}

// Get retrieves a cached response if it exists and isn't expired
func (rc *ResponseCache) Get(key string) (*CacheEntry, bool) {
	rc.report("read")

	rc.mu.Lock()
	entry, exists := rc.cache[key]
	if exists && rc.now().After(entry.ExpiresAt) {
		delete(rc.cache, key)
		exists = false
	}
	if exists {
		entry.HitCount++
	}
	rc.mu.Unlock()

	if exists {
		rc.hits.Add(1)
	} else {
		rc.misses.Add(1)
	}
	rc.reportRatio()
	if !exists {
		return nil, false
	}
	return entry, true
}

// Set stores a response in the cache. Entries larger than the entry limit are ignored.
func (rc *ResponseCache) Set(key string, entry *CacheEntry) {
	if int64(len(entry.Body)) > rc.maxEntry {
		return
	}

	rc.mu.Lock()
	if _, replacing := rc.cache[key]; !replacing && len(rc.cache) >= rc.maxSize {
		rc.evictLeastHit()
	}
	rc.cache[key] = entry
	rc.mu.Unlock()

	rc.report("write")
}

// Delete removes a cache entry
func (rc *ResponseCache) Delete(key string) {
	rc.mu.Lock()
	delete(rc.cache, key)
	rc.mu.Unlock()

	rc.report("delete")
}

// Clear removes all cache entries
func (rc *ResponseCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cache = make(map[string]*CacheEntry)
}

// HitRatio returns hits over lookups, or 0 before the first lookup.
func (rc *ResponseCache) HitRatio() float64 {
	hits := rc.hits.Load()
	total := hits + rc.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Len returns current cache size (number of entries)
func (rc *ResponseCache) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.cache)
}

// evictLeastHit evicts the entry with the fewest hits. Callers hold mu.
func (rc *ResponseCache) evictLeastHit() {
	var victim string
	var minHits int64 = int64(^uint64(0) >> 1)

	for key, entry := range rc.cache {
		if entry.HitCount < minHits {
			minHits = entry.HitCount
			victim = key
		}
	}

	if victim != "" {
		delete(rc.cache, victim)
	}
}

func (rc *ResponseCache) cleanupExpired(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := rc.now()
			rc.mu.Lock()
			for key, entry := range rc.cache {
				if now.After(entry.ExpiresAt) {
					delete(rc.cache, key)
				}
			}
			rc.mu.Unlock()
		}
	}
}

func (rc *ResponseCache) report(kind string) {
	if rc.reporter != nil {
		rc.reporter.ReportStorageOperation(kind, CacheCollection)
	}
}

func (rc *ResponseCache) reportRatio() {
	if rc.reporter != nil {
		// the ratio is in [0,1] by construction
		_ = rc.reporter.ReportCacheRatio(rc.HitRatio())
	}
}

// CacheKey identifies a cached response. The user is part of the key so one caller
// never sees another caller's response.
func CacheKey(method, user, path, query string) string {
	return strings.Join([]string{method, user, path, query}, "\x00")
}

// CacheableResponse checks if a response should be cached
func CacheableResponse(status int, headers http.Header) bool {
	for _, directive := range strings.Split(headers.Get("Cache-Control"), ",") {
		switch strings.TrimSpace(directive) {
		case "no-cache", "no-store", "private":
			return false
		}
	}
	return status == http.StatusOK || status == http.StatusNotFound
}

// ExtractCacheTTL returns the max-age of the response, or def when it has none.
func ExtractCacheTTL(headers http.Header, def time.Duration) time.Duration {
	for _, directive := range strings.Split(headers.Get("Cache-Control"), ",") {
		v, ok := strings.CutPrefix(strings.TrimSpace(directive), "max-age=")
		if !ok {
			continue
		}
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

func carriesCredentials(req *http.Request) bool {
	return req.Header.Get("Authorization") != "" || req.Header.Get("Cookie") != ""
}

// CachedRoundTripper wraps http.RoundTripper with caching. GET responses are cached
// per X-User-ID; anonymous requests carrying Authorization or Cookie bypass the cache.
type CachedRoundTripper struct {
	transport  http.RoundTripper
	cache      *ResponseCache
	defaultTTL time.Duration
}

// NewCachedRoundTripper creates a new cached round tripper in front of transport.
func NewCachedRoundTripper(cache *ResponseCache, transport http.RoundTripper) *CachedRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CachedRoundTripper{
		transport:  transport,
		cache:      cache,
		defaultTTL: 5 * time.Second,
	}
}

// RoundTrip implements http.RoundTripper
func (crt *CachedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	user := req.Header.Get("X-User-ID")
	// credentials the gateway did not resolve to a user would share the anonymous key
	if req.Method != http.MethodGet || (user == "" && carriesCredentials(req)) {
		return crt.transport.RoundTrip(req)
	}

	cacheKey := CacheKey(req.Method, user, req.URL.Path, req.URL.RawQuery)
	if cached, exists := crt.cache.Get(cacheKey); exists {
		header := cached.Headers.Clone()
		header.Set("X-Cache", "HIT")
		return &http.Response{
			Status:        fmt.Sprintf("%d %s", cached.Status, http.StatusText(cached.Status)),
			StatusCode:    cached.Status,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        header,
			Body:          io.NopCloser(bytes.NewReader(cached.Body)),
			ContentLength: int64(len(cached.Body)),
			Request:       req,
		}, nil
	}

	resp, err := crt.transport.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	// streams are never buffered
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") ||
		resp.StatusCode == http.StatusSwitchingProtocols {
		return resp, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if CacheableResponse(resp.StatusCode, resp.Header) {
		now := crt.cache.now()
		crt.cache.Set(cacheKey, &CacheEntry{
			Status:    resp.StatusCode,
			Headers:   resp.Header.Clone(),
			Body:      body,
			ExpiresAt: now.Add(ExtractCacheTTL(resp.Header, crt.defaultTTL)),
			CreatedAt: now,
		})
		resp.Header.Set("X-Cache", "MISS")
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
