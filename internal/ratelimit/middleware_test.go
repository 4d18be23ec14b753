package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "1.1.1.1"},
		{"forwarded first entry", map[string]string{"X-Forwarded-For": " 2.2.2.2 , 3.3.3.3"}, "2.2.2.2"},
		{"forwarded single", map[string]string{"X-Forwarded-For": "4.4.4.4"}, "4.4.4.4"},
		{"empty forwarded", map[string]string{"X-Forwarded-For": " ,5.5.5.5"}, "unknown"},
		{"none", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/deals/today", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_RejectsOverLimit(t *testing.T) {
	clock := newFakeClock()
	h := Middleware(newTestLimiter(clock, Config{Window: time.Minute, Max: 2}))(okHandler())

	do := func(path, ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("CF-Connecting-IP", ip)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, do("/api/deals/today", "9.9.9.9").Code)
	assert.Equal(t, http.StatusOK, do("/api/deals/today", "9.9.9.9").Code)

	w := do("/api/deals/today", "9.9.9.9")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "429: Too Many Requests")

	assert.Equal(t, http.StatusOK, do("/api/deals/search", "9.9.9.9").Code, "limits are per route")
	assert.Equal(t, http.StatusOK, do("/api/deals/today", "8.8.8.8").Code, "limits are per client")

	clock.Advance(time.Minute)
	assert.Equal(t, http.StatusOK, do("/api/deals/today", "9.9.9.9").Code)
}

func TestMiddleware_FailsOpen(t *testing.T) {
	h := Middleware(New(failingStore{}, Config{Window: time.Minute, Max: 1}))(okHandler())
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ingest", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
