package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedHandler(store *visitorStore) http.Handler {
	return Identify()(rateLimit(store, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
}

func checkout(h http.Handler, header, value string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/checkout", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimit_PerShopper(t *testing.T) {
	h := limitedHandler(newVisitorStore(0.001, 2, time.Minute))

	assert.Equal(t, http.StatusOK, checkout(h, UserIDHeader, "u-1"))
	assert.Equal(t, http.StatusOK, checkout(h, UserIDHeader, "u-1"))
	assert.Equal(t, http.StatusTooManyRequests, checkout(h, UserIDHeader, "u-1"))

	// Other shoppers have their own bucket.
	assert.Equal(t, http.StatusOK, checkout(h, UserIDHeader, "u-2"))
	assert.Equal(t, http.StatusOK, checkout(h, SessionTokenHeader, "u-1"))
}

func TestRateLimit_RejectionBody(t *testing.T) {
	h := limitedHandler(newVisitorStore(0.001, 1, time.Minute))
	require.Equal(t, http.StatusOK, checkout(h, SessionTokenHeader, "s-1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/checkout", nil)
	req.Header.Set(SessionTokenHeader, "s-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestVisitorStore_SweepsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newVisitorStore(1, 1, time.Minute)
	s.nowFunc = func() time.Time { return now }

	s.allow("user:a")
	s.allow("user:b")
	require.Equal(t, 2, s.len())

	now = now.Add(2 * time.Minute)
	s.allow("user:c")
	assert.Equal(t, 1, s.len())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"forwarded chain", "X-Forwarded-For", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"real ip", "X-Real-IP", "198.51.100.4", "198.51.100.4"},
		{"remote addr", "", "", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
