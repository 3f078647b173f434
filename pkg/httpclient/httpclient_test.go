package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	return cfg
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_PostWithoutKeyIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := New(testConfig()).Post(context.Background(), srv.URL, "application/json", strings.NewReader(`{}`), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_PostWithIdempotencyKeyIsRetried(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set(IdempotencyKeyHeader, "order-1")
	resp, err := New(testConfig()).Post(context.Background(), srv.URL, "application/json", strings.NewReader(`{"amount":"10.00"}`), header)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	for _, b := range bodies {
		assert.Equal(t, `{"amount":"10.00"}`, b)
	}
}

func TestClient_PutRetriedOnlyWithKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantCalls int32
		wantCode  int
	}{
		{name: "without key", wantCalls: 1, wantCode: http.StatusBadGateway},
		{name: "with key", key: "order-1:item-1", wantCalls: 2, wantCode: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tc.key, r.Header.Get(IdempotencyKeyHeader))
				if calls.Add(1) == 1 {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			req, err := http.NewRequest(http.MethodPut, srv.URL, strings.NewReader(`{"delta":-2}`))
			require.NoError(t, err)
			if tc.key != "" {
				req.Header.Set(IdempotencyKeyHeader, tc.key)
			}
			resp, err := New(testConfig()).Do(context.Background(), req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.wantCode, resp.StatusCode)
			assert.Equal(t, tc.wantCalls, calls.Load())
		})
	}
}

func TestClient_GetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := New(testConfig()).Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestParseResponseError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"decline", http.StatusUnprocessableEntity, `{"error":{"code":"card_declined","message":"declined"}}`, apperrors.ErrPaymentFailed},
		{"payment required", http.StatusPaymentRequired, `{"error":{"code":"x","message":"y"}}`, apperrors.ErrPaymentFailed},
		{"not found", http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"card"}}`, apperrors.ErrNotFound},
		{"conflict", http.StatusConflict, `{"error":{"code":"CONFLICT","message":"dup"}}`, apperrors.ErrConflict},
		{"unavailable", http.StatusServiceUnavailable, `{"error":{"code":"DOWN","message":"maintenance"}}`, apperrors.ErrServiceUnavail},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tc.status, Body: io.NopCloser(strings.NewReader(tc.body))}
			err := ParseResponseError(resp, "card-gateway")
			assert.ErrorIs(t, err, tc.sentinel)
		})
	}
}

func TestParseResponseError_Unstructured(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("upstream down"))}
	err := ParseResponseError(resp, "card-gateway")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestReadErrorBody_Info(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusUnprocessableEntity,
		Body:       io.NopCloser(strings.NewReader(`{"error":{"code":"card_declined","message":"Insufficient funds","info":{"decline_code":"nsf"}}}`)),
	}
	body, _, ok := ReadErrorBody(resp)
	require.True(t, ok)
	assert.Equal(t, "card_declined", body.Code)
	assert.JSONEq(t, `{"decline_code":"nsf"}`, string(body.Info))
}

type stubDoer struct {
	status int
	err    error
}

func (s stubDoer) Do(context.Context, *http.Request) (*http.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{StatusCode: s.status, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func TestCircuitBreaker_DeclinesDoNotTrip(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("test-declines")
	cfg.MinRequests = 2
	cb := NewCircuitBreakerClient(stubDoer{status: http.StatusUnprocessableEntity}, cfg, newTestLogger())

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodPost, "http://gateway/charges", nil)
		resp, err := cb.Do(context.Background(), req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_OpensOnServerErrors(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("test-5xx")
	cfg.MinRequests = 2
	cb := NewCircuitBreakerClient(stubDoer{err: errors.New("connection refused")}, cfg, newTestLogger())

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, "http://gateway/charges", nil)
		_, err := cb.Do(context.Background(), req)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	req, _ := http.NewRequest(http.MethodPost, "http://gateway/charges", nil)
	_, err := cb.Do(context.Background(), req)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
