package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/crypto"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var fixedNow = time.Unix(1_700_000_000, 0)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoCaller writes the authenticated caller and the body it received.
func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		caller, ok := CallerFrom(r.Context())
		if ok {
			w.Header().Set("X-Caller", caller.Hex())
		}
		_, _ = w.Write(body)
	})
}

func signedRequest(t *testing.T, s *crypto.Signer, at time.Time, method, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	headers, err := s.Headers(at, method, path, body)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func newAuth() http.Handler {
	return Auth(AuthConfig{
		Enabled: true,
		MaxSkew: time.Minute,
		Replay:  memory.NewReplayGuard(time.Minute),
		Now:     func() time.Time { return fixedNow },
		Logger:  quietLogger(),
	})(echoCaller())
}

func TestAuthAcceptsSignedRequestOnce(t *testing.T) {
	s, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	h := newAuth()
	body := []byte(`{"price":"100"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, s, fixedNow, http.MethodPost, "/api/listings/0x01/1", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, s.Address().Hex(), rec.Header().Get("X-Caller"))
	assert.Equal(t, string(body), rec.Body.String(), "body restored for the handler")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, s, fixedNow, http.MethodPost, "/api/listings/0x01/1", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "already processed")
}

func TestAuthRejects(t *testing.T) {
	s, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	other, err := crypto.NewSigner("8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f")
	require.NoError(t, err)

	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{"missing address", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/x", nil)
		}},
		{"stale timestamp", func() *http.Request {
			return signedRequest(t, s, fixedNow.Add(-2*time.Minute), http.MethodPost, "/api/x", nil)
		}},
		{"future timestamp", func() *http.Request {
			return signedRequest(t, s, fixedNow.Add(2*time.Minute), http.MethodPost, "/api/x", nil)
		}},
		{"body swapped", func() *http.Request {
			req := signedRequest(t, s, fixedNow, http.MethodPost, "/api/x", []byte(`{"a":1}`))
			req.Body = io.NopCloser(bytes.NewReader([]byte(`{"a":2}`)))
			return req
		}},
		{"path swapped", func() *http.Request {
			req := signedRequest(t, s, fixedNow, http.MethodPost, "/api/x", nil)
			req.URL.Path = "/api/y"
			return req
		}},
		{"address of someone else", func() *http.Request {
			req := signedRequest(t, other, fixedNow, http.MethodPost, "/api/x", nil)
			req.Header.Set(crypto.HeaderAddress, s.Address().Hex())
			return req
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newAuth().ServeHTTP(rec, tt.req())
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, rec.Header().Get("X-Caller"))
		})
	}
}

func TestAuthPassesSafeMethods(t *testing.T) {
	rec := httptest.NewRecorder()
	newAuth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Caller"))
}

func TestAuthDisabledTrustsHeader(t *testing.T) {
	h := Auth(AuthConfig{Enabled: false})(echoCaller())
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	req := httptest.NewRequest(http.MethodPost, "/api/x", nil)
	req.Header.Set(crypto.HeaderAddress, addr.Hex())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, addr.Hex(), rec.Header().Get("X-Caller"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(memory.NewRateLimiter(), 2, time.Minute, quietLogger())(echoCaller())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "198.51.100.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "other clients unaffected")
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(echoCaller())

	req := httptest.NewRequest(http.MethodOptions, "/api/listings/0x01/1", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), crypto.HeaderSignature)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingSetsRequestID(t *testing.T) {
	h := Logging(quietLogger())(echoCaller())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}
