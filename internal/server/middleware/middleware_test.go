package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "super-secret-jwt-token-with-at-least-32-characters"

func sign(t *testing.T, key string, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, UserID(r.Context()))
	})
}

func TestAuth(t *testing.T) {
	valid := sign(t, secret, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	expired := sign(t, secret, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongKey := sign(t, "another-secret", jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noExpiry := sign(t, secret, jwt.RegisteredClaims{Subject: "user-1"})

	h := Auth(NewVerifier(secret))(echoUser())
	for _, tc := range []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer " + valid, "user-1"},
		{"lowercase scheme", "bearer " + valid, "user-1"},
		{"expired", "Bearer " + expired, ""},
		{"wrong key", "Bearer " + wrongKey, ""},
		{"no expiry", "Bearer " + noExpiry, ""},
		{"missing", "", ""},
		{"basic", "Basic dXNlcjpwYXNz", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.want, rec.Body.String())
		})
	}

	assert.Nil(t, NewVerifier(""))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.seer.pm"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/.netlify/functions/collections-handler", nil)
	req.Header.Set("Origin", "https://app.seer.pm")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.seer.pm", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	t.Run("rejects over limit", func(t *testing.T) {
		lim := &stubLimiter{allow: false}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:4000"
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		RateLimit(lim, 10, time.Second, proxies, logger)(ok).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, []string{"api:203.0.113.7"}, lim.keys)
	})

	t.Run("fails open", func(t *testing.T) {
		lim := &stubLimiter{err: errors.New("redis down")}
		rec := httptest.NewRecorder()
		RateLimit(lim, 10, time.Second, nil, logger)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("spoofed forwarding headers share the peer bucket", func(t *testing.T) {
		lim := &stubLimiter{allow: true}
		for _, spoof := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.50:5555"
			req.Header.Set("X-Forwarded-For", spoof)
			req.Header.Set("X-Real-IP", spoof)
			RateLimit(lim, 10, time.Second, proxies, logger)(ok).ServeHTTP(httptest.NewRecorder(), req)
		}
		assert.Equal(t, []string{"api:192.0.2.50", "api:192.0.2.50", "api:192.0.2.50"}, lim.keys)
	})
}

func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1", " "})
	require.NoError(t, err)

	tests := []struct {
		name      string
		remote    string
		xff       string
		xri       string
		want      string
		noProxies bool
	}{
		{"untrusted peer ignores headers", "198.51.100.9:80", "203.0.113.7", "203.0.113.8", "198.51.100.9", false},
		{"trusted peer uses right-most untrusted hop", "10.1.2.3:80", "1.1.1.1, 203.0.113.7, 10.0.0.5", "", "203.0.113.7", false},
		{"single trusted ip", "192.0.2.1:80", "203.0.113.7", "", "203.0.113.7", false},
		{"all hops trusted falls back to real ip", "10.1.2.3:80", "10.0.0.4", "203.0.113.9", "203.0.113.9", false},
		{"trusted peer without headers", "10.1.2.3:80", "", "", "10.1.2.3", false},
		{"remote without port", "198.51.100.9", "203.0.113.7", "", "198.51.100.9", false},
		{"no proxies configured", "[2001:db8::1]:443", "203.0.113.7", "", "2001:db8::1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			list := proxies
			if tt.noProxies {
				list = nil
			}
			assert.Equal(t, tt.want, clientIP(req, list))
		})
	}

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}
