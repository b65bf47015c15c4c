package services

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedHandler(l *IPRateLimiter) http.Handler {
	return l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRotatingForwardedForIsIgnoredFromUntrustedPeer(t *testing.T) {
	l := NewIPRateLimiter(1, 1, nil)
	h := limitedHandler(l)

	admitted := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/freekassa", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			admitted++
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Len(t, l.clients, 1)
}

func TestForwardedForFromTrustedProxy(t *testing.T) {
	l := NewIPRateLimiter(1, 1, nil)
	require.NoError(t, l.TrustProxies([]string{"10.0.0.0/8", " 192.168.1.1 "}))

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"untrusted peer", "203.0.113.7:1", "198.51.100.1", "203.0.113.7"},
		{"trusted proxy", "10.1.2.3:1", "198.51.100.1", "198.51.100.1"},
		{"spoofed left hop", "10.1.2.3:1", "1.1.1.1, 198.51.100.1", "198.51.100.1"},
		{"proxy chain", "192.168.1.1:1", "198.51.100.1, 10.0.0.5", "198.51.100.1"},
		{"no header", "10.1.2.3:1", "", "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, l.clientIP(req))
		})
	}
}

func TestTrustProxiesRejectsGarbage(t *testing.T) {
	l := NewIPRateLimiter(1, 1, nil)
	require.Error(t, l.TrustProxies([]string{"proxy.local"}))
	require.Error(t, l.TrustProxies([]string{"10.0.0.0/99"}))
}
