package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expectedIP string
	}{
		{
			name:       "direct public peer",
			remoteAddr: "203.0.113.5:443",
			expectedIP: "203.0.113.5",
		},
		{
			name:       "public peer cannot spoof forwarded header",
			remoteAddr: "203.0.113.5:443",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7"},
			expectedIP: "203.0.113.5",
		},
		{
			name:       "proxy on loopback forwards first hop",
			remoteAddr: "127.0.0.1:51000",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.2"},
			expectedIP: "198.51.100.7",
		},
		{
			name:       "private proxy with X-Real-IP",
			remoteAddr: "10.1.2.3:8080",
			headers:    map[string]string{"X-Real-IP": "198.51.100.9"},
			expectedIP: "198.51.100.9",
		},
		{
			name:       "garbage forwarded value ignored",
			remoteAddr: "192.168.1.10:8080",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			expectedIP: "192.168.1.10",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			expectedIP: "2001:db8::1",
		},
		{
			name:       "ipv6 loopback proxy",
			remoteAddr: "[::1]:443",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::42"},
			expectedIP: "2001:db8::42",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.8",
			expectedIP: "203.0.113.8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expectedIP, GetClientIP(r))
		})
	}
}
