package api

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPResolverResolve(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		forwarded  []string
		realIP     string
		want       string
	}{
		{
			name:       "direct peer ignores headers",
			remoteAddr: "203.0.113.7:43210",
			forwarded:  []string{"198.51.100.5"},
			realIP:     "198.51.100.6",
			want:       "203.0.113.7",
		},
		{
			name:       "untrusted peer in a trusted network list",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "203.0.113.7:43210",
			forwarded:  []string{"198.51.100.5"},
			want:       "203.0.113.7",
		},
		{
			name:       "trusted proxy",
			trusted:    []string{"172.30.0.10"},
			remoteAddr: "172.30.0.10:12345",
			forwarded:  []string{"198.51.100.8"},
			want:       "198.51.100.8",
		},
		{
			name:       "spoofed leftmost entry is skipped",
			trusted:    []string{"172.30.0.10/32"},
			remoteAddr: "172.30.0.10:12345",
			forwarded:  []string{"1.2.3.4, 198.51.100.8"},
			want:       "198.51.100.8",
		},
		{
			name:       "chain of trusted proxies",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.0.0.2:12345",
			forwarded:  []string{"198.51.100.9, 10.0.0.5", "10.0.0.3"},
			want:       "198.51.100.9",
		},
		{
			name:       "malformed forwarded falls back to real ip",
			trusted:    []string{"172.30.0.10/32"},
			remoteAddr: "172.30.0.10:12345",
			forwarded:  []string{"not-an-ip"},
			realIP:     "198.51.100.10",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "unparseable peer",
			remoteAddr: "garbage",
			want:       "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, err := NewClientIPResolver(tt.trusted)
			if err != nil {
				t.Fatalf("NewClientIPResolver() error = %v", err)
			}

			req := httptest.NewRequest("GET", "http://localhost/api/identity/me", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, v := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			if got := resolver.Resolve(req); got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewClientIPResolverRejectsBadCIDR(t *testing.T) {
	if _, err := NewClientIPResolver([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("NewClientIPResolver() error = nil, want error")
	}
}
