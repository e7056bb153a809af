package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver picks the address used for per-client rate limits.
// Forwarding headers count only when the direct peer is a trusted proxy, and
// X-Forwarded-For is read from the right: the first hop that is not itself a
// trusted proxy is the client. Entries further left are caller-supplied.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver accepts CIDRs and bare addresses.
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	r := &ClientIPResolver{}

	for _, raw := range trustedProxies {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if addr, err := netip.ParseAddr(value); err == nil {
			addr = addr.Unmap()
			r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", value, err)
		}
		r.trusted = append(r.trusted, prefix.Masked())
	}

	return r, nil
}

func (r *ClientIPResolver) Resolve(req *http.Request) string {
	peer, ok := hostAddr(req.RemoteAddr)
	if !ok {
		return "unknown"
	}
	if !r.isTrusted(peer) {
		return peer.String()
	}

	if hops := req.Header.Values("X-Forwarded-For"); len(hops) > 0 {
		if client, ok := r.firstUntrustedHop(hops); ok {
			return client.String()
		}
	}
	if realIP, ok := hostAddr(req.Header.Get("X-Real-IP")); ok {
		return realIP.String()
	}
	return peer.String()
}

// firstUntrustedHop walks X-Forwarded-For right to left. Header lines are
// joined in order, as if they were one comma-separated list.
func (r *ClientIPResolver) firstUntrustedHop(lines []string) (netip.Addr, bool) {
	var hops []string
	for _, line := range lines {
		hops = append(hops, strings.Split(line, ",")...)
	}

	var last netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		addr, ok := hostAddr(hops[i])
		if !ok {
			// A malformed hop ends the trustworthy part of the chain.
			break
		}
		last = addr
		if !r.isTrusted(addr) {
			return addr, true
		}
	}
	// Every hop was a trusted proxy; the leftmost one is the best we have.
	return last, last.IsValid()
}

func (r *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// hostAddr parses "ip", "ip:port", "[v6]:port" or a quoted form of those.
func hostAddr(value string) (netip.Addr, bool) {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return netip.Addr{}, false
	}

	if addr, err := netip.ParseAddr(value); err == nil {
		return addr.Unmap(), true
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
			return addr.Unmap(), true
		}
	}
	return netip.Addr{}, false
}
