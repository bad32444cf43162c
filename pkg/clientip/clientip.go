package clientip

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

var forwardHeaders = []string{
	"CF-Connecting-IP",
	"DO-Connecting-IP",
}

// Resolver extracts client IPs, honouring forwarding headers only on requests
// whose peer is a trusted proxy. The zero value trusts nobody.
type Resolver struct {
	trusted []netip.Prefix
}

// New creates a Resolver trusting the given proxies. Each entry is a CIDR
// prefix or a single address.
func New(trustedProxies ...string) (*Resolver, error) {
	r := &Resolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := parsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, raw)
		}
		r.trusted = append(r.trusted, prefix)
	}
	return r, nil
}

// GetIP returns the client IP for r, ignoring every forwarding header.
func GetIP(r *http.Request) string {
	var res Resolver
	return res.GetIP(r)
}

// GetIP returns the client IP for r. Forwarding headers are read in the
// package priority order when the peer address is trusted; otherwise the
// peer address is the answer.
func (res *Resolver) GetIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, ok := normalize(host)
	if !ok {
		return r.RemoteAddr
	}
	if res == nil || !res.isTrusted(peer) {
		return peer
	}

	for _, h := range forwardHeaders {
		if ip, ok := normalize(r.Header.Get(h)); ok {
			return ip
		}
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip, ok := res.fromForwardedFor(xff); ok {
			return ip
		}
	}

	if ip, ok := normalize(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return peer
}

// fromForwardedFor walks the chain from the nearest hop and returns the first
// address that is not a trusted proxy. Entries left of it are client supplied.
func (res *Resolver) fromForwardedFor(xff string) (string, bool) {
	hops := strings.Split(xff, ",")
	var last string
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := normalize(hops[i])
		if !ok {
			break
		}
		last = ip
		if !res.isTrusted(ip) {
			return ip, true
		}
	}
	return last, last != ""
}

func (res *Resolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefix(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// normalize parses raw as an IP address and returns its canonical form.
func normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", false
	}
	if addr.IsUnspecified() {
		return "", false
	}
	return addr.Unmap().String(), true
}
