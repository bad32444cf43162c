// Package clientip extracts the real client IP address from HTTP requests.
//
// The address is the primary rate-limiting identity and is recorded on every
// security log entry. Forwarding headers are client controlled unless a proxy
// in front of the service overwrites them, so a Resolver reads them only when
// the peer address (RemoteAddr) falls inside one of its trusted proxy
// prefixes. For trusted peers the headers are checked in a fixed priority
// order:
//  1. CF-Connecting-IP (Cloudflare)
//  2. DO-Connecting-IP (DigitalOcean)
//  3. X-Forwarded-For (nearest hop that is not itself a trusted proxy)
//  4. X-Real-IP
//  5. RemoteAddr
//
// Every candidate is parsed and normalized with net/netip; invalid values and the
// unspecified addresses 0.0.0.0 and :: are skipped. If nothing valid is found the
// raw RemoteAddr is returned. The package-level GetIP trusts no proxy.
//
//	resolver, err := clientip.New("10.0.0.0/8", "2001:db8::/32")
//	if err != nil {
//		return err
//	}
//	ip := resolver.GetIP(r)
//	res, err := limiter.Allow(ctx, ip, "login", ratelimiter.Limit{MaxRequests: 5, Window: 5 * time.Minute})
package clientip
