package server

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/p2p/netutil"
	"golang.org/x/time/rate"
)

// ipRateLimiter hands out one token bucket per client. Buckets of clients
// that have not been seen for a while are evicted.
type ipRateLimiter struct {
	ips *lru.Cache[string, *rate.Limiter]
	r   rate.Limit // requests per second
	b   int        // burst allowed before limiting kicks in
}

func newIPRateLimiter(r rate.Limit, b int, size int) *ipRateLimiter {
	return &ipRateLimiter{
		ips: lru.NewCache[string, *rate.Limiter](size),
		r:   r,
		b:   b,
	}
}

func (i *ipRateLimiter) limiter(ip string) *rate.Limiter {
	if limiter, ok := i.ips.Get(ip); ok {
		return limiter
	}
	limiter := rate.NewLimiter(i.r, i.b)
	i.ips.Add(ip, limiter)
	return limiter
}

func (i *ipRateLimiter) allow(ip string) bool {
	return i.limiter(ip).Allow()
}

// clientIP identifies the caller by the connection's address. A trusted
// proxy's X-Forwarded-For is walked from the right, skipping further trusted
// hops, so only the address the proxies themselves saw is believed. Requests
// over the unix socket have no remote address and share one bucket.
func clientIP(r *http.Request, trusted *netutil.Netlist) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" || r.RemoteAddr == "@" {
			return "unix"
		}
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !trusted.ContainsAddr(peer.Unmap()) {
		return host
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			// Garbage in the chain: stop at the last address we can vouch for.
			return host
		}
		if !trusted.ContainsAddr(addr.Unmap()) {
			return addr.Unmap().String()
		}
		host = addr.Unmap().String()
	}
	return host
}
