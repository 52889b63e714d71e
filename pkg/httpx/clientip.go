package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const CtxKeyClientIP ctxKey = "client_ip"

// TrustedProxies lists the networks whose forwarding headers are believed.
// The zero value trusts nobody, so the client IP is always the socket peer.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies accepts CIDRs and bare addresses.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

func (tp TrustedProxies) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range tp {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the address a request came from. Forwarding headers
// are only read when the socket peer is a trusted proxy, and then the
// right-most X-Forwarded-For hop that is not itself trusted wins.
func (tp TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !tp.contains(peerAddr) {
		return peer
	}

	if hops := forwardedHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(hops[i])
			if err != nil {
				// Garbage in the chain ends what can be believed.
				return peer
			}
			if !tp.contains(addr) {
				return addr.Unmap().String()
			}
		}
		// Every hop is a proxy: the left-most is the closest to the client.
		return hops[0]
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap().String()
		}
	}
	return peer
}

// Middleware stores the resolved client IP on the request context, where
// IPKeyExtractor and audit metadata pick it up.
func (tp TrustedProxies) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), CtxKeyClientIP, tp.ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the IP stored by TrustedProxies.Middleware, or "".
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeyClientIP).(string)
	return v
}

func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	return hops
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
