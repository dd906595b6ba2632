package middleware

import (
	"net"
	"net/http"
	"strings"
)

type TrustedProxyList struct {
	trustedIPs []*net.IPNet
}

func NewTrustedProxyList(cidrs []string) (*TrustedProxyList, error) {
	trustedIPs := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		trustedIPs = append(trustedIPs, ipNet)
	}
	return &TrustedProxyList{trustedIPs: trustedIPs}, nil
}

func (t *TrustedProxyList) IsTrustedProxy(remoteAddr string) bool {
	if t == nil || len(t.trustedIPs) == 0 {
		return false
	}

	ip := net.ParseIP(hostOf(remoteAddr))
	if ip == nil {
		return false
	}

	for _, trustedNet := range t.trustedIPs {
		if trustedNet.Contains(ip) {
			return true
		}
	}

	return false
}

// ClientIP returns the address rate limits are keyed on. Forwarding headers
// are honoured only when the direct peer is a trusted proxy.
func (t *TrustedProxyList) ClientIP(r *http.Request) string {
	host := hostOf(r.RemoteAddr)
	if !t.IsTrustedProxy(host) {
		return host
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xrip) != nil {
		return xrip
	}
	return host
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
