package requestutil

import (
	"net"
	"net/http"
	"strings"
)

// RemoteAddr returns the client address of r. The first X-Forwarded-For hop
// wins, then X-Real-Ip, then the connection address. Header values that are
// not IP addresses are ignored.
func RemoteAddr(r *http.Request) string {
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		first, _, _ := strings.Cut(prior, ",")
		first = strings.TrimSpace(first)
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" && net.ParseIP(realIP) != nil {
		return realIP
	}
	return r.RemoteAddr
}

// RemoteIP is RemoteAddr without the port.
func RemoteIP(r *http.Request) string {
	addr := RemoteAddr(r)
	if ip, _, err := net.SplitHostPort(addr); err == nil {
		return ip
	}
	return addr
}
