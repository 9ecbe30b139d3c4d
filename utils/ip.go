package utils

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP prefers proxy headers over RemoteAddr.
func GetClientIP(r *http.Request) string {
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		if ip := net.ParseIP(cf); ip != nil {
			return ip.String()
		}
	}

	if real := r.Header.Get("X-Real-IP"); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip.String()
		}
	}

	// X-Forwarded-For: rightmost public address.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			ipStr := strings.TrimSpace(parts[i])
			if ip := net.ParseIP(ipStr); ip != nil {
				if !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsMulticast() {
					return ipStr
				}
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
