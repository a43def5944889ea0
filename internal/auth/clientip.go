package auth

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Proxy headers in the order they are trusted.
var clientIPHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Client-IP",
}

type IPResolver struct {
	// TrustRemoteAddr uses the socket peer when no proxy header is present.
	// Only for deployments without a proxy in front.
	TrustRemoteAddr bool
}

// ClientIP resolves the address sessions are bound to. Every caller that
// binds or checks a session must go through here so the result is the same
// whichever intermediary set which header.
func (res IPResolver) ClientIP(r *http.Request) string {
	for _, header := range clientIPHeaders {
		value := strings.TrimSpace(r.Header.Get(header))
		if value == "" {
			continue
		}
		if header == "X-Forwarded-For" {
			value = strings.TrimSpace(strings.Split(value, ",")[0])
		}
		if ip, ok := parseIP(value); ok {
			return ip
		}
	}

	if res.TrustRemoteAddr && r.RemoteAddr != "" {
		host := r.RemoteAddr
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if ip, ok := parseIP(host); ok {
			return ip
		}
	}

	return UnknownIP
}

func parseIP(value string) (string, bool) {
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
