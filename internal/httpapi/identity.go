package httpapi

import (
	"net"
	"net/http"
	"strings"
)

// clientIP extracts the caller's address, trusting the leftmost entry
// of X-Forwarded-For when present since the widget always sits behind
// the site's reverse proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// gateIdentity keys the admission pipeline. Combining IP and session ID
// means a visitor cannot escape a ban by minting a fresh session, and
// two visitors behind one NAT do not share strike history.
func gateIdentity(r *http.Request, sessionID string) string {
	return clientIP(r) + "|" + sessionID
}
