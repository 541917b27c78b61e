package server

import (
	"net"
	"net/http"
	"strings"
)

// clientID identifies the caller for admission. With trust_proxy the first
// X-Forwarded-For hop wins; otherwise the host part of RemoteAddr.
func (s *Server) clientID(r *http.Request) string {
	if s.cfg.Server.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
