package proxy

import (
	"net"
	"net/http"
	"strings"
)

// Hop-by-hop headers apply to a single transport link and must not cross
// the proxy in either direction.
var hopByHopHeaders = map[string]struct{}{
	"host":                {},
	"connection":          {},
	"transfer-encoding":   {},
	"te":                  {},
	"upgrade":             {},
	"proxy-authorization": {},
	"proxy-authenticate":  {},
	"keep-alive":          {},
	"trailer":             {},
}

func isHopByHop(name string) bool {
	_, ok := hopByHopHeaders[strings.ToLower(name)]
	return ok
}

// CopyRequestHeaders copies inbound headers onto the outbound request,
// dropping hop-by-hop headers.
func CopyRequestHeaders(dst, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

// CopyResponseHeaders copies downstream response headers to the client,
// dropping hop-by-hop headers and HTTP/2 pseudo-headers. Pseudo-headers
// (":status" etc.) are framing metadata and must never reach an HTTP/1.1
// client.
func CopyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if strings.HasPrefix(name, ":") || isHopByHop(name) {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

// ClientIP extracts the originating client address. Behind a load balancer
// the real client is the first entry of X-Forwarded-For; otherwise the
// transport peer address is used.
func ClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		first := strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
