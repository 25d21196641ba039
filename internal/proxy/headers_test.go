package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCopyRequestHeadersDropsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Set("Authorization", "Bearer token")
	src.Set("Connection", "keep-alive")
	src.Set("Keep-Alive", "timeout=5")
	src.Set("Proxy-Authorization", "Basic abc")
	src.Add("Accept", "application/json")

	dst := http.Header{}
	CopyRequestHeaders(dst, src)

	if dst.Get("Authorization") != "Bearer token" {
		t.Fatalf("end-to-end header lost: %v", dst)
	}
	if dst.Get("Accept") != "application/json" {
		t.Fatalf("end-to-end header lost: %v", dst)
	}
	for _, name := range []string{"Connection", "Keep-Alive", "Proxy-Authorization"} {
		if dst.Get(name) != "" {
			t.Fatalf("hop-by-hop header %s crossed the proxy", name)
		}
	}
}

func TestCopyResponseHeadersDropsPseudoHeaders(t *testing.T) {
	src := http.Header{}
	src.Set("Content-Type", "application/json")
	src.Set("Transfer-Encoding", "chunked")
	src[":status"] = []string{"200"}

	dst := http.Header{}
	CopyResponseHeaders(dst, src)

	if dst.Get("Content-Type") != "application/json" {
		t.Fatalf("response header lost: %v", dst)
	}
	if dst.Get("Transfer-Encoding") != "" {
		t.Fatalf("hop-by-hop response header crossed the proxy")
	}
	if _, ok := dst[":status"]; ok {
		t.Fatalf("pseudo-header crossed the proxy")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.RemoteAddr = "10.0.0.9:1234"
	r.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.9")

	if got := ClientIP(r); got != "203.0.113.7" {
		t.Fatalf("ClientIP = %q, want first forwarded entry", got)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.RemoteAddr = "10.0.0.9:1234"

	if got := ClientIP(r); got != "10.0.0.9" {
		t.Fatalf("ClientIP = %q, want peer host", got)
	}
}
