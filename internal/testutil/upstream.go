// Package testutil holds small helpers shared by package tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// StartUpstream runs a downstream service stub and returns its base URL,
// suitable for a route's target. A nil handler answers 200 to everything.
func StartUpstream(t *testing.T, handler http.Handler) (string, func()) {
	t.Helper()
	if handler == nil {
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}

	server := httptest.NewServer(handler)
	return server.URL, server.Close
}
