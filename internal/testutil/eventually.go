package testutil

import (
	"testing"
	"time"
)

// Eventually polls fn until it returns nil or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, interval time.Duration, fn func() error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		lastErr = fn()
		if lastErr == nil {
			return
		}
		time.Sleep(interval)
	}

	if lastErr != nil {
		t.Fatalf("condition not met: %v", lastErr)
	}
	t.Fatalf("condition not met before timeout")
}
