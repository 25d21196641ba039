package route

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Route maps an incoming path prefix to a downstream base URL, with an
// optional token-bucket rate limit. Capacity and RefillRatePerSecond are
// either both nil (rate limiting disabled for the route) or both set.
type Route struct {
	ID                  int64     `json:"id"`
	Path                string    `json:"path"`
	TargetURL           string    `json:"targetUrl"`
	Capacity            *int      `json:"capacity"`
	RefillRatePerSecond *int      `json:"refillRatePerSecond"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// RateLimited reports whether the route carries a token-bucket config.
func (r Route) RateLimited() bool {
	return r.Capacity != nil && r.RefillRatePerSecond != nil
}

var (
	ErrDuplicatePath = errors.New("a route with that path already exists")
	ErrNotFound      = errors.New("route not found")
)

// Validate checks the fields a caller may set. ID and timestamps are
// store-managed and ignored here.
func Validate(r Route) error {
	if r.Path == "" {
		return errors.New("path is required")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path %q must start with /", r.Path)
	}
	if r.TargetURL == "" {
		return errors.New("targetUrl is required")
	}
	parsed, err := url.Parse(r.TargetURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("targetUrl %q must be an absolute URL", r.TargetURL)
	}
	if (r.Capacity == nil) != (r.RefillRatePerSecond == nil) {
		return errors.New("capacity and refillRatePerSecond must be set together")
	}
	if r.Capacity != nil && *r.Capacity <= 0 {
		return errors.New("capacity must be positive")
	}
	if r.RefillRatePerSecond != nil && *r.RefillRatePerSecond <= 0 {
		return errors.New("refillRatePerSecond must be positive")
	}
	return nil
}
