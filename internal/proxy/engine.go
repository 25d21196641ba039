// Package proxy implements the request-handling data plane: match the
// inbound path against the route cache, enforce the rate limit, forward to
// the downstream service, relay the response, and emit exactly one access
// log event per request.
package proxy

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"api_gateway/internal/accesslog"
	"api_gateway/internal/obs"
	"api_gateway/internal/ratelimit"
	"api_gateway/internal/route"
)

// Matcher resolves an inbound request path to a route. Implemented by the
// route cache.
type Matcher interface {
	FindMatch(requestPath string) (route.Route, bool)
}

// Limiter decides whether a (client, route) pair is within its budget.
type Limiter interface {
	Check(ctx context.Context, clientIP string, rt route.Route) ratelimit.Result
}

// Publisher receives one access-log event per inbound request.
type Publisher interface {
	Publish(event accesslog.Event)
}

// OutcomeReporter observes dispatch outcomes per route path. Implemented by
// the circuit breaker registry; open-circuit policy itself lives outside
// the data plane.
type OutcomeReporter interface {
	Report(routePath string, success bool)
}

const (
	defaultDialTimeout           = time.Second
	defaultResponseHeaderTimeout = 5 * time.Second
)

// NewTransport builds the shared outbound transport. One transport (and so
// one connection pool) serves all requests; construct it once at startup.
func NewTransport(dialTimeout, responseHeaderTimeout time.Duration) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if responseHeaderTimeout <= 0 {
		responseHeaderTimeout = defaultResponseHeaderTimeout
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: responseHeaderTimeout,
		IdleConnTimeout:       30 * time.Second,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		ForceAttemptHTTP2:     true,
	}
}

// Engine processes one inbound request end to end. It is mounted as the
// catch-all handler, so explicit endpoints (admin, stream, metrics) always
// match first.
type Engine struct {
	matcher   Matcher
	limiter   Limiter
	publisher Publisher
	breaker   OutcomeReporter
	metrics   *obs.Metrics
	transport http.RoundTripper
}

type EngineConfig struct {
	Matcher   Matcher
	Limiter   Limiter
	Publisher Publisher
	Breaker   OutcomeReporter
	Metrics   *obs.Metrics
	Transport http.RoundTripper
}

func NewEngine(cfg EngineConfig) *Engine {
	transport := cfg.Transport
	if transport == nil {
		transport = NewTransport(0, 0)
	}
	return &Engine{
		matcher:   cfg.Matcher,
		limiter:   cfg.Limiter,
		publisher: cfg.Publisher,
		breaker:   cfg.Breaker,
		metrics:   cfg.Metrics,
		transport: transport,
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	method := strings.ToUpper(r.Method)
	path := r.URL.Path
	clientIP := ClientIP(r)

	rt, ok := e.matcher.FindMatch(path)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "No route found for path: "+path)
		e.emit(start, clientIP, method, path, nil, obs.UnmatchedRoute, http.StatusNotFound, false)
		return
	}

	result := e.limiter.Check(r.Context(), clientIP, rt)
	if !result.Allowed {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(*rt.Capacity))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("Retry-After", "1")
		WriteJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		if e.metrics != nil {
			e.metrics.RecordRateLimited(rt.Path)
		}
		e.emit(start, clientIP, method, path, &rt.TargetURL, rt.Path, http.StatusTooManyRequests, true)
		return
	}
	// Remaining is -1 when the limiter failed open; no headers then, the
	// reported value would be a lie.
	if rt.RateLimited() && result.Remaining >= 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(*rt.Capacity))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	}

	target := rt.TargetURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	body := io.Reader(r.Body)
	if r.ContentLength == 0 {
		body = http.NoBody
	}
	outbound, err := http.NewRequestWithContext(r.Context(), method, target, body)
	if err != nil {
		log.Printf("ERROR proxy build request %s %s -> %s: %v", method, path, target, err)
		WriteJSONError(w, http.StatusBadGateway, "Bad gateway: "+err.Error())
		e.report(rt.Path, false)
		e.emit(start, clientIP, method, path, &rt.TargetURL, rt.Path, http.StatusBadGateway, false)
		return
	}
	outbound.ContentLength = r.ContentLength
	CopyRequestHeaders(outbound.Header, r.Header)

	resp, err := e.transport.RoundTrip(outbound)
	if err != nil {
		e.report(rt.Path, false)
		if interrupted(r.Context(), err) {
			WriteJSONError(w, http.StatusInternalServerError, "Proxy request interrupted")
			e.emit(start, clientIP, method, path, &rt.TargetURL, rt.Path, http.StatusInternalServerError, false)
			return
		}
		log.Printf("ERROR proxy dispatch %s %s -> %s: %v", method, path, target, err)
		WriteJSONError(w, http.StatusBadGateway, "Bad gateway: "+err.Error())
		e.emit(start, clientIP, method, path, &rt.TargetURL, rt.Path, http.StatusBadGateway, false)
		return
	}
	defer resp.Body.Close()

	CopyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Status already committed; nothing left to map.
		log.Printf("WARN proxy relay %s %s: %v", method, path, err)
	}

	e.report(rt.Path, resp.StatusCode < http.StatusInternalServerError)
	e.emit(start, clientIP, method, path, &rt.TargetURL, rt.Path, resp.StatusCode, false)
}

// interrupted reports whether the dispatch failed because the inbound
// request was cancelled, as opposed to a downstream transport error.
func interrupted(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

func (e *Engine) report(routePath string, success bool) {
	if e.breaker != nil {
		e.breaker.Report(routePath, success)
	}
}

func (e *Engine) emit(start time.Time, clientIP, method, path string, targetURL *string, routeLabel string, status int, rateLimited bool) {
	latency := time.Since(start)
	e.publisher.Publish(accesslog.Event{
		Timestamp:   time.Now().UTC(),
		ClientIP:    clientIP,
		Method:      method,
		Path:        path,
		TargetURL:   targetURL,
		StatusCode:  status,
		LatencyMs:   latency.Milliseconds(),
		RateLimited: rateLimited,
	})
	if e.metrics != nil {
		e.metrics.RecordRequest(routeLabel, status, latency)
	}
}
