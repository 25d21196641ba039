// Package ratelimit enforces per-(clientIp, routePath) token buckets in a
// shared Redis so limits hold across all gateway instances. The whole
// check-and-consume runs inside one Lua script; Redis executes scripts as a
// single atomic command, so concurrent requests can never observe the same
// pre-decrement bucket state.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"api_gateway/internal/route"
)

// Result of one rate-limit check. Remaining is -1 when the check was
// skipped: the route has no limit configured, or Redis was unavailable
// (fail open).
type Result struct {
	Allowed   bool
	Remaining int
}

// KEYS[1]: bucket key for this (client, route) pair.
// ARGV[1]: capacity. ARGV[2]: refill rate per second.
// ARGV[3]: now in epoch milliseconds. ARGV[4]: key TTL in seconds.
//
// Accrual uses real arithmetic so a request 100ms after the previous one
// earns fractional tokens; only the consume step needs a whole token.
var tokenBucketScript = redis.NewScript(`
local key  = KEYS[1]
local cap  = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now  = tonumber(ARGV[3])
local ttl  = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'lastRefill')
local tokens = tonumber(data[1])
local lastRefill = tonumber(data[2])

if tokens == nil then
    tokens = cap
    lastRefill = now
end

local elapsed = (now - lastRefill) / 1000.0
local newTokens = math.min(cap, tokens + elapsed * rate)

local allowed = 0
if newTokens >= 1.0 then
    newTokens = newTokens - 1.0
    allowed = 1
end

redis.call('HMSET', key, 'tokens', tostring(newTokens), 'lastRefill', tostring(now))
redis.call('EXPIRE', key, ttl)

return { allowed, math.floor(newTokens) }
`)

const defaultTimeout = 500 * time.Millisecond

// Limiter runs the token-bucket script against Redis. Any Scripter works:
// a single client, a cluster client, or a fake in tests.
type Limiter struct {
	client  redis.Scripter
	timeout time.Duration
	now     func() time.Time
	// onFailOpen is invoked whenever a store error forces an allow.
	onFailOpen func()
}

func NewLimiter(client redis.Scripter, timeout time.Duration) *Limiter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Limiter{client: client, timeout: timeout, now: time.Now}
}

// SetOnFailOpen registers a metrics hook; may be left unset.
func (l *Limiter) SetOnFailOpen(fn func()) {
	l.onFailOpen = fn
}

// Key returns the bucket key for a (client, route) pair.
func Key(routePath, clientIP string) string {
	return "rl:" + routePath + ":" + clientIP
}

// BucketTTLSeconds is how long an idle bucket lives: the time an empty
// bucket needs to refill completely, doubled. Storage then scales with
// active clients rather than historical ones.
func BucketTTLSeconds(capacity, refillRatePerSecond int) int {
	return int(math.Ceil(float64(capacity)/float64(refillRatePerSecond))) * 2
}

// Check decides whether the client may proceed on the given route.
// Routes without a configured capacity bypass Redis entirely. Any store
// error fails open: the request is allowed and the failure logged at WARN.
func (l *Limiter) Check(ctx context.Context, clientIP string, rt route.Route) Result {
	if !rt.RateLimited() {
		return Result{Allowed: true, Remaining: -1}
	}

	capacity := *rt.Capacity
	refill := *rt.RefillRatePerSecond

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	raw, err := tokenBucketScript.Run(ctx, l.client,
		[]string{Key(rt.Path, clientIP)},
		capacity,
		refill,
		l.now().UnixMilli(),
		BucketTTLSeconds(capacity, refill),
	).Result()
	if err != nil {
		l.failOpen(clientIP, rt.Path, err)
		return Result{Allowed: true, Remaining: -1}
	}

	allowed, remaining, err := parseReply(raw)
	if err != nil {
		l.failOpen(clientIP, rt.Path, err)
		return Result{Allowed: true, Remaining: -1}
	}
	return Result{Allowed: allowed, Remaining: remaining}
}

func (l *Limiter) failOpen(clientIP, routePath string, err error) {
	log.Printf("WARN rate limiter redis error for client=%s route=%s, failing open: %v",
		clientIP, routePath, err)
	if l.onFailOpen != nil {
		l.onFailOpen()
	}
}

func parseReply(raw any) (bool, int, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected script reply %T", raw)
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected allowed value %T", values[0])
	}
	remaining, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected remaining value %T", values[1])
	}
	return allowed == 1, int(remaining), nil
}
