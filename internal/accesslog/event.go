// Package accesslog publishes one event per inbound request to a durable
// Kafka topic and consumes that topic to feed the live dashboard stream.
package accesslog

import "time"

// DefaultTopic is the access-log topic name.
const DefaultTopic = "gateway.access-logs"

// Event is an immutable record of a single request through the gateway,
// emitted regardless of outcome. TargetURL is nil when no route matched.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	ClientIP    string    `json:"clientIp"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	TargetURL   *string   `json:"targetUrl"`
	StatusCode  int       `json:"statusCode"`
	LatencyMs   int64     `json:"latencyMs"`
	RateLimited bool      `json:"rateLimited"`
}
