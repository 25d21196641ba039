package accesslog

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the slice of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher enqueues access-log events. Fire-and-forget: a failure is
// logged and the request that produced the event is unaffected.
type Publisher struct {
	writer    MessageWriter
	onFailure func()
}

func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// NewKafkaPublisher builds a publisher over an async topic writer. Messages
// are keyed by clientIp and hash-balanced, so one client's events land on
// one partition and a consumer observes them in enqueue order. Async mode
// hands the message to a background batch and returns immediately; delivery
// failures surface in the completion callback, never on the request path.
func NewKafkaPublisher(brokers []string, topic string) *Publisher {
	p := &Publisher{}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.deliveryFailed(len(messages), err)
			}
		},
	}
	return p
}

// SetOnFailure registers a metrics hook for enqueue and delivery failures;
// may be unset.
func (p *Publisher) SetOnFailure(fn func()) {
	p.onFailure = fn
}

// Publish serialises the event and hands it to the writer. The context is
// intentionally Background: the event must outlive the request that
// produced it.
func (p *Publisher) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.fail("WARN access log marshal failed: %v", err)
		return
	}
	err = p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(event.ClientIP),
		Value: payload,
	})
	if err != nil {
		p.fail("WARN access log enqueue failed: %v", err)
	}
}

func (p *Publisher) fail(format string, err error) {
	log.Printf(format, err)
	if p.onFailure != nil {
		p.onFailure()
	}
}

// deliveryFailed accounts every message of a failed async batch.
func (p *Publisher) deliveryFailed(count int, err error) {
	log.Printf("WARN access log delivery failed for %d message(s): %v", count, err)
	if p.onFailure == nil {
		return
	}
	for i := 0; i < count; i++ {
		p.onFailure()
	}
}

// Close flushes pending batches and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
