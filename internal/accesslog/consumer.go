package accesslog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// consumerGroup keeps this reader's offsets independent of any other
// consumer of the topic.
const consumerGroup = "dashboard"

// MessageReader is the slice of kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Broadcaster receives every consumed event. Implemented by the live
// stream registry.
type Broadcaster interface {
	Broadcast(event Event)
}

// NewReader builds the dashboard group reader. StartOffset LastOffset means
// a fresh group only sees events published after startup; the live view
// never replays history.
func NewReader(brokers []string, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     consumerGroup,
		Topic:       topic,
		StartOffset: kafka.LastOffset,
	})
}

// Consumer pumps the access-log topic into a Broadcaster.
type Consumer struct {
	reader MessageReader
	sink   Broadcaster
}

func NewConsumer(reader MessageReader, sink Broadcaster) *Consumer {
	return &Consumer{reader: reader, sink: sink}
}

// Run reads until the context is cancelled or the reader is closed.
// Undecodable messages are skipped; transient read errors back off briefly
// instead of spinning.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			log.Printf("WARN access log consumer read failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("WARN access log consumer skipping undecodable message: %v", err)
			continue
		}
		c.sink.Broadcast(event)
	}
}

// Stop closes the reader, which unblocks a pending ReadMessage.
func (c *Consumer) Stop(ctx context.Context) error {
	_ = ctx
	return c.reader.Close()
}
