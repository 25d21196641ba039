// Package stream fans consumed access-log events out to live dashboard
// viewers over server-sent events.
package stream

import (
	"encoding/json"
	"log"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"api_gateway/internal/accesslog"
)

// subscriberBuffer bounds the per-viewer queue. A viewer that cannot keep
// up is dropped rather than allowed to stall the broadcast.
const subscriberBuffer = 64

type subscriber struct {
	events chan []byte
	// done is closed on removal so a dropped viewer's handler returns
	// instead of waiting for the peer to disconnect.
	done chan struct{}
}

// Registry is the set of currently connected viewers. The xsync map
// tolerates Range during concurrent Store/Delete, which is exactly the
// access pattern here: the consumer goroutine broadcasts while browsers
// connect and disconnect.
type Registry struct {
	subscribers *xsync.Map[uint64, *subscriber]
	nextID      atomic.Uint64
	onChange    func(count int)
}

func NewRegistry() *Registry {
	return &Registry{subscribers: xsync.NewMap[uint64, *subscriber]()}
}

// SetOnChange registers a subscriber-count hook for metrics; may be unset.
func (r *Registry) SetOnChange(fn func(count int)) {
	r.onChange = fn
}

// Count reports the number of connected viewers.
func (r *Registry) Count() int {
	return r.subscribers.Size()
}

// Broadcast sends the event to every viewer. A viewer whose queue is full
// is removed silently and the broadcast continues with the rest.
func (r *Registry) Broadcast(event accesslog.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("WARN stream broadcast marshal failed: %v", err)
		return
	}
	r.subscribers.Range(func(id uint64, sub *subscriber) bool {
		select {
		case sub.events <- payload:
		default:
			r.remove(id)
		}
		return true
	})
}

func (r *Registry) register() (uint64, *subscriber) {
	id := r.nextID.Add(1)
	sub := &subscriber{
		events: make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}
	r.subscribers.Store(id, sub)
	r.notify()
	return id, sub
}

// remove is safe to call twice for the same id; only the caller that wins
// the delete closes the done channel.
func (r *Registry) remove(id uint64) {
	sub, ok := r.subscribers.LoadAndDelete(id)
	if !ok {
		return
	}
	close(sub.done)
	r.notify()
}

func (r *Registry) notify() {
	if r.onChange != nil {
		r.onChange(r.subscribers.Size())
	}
}
