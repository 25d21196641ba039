package stream

import (
	"fmt"
	"net/http"
)

// ServeHTTP handles GET /dashboard/stream. The connection has no
// server-side timeout: it stays open until the peer disconnects. The
// leading comment is sent immediately to commit the response headers;
// without it the browser's EventSource never reaches the open state and
// loops through error/reconnect.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	id, sub := r.register()
	defer r.remove(id)

	for {
		select {
		case <-req.Context().Done():
			return
		case <-sub.done:
			return
		case payload := <-sub.events:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
