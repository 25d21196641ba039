// Package admin is the management surface for routes. It is mounted on
// explicit paths so it always wins over the proxy's catch-all handler.
// Every successful write refreshes the route cache immediately, so changes
// take effect without waiting for the scheduled refresh.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"api_gateway/internal/route"
)

// Refresher is the one-way interface to the route cache: the admin layer
// can trigger a refresh but never sees the cache's internals.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Handler struct {
	store *route.Store
	cache Refresher
}

func NewHandler(store *route.Store, cache Refresher) *Handler {
	return &Handler{store: store, cache: cache}
}

// Register mounts the admin endpoints on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/routes", h.handleCollection)
	mux.HandleFunc("/routes/", h.handleItem)
}

func (h *Handler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	idText := strings.TrimPrefix(r.URL.Path, "/routes/")
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || idText == "" {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	incoming, ok := decodeRoute(w, r)
	if !ok {
		return
	}

	created, err := h.store.Insert(r.Context(), incoming)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.refresh(r.Context())
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	routes, err := h.store.FindAll(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if routes == nil {
		routes = []route.Route{}
	}
	writeJSON(w, http.StatusOK, routes)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, id int64) {
	found, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, id int64) {
	incoming, ok := decodeRoute(w, r)
	if !ok {
		return
	}

	updated, err := h.store.Update(r.Context(), id, incoming)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.refresh(r.Context())
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, id int64) {
	existed, err := h.store.Delete(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	h.refresh(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) refresh(ctx context.Context) {
	if err := h.cache.Refresh(ctx); err != nil {
		log.Printf("WARN route cache refresh after admin write failed: %v", err)
	}
}

func decodeRoute(w http.ResponseWriter, r *http.Request) (route.Route, bool) {
	var incoming route.Route
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return route.Route{}, false
	}
	if err := route.Validate(incoming); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return route.Route{}, false
	}
	return incoming, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, route.ErrDuplicatePath):
		writeError(w, http.StatusConflict, "A route with that path already exists.")
	case errors.Is(err, route.ErrNotFound):
		writeError(w, http.StatusNotFound, "route not found")
	default:
		log.Printf("ERROR admin route store: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
