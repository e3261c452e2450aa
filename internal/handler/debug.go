package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type ConnectionCounter interface {
	Count(sessionID string) int
}

type DebugHandler struct {
	connections ConnectionCounter
}

func NewDebugHandler(connections ConnectionCounter) *DebugHandler {
	return &DebugHandler{connections: connections}
}

func (h *DebugHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/sockets/{uuid}", h.SocketCount)

	return r
}

// GET /debug/sockets/{uuid}
func (h *DebugHandler) SocketCount(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "uuid")
	writeJSON(w, http.StatusOK, map[string]int{
		"sockets": h.connections.Count(sessionID),
	})
}
