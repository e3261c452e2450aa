package socket

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
)

// NewUpgrader builds an upgrader that accepts the given origins. A "*" entry
// allows any origin.
func NewUpgrader(origins []string) *websocket.Upgrader {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, origin)
		},
	}
}
