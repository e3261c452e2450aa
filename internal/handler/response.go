package handler

import (
	"net/http"

	"github.com/gdscore/scoreboard-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
