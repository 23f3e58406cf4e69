package api

import (
	"net/http"
)

// HandleWebSocket upgrades to a collaboration session
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
