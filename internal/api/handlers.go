package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"coderoom/internal/logging"
	"coderoom/internal/models"
	"coderoom/internal/presence"
	"coderoom/internal/repository"
	"coderoom/internal/services/collaboration"

	"github.com/gorilla/mux"
)

var log = logging.Component("api")

// Handler handles HTTP requests
type Handler struct {
	history   HistoryReader
	files     FileLister
	rosters   RosterStore
	users     UserStore
	presence  presence.Registry
	conns     ConnectionCounter
	wsHandler *collaboration.WebSocketHandler
}

func NewHandler(
	history HistoryReader,
	files FileLister,
	rosters RosterStore,
	users UserStore,
	registry presence.Registry,
	conns ConnectionCounter,
	wsHandler *collaboration.WebSocketHandler,
) *Handler {
	return &Handler{
		history:   history,
		files:     files,
		rosters:   rosters,
		users:     users,
		presence:  registry,
		conns:     conns,
		wsHandler: wsHandler,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, repository.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats reports live presence and connection counts
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.presence.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"rooms":       stats.Rooms,
		"editors":     stats.Editors,
		"connections": h.conns.Connections(),
	})
}

// Room handlers

func (h *Handler) RoomUsers(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	users, err := h.presence.RoomUsers(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"users":   users,
	})
}

func (h *Handler) RoomFiles(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	files, err := h.files.ListByRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"files":   files,
	})
}

// RefreshMembers stores the authoritative roster sent by the course service
func (h *Handler) RefreshMembers(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	var body struct {
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	changed, err := h.rosters.RefreshRecordedMembers(r.Context(), roomID, body.Members)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

// File handlers

func (h *Handler) FileHistory(w http.ResponseWriter, r *http.Request) {
	view, err := h.history.GetHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// User handlers

func (h *Handler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user.ID = mux.Vars(r)["id"]

	if err := h.users.Upsert(r.Context(), &user); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
