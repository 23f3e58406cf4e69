package api

import (
	"coderoom/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/stats", h.Stats).Methods("GET")

	// Room endpoints
	api.HandleFunc("/rooms/{id}/users", h.RoomUsers).Methods("GET")
	api.HandleFunc("/rooms/{id}/files", h.RoomFiles).Methods("GET")
	api.HandleFunc("/rooms/{id}/members", h.RefreshMembers).Methods("PUT")

	// File endpoints
	api.HandleFunc("/files/{id}/history", h.FileHistory).Methods("GET")

	// Directory sync from the user service
	api.HandleFunc("/users/{id}", h.UpsertUser).Methods("PUT")

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	return r
}
