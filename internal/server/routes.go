package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

// SetupRoutes configures the router with the health, status and WebSocket
// endpoints behind request logging.
func SetupRoutes(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(logging.HTTPMiddleware(h.logger))

	r.HandleFunc("/", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.WebSocket)
	return r
}
