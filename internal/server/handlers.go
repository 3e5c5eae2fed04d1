package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handlers serves the relay's HTTP endpoints.
type Handlers struct {
	relay    *Relay
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandlers binds the HTTP endpoints to relay.
func NewHandlers(relay *Relay, cfg Config, logger zerolog.Logger) *Handlers {
	policy := newOriginPolicy(cfg.Server.AllowedOrigins, logger)
	return &Handlers{
		relay:  relay,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
	}
}

// WebSocket upgrades the request, attaches the new connection to the relay
// and starts its pumps.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, h.relay, r.RemoteAddr, h.cfg, h.logger)
	if err := h.relay.Connect(client); err != nil {
		h.refuse(conn, err)
		return
	}

	if err := h.relay.Go(client.writePump); err != nil {
		client.Close()
		h.refuse(conn, err)
		return
	}
	if err := h.relay.Go(client.readPump); err != nil {
		// the write pump closes the connection once the send queue is closed
		client.Close()
		h.logger.Warn().Err(err).Msg("relay refused connection")
	}
}

func (h *Handlers) refuse(conn *websocket.Conn, err error) {
	h.logger.Warn().Err(err).Msg("relay refused connection")
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	_ = conn.Close()
}

// Health is a plain-text liveness check.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Chat relay is running!")
}

type statusResponse struct {
	Status         string `json:"status"`
	ConnectedUsers int    `json:"connectedUsers"`
	MessageCount   int    `json:"messageCount"`
}

// Status reports the live session count and retained message count.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	st := h.relay.Status()
	resp := statusResponse{
		Status:         "Chat server running",
		ConnectedUsers: st.ConnectedUsers,
		MessageCount:   st.MessageCount,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn().Err(err).Msg("failed to write status response")
	}
}
