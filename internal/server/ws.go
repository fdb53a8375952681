package server

import (
	"log/slog"
	"net/http"
	"sync"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/gateway"

	"github.com/gorilla/websocket"
)

type wsHandler struct {
	authenticator *auth.Authenticator
	hub           *gateway.Hub
	service       *gateway.Service
	upgrader      *websocket.Upgrader
}

func newWSHandler(authenticator *auth.Authenticator, hub *gateway.Hub, service *gateway.Service, allowedOrigins []string) *wsHandler {
	return &wsHandler{
		authenticator: authenticator,
		hub:           hub,
		service:       service,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferPool: &sync.Pool{},
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		// No configured origins: same-origin policy of the default checker.
		return nil
	}

	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// handleWS authenticates the handshake, upgrades, and hands the connection
// to the gateway service. Authentication happens before the upgrade: a
// rejected connection never registers with the hub and never reaches any
// event handler.
func (h *wsHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticator.Authenticate(r)
	if err != nil {
		slog.Warn("Rejected websocket handshake", "remote", r.RemoteAddr, "error", err)
		api.HandleError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := gateway.NewClient(identity, conn, h.hub)
	h.service.HandleConn(r.Context(), client)
}
