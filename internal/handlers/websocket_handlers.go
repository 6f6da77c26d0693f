package handlers

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"

	"koma-chat/internal/auth"
	"koma-chat/internal/models"
	ws "koma-chat/internal/websocket"
	"koma-chat/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	sessions    ws.Handler
	settings    ws.Settings
	upgrader    websocket.Upgrader
	draining    atomic.Bool
}

func NewWebSocketHandlers(authService *auth.Service, sessions ws.Handler, settings ws.Settings, allowedOrigins []string) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		sessions:    sessions,
		settings:    settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// HandleWebSocket upgrades an authenticated request and starts a session in
// the room named by the path or the "room" query parameter.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	roomName := mux.Vars(r)["name"]
	if roomName == "" {
		roomName = strings.TrimSpace(r.URL.Query().Get("room"))
	}
	if roomName == "" {
		roomName = models.DefaultRoomName
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(conn, user.Username, roomName, h.sessions, h.settings)
	l := logger.Ctx(r.Context())
	l.Debug().
		Str(logger.FieldConnID, client.ID()).
		Str(logger.FieldUsername, user.Username).
		Str(logger.FieldRoom, roomName).
		Msg("websocket session started")

	client.Start()
}

// Drain makes every later upgrade request fail with 503.
func (h *WebSocketHandlers) Drain() {
	h.draining.Store(true)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(allowed, u.Scheme+"://"+u.Host)
	}
}
