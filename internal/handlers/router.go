package handlers

import (
	"net/http"

	"koma-chat/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// NewRouter wires every HTTP and websocket route behind request logging and CORS.
func NewRouter(base zerolog.Logger, authHandlers *AuthHandlers, roomHandlers *RoomHandlers, wsHandlers *WebSocketHandlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(logger.HTTPMiddleware(base))
	r.Use(corsMiddleware)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/register", authHandlers.Register).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/login", authHandlers.Login).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/rooms", roomHandlers.ListRooms).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/rooms/{name}", roomHandlers.GetRoom).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/rooms/{name}/messages", roomHandlers.PostMessage).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/rooms/{name}/active", roomHandlers.GetActiveUsers).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/ws", wsHandlers.HandleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/ws/{name}", wsHandlers.HandleWebSocket).Methods(http.MethodGet)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
