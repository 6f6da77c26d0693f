package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"koma-chat/internal/auth"
	"koma-chat/internal/models"
	"koma-chat/pkg/logger"
)

var errMissingToken = errors.New("missing token")

// tokenFromRequest reads the bearer token from the Authorization header and
// falls back to the "token" query parameter, which browsers must use for
// websocket upgrades.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func userFromRequest(r *http.Request, authService *auth.Service) (*models.User, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return nil, errMissingToken
	}
	return authService.GetUserFromToken(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Encode response error: %v", err)
	}
}
