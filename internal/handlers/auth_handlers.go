package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"koma-chat/internal/auth"
	"koma-chat/internal/database"
	"koma-chat/internal/models"
	"koma-chat/pkg/logger"
)

// DefaultRoomJoiner adds a newly registered user to the rooms their role
// qualifies for.
type DefaultRoomJoiner interface {
	JoinDefaultRooms(ctx context.Context, user *models.User) error
}

type AuthHandlers struct {
	authService *auth.Service
	rooms       DefaultRoomJoiner
}

func NewAuthHandlers(authService *auth.Service, rooms DefaultRoomJoiner) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		rooms:       rooms,
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	response, err := h.authService.Register(r.Context(), &req)
	switch {
	case errors.Is(err, auth.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, database.ErrDuplicate):
		http.Error(w, "username or email already registered", http.StatusConflict)
		return
	case err != nil:
		l := logger.Ctx(r.Context())
		l.Error().Err(err).Msg("registration failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if h.rooms != nil {
		if err := h.rooms.JoinDefaultRooms(r.Context(), &response.User); err != nil {
			l := logger.Ctx(r.Context())
			l.Error().Err(err).Str(logger.FieldUsername, response.User.Username).Msg("could not join default rooms")
		}
	}

	writeJSON(w, http.StatusCreated, response)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	response, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		logger.Debug("Login error: %v", err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, response)
}
