package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"koma-chat/internal/auth"
	"koma-chat/internal/database"
	"koma-chat/internal/models"
	"koma-chat/internal/services"
	"koma-chat/pkg/logger"

	"github.com/gorilla/mux"
)

type RoomHandlers struct {
	roomService *services.RoomService
	chatService *services.ChatService
	authService *auth.Service
}

func NewRoomHandlers(roomService *services.RoomService, chatService *services.ChatService, authService *auth.Service) *RoomHandlers {
	return &RoomHandlers{
		roomService: roomService,
		chatService: chatService,
		authService: authService,
	}
}

func (h *RoomHandlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	rooms, err := h.roomService.ListRoomsForUser(r.Context(), user.ID)
	if err != nil {
		logger.Error("List rooms error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}

	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandlers) GetRoom(w http.ResponseWriter, r *http.Request) {
	if _, err := userFromRequest(r, h.authService); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	detail, err := h.roomService.GetRoomDetail(r.Context(), mux.Vars(r)["name"])
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("Get room error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func (h *RoomHandlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	msg, err := h.chatService.PostMessage(r.Context(), mux.Vars(r)["name"], user.Username, req.Message)
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, "room not found", http.StatusNotFound)
		return
	case err != nil:
		logger.Error("Post message error: %v", err)
		http.Error(w, "message could not be saved", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *RoomHandlers) GetActiveUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := userFromRequest(r, h.authService); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	room := mux.Vars(r)["name"]
	activeUsers := h.roomService.ActiveUsers(room)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":         room,
		"active_users": activeUsers,
		"count":        len(activeUsers),
	})
}
