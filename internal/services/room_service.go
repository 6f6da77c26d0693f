package services

import (
	"context"
	"fmt"
	"slices"

	"koma-chat/internal/database"
	"koma-chat/internal/models"
	"koma-chat/internal/presence"
	"koma-chat/pkg/logger"
)

type RoomService struct {
	db       database.Database
	presence *presence.Tracker
	defaults []models.DefaultRoom
}

func NewRoomService(db database.Database, tracker *presence.Tracker, defaults []models.DefaultRoom) *RoomService {
	return &RoomService{db: db, presence: tracker, defaults: defaults}
}

// ListRoomsForUser returns the rooms userID participates in.
func (s *RoomService) ListRoomsForUser(ctx context.Context, userID int) ([]*models.Room, error) {
	return s.db.ListRoomsForParticipant(ctx, userID)
}

// GetRoomDetail returns the room with its full chronological history.
func (s *RoomService) GetRoomDetail(ctx context.Context, name string) (*models.RoomDetail, error) {
	room, err := s.db.GetRoomByName(ctx, name)
	if err != nil {
		return nil, err
	}

	participants, err := s.db.ListParticipants(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	room.Participants = participants

	messages, err := s.db.ListMessages(ctx, room.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	return &models.RoomDetail{
		Room:        room,
		Messages:    messages,
		ActiveUsers: s.ActiveUsers(room.Name),
	}, nil
}

func (s *RoomService) ActiveUsers(room string) []string {
	return s.presence.Snapshot(room)
}

// EnsureDefaultRooms creates the default rooms and adds participants by
// role. A room without roles gets every user.
func (s *RoomService) EnsureDefaultRooms(ctx context.Context) error {
	for _, def := range s.defaults {
		room, err := s.db.GetOrCreateRoom(ctx, def.Name)
		if err != nil {
			return err
		}

		users, err := s.usersFor(ctx, def)
		if err != nil {
			return fmt.Errorf("users for room %s: %w", def.Name, err)
		}
		for _, u := range users {
			if err := s.db.AddParticipant(ctx, room.ID, u.ID); err != nil {
				return fmt.Errorf("add %s to %s: %w", u.Username, def.Name, err)
			}
		}
		logger.Info("Default room %s ready with %d participants", def.Name, len(users))
	}
	return nil
}

func (s *RoomService) usersFor(ctx context.Context, def models.DefaultRoom) ([]*models.User, error) {
	if len(def.Roles) == 0 {
		return s.db.ListUsers(ctx)
	}

	var users []*models.User
	for _, role := range def.Roles {
		byRole, err := s.db.ListUsersByRole(ctx, role)
		if err != nil {
			return nil, err
		}
		users = append(users, byRole...)
	}
	return users, nil
}

// JoinDefaultRooms adds a single user to every default room their role
// qualifies for. It is used right after registration.
func (s *RoomService) JoinDefaultRooms(ctx context.Context, user *models.User) error {
	for _, def := range s.defaults {
		if len(def.Roles) > 0 && !slices.Contains(def.Roles, user.Role) {
			continue
		}
		room, err := s.db.GetOrCreateRoom(ctx, def.Name)
		if err != nil {
			return err
		}
		if err := s.db.AddParticipant(ctx, room.ID, user.ID); err != nil {
			return fmt.Errorf("add %s to %s: %w", user.Username, def.Name, err)
		}
	}
	return nil
}
