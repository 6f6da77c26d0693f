package database

import (
	"context"
	"errors"

	"koma-chat/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]*models.User, error)
	SetUserRole(ctx context.Context, username, role string) error
}

// RoomRepository is the room registry. Rooms are identified by name and
// GetOrCreateRoom is safe to call concurrently for the same name.
type RoomRepository interface {
	GetOrCreateRoom(ctx context.Context, name string) (*models.Room, error)
	GetRoomByName(ctx context.Context, name string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
	ListRoomsForParticipant(ctx context.Context, userID int) ([]*models.Room, error)
	AddParticipant(ctx context.Context, roomID, userID int) error
	ListParticipants(ctx context.Context, roomID int) ([]string, error)
}

// MessageRepository is the append-only message log. Listings are
// chronological (created_at, then id).
type MessageRepository interface {
	AppendMessage(ctx context.Context, roomID int, sender, content string) (*models.Message, error)
	ListMessages(ctx context.Context, roomID, limit int) ([]*models.Message, error)
	ListRecentMessages(ctx context.Context, roomID, limit int) ([]*models.Message, error)
}

type Database interface {
	UserRepository
	RoomRepository
	MessageRepository
	Migrate(ctx context.Context) error
	Close() error
}
