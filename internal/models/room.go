package models

import "time"

// DefaultRoomName is used when a client connects without naming a room.
const DefaultRoomName = "General"

type Room struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is immutable once stored.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int       `json:"room_id"`
	Room      string    `json:"room,omitempty"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomDetail struct {
	Room        *Room      `json:"room"`
	Messages    []*Message `json:"messages"`
	ActiveUsers []string   `json:"active_users"`
}

type PostMessageRequest struct {
	Message string `json:"message"`
}

// DefaultRoom describes a room created at setup. An empty Roles list means
// every user is added as a participant.
type DefaultRoom struct {
	Name  string
	Roles []string
}

var DefaultRooms = []DefaultRoom{
	{Name: "General"},
	{Name: "Prayer", Roles: []string{RoleMember}},
	{Name: "Events", Roles: []string{RoleTreasury, RoleAdmin}},
	{Name: "Announcements"},
}
