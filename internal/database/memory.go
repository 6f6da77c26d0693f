package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"koma-chat/internal/models"
)

// MemoryDB keeps everything in process memory. It backs the "memory"
// database driver and the test suites.
type MemoryDB struct {
	mu           sync.RWMutex
	users        []*models.User
	rooms        map[string]*models.Room
	roomsByID    map[int]*models.Room
	participants map[int]map[int]struct{}
	messages     map[int][]*models.Message
	nextUserID   int
	nextRoomID   int
	nextMsgID    int64
	now          func() time.Time
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		rooms:        make(map[string]*models.Room),
		roomsByID:    make(map[int]*models.Room),
		participants: make(map[int]map[int]struct{}),
		messages:     make(map[int][]*models.Message),
		now:          time.Now,
	}
}

func (db *MemoryDB) Migrate(context.Context) error { return nil }

func (db *MemoryDB) Close() error { return nil }

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func copyRoom(r *models.Room) *models.Room {
	c := *r
	c.Participants = nil
	return &c
}

func copyMessage(m *models.Message) *models.Message {
	c := *m
	return &c
}

func (db *MemoryDB) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == user.Username || u.Email == user.Email {
			return nil, fmt.Errorf("failed to create user: %w", ErrDuplicate)
		}
	}

	db.nextUserID++
	created := copyUser(user)
	created.ID = db.nextUserID
	created.CreatedAt = db.now()
	if created.Role == "" {
		created.Role = models.RoleMember
	}
	db.users = append(db.users, created)
	return copyUser(created), nil
}

func (db *MemoryDB) findUser(match func(*models.User) bool) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, u := range db.users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (db *MemoryDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return db.findUser(func(u *models.User) bool { return u.Email == email })
}

func (db *MemoryDB) GetUserByID(_ context.Context, id int) (*models.User, error) {
	return db.findUser(func(u *models.User) bool { return u.ID == id })
}

func (db *MemoryDB) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	return db.findUser(func(u *models.User) bool { return u.Username == username })
}

func (db *MemoryDB) ListUsers(context.Context) ([]*models.User, error) {
	return db.filterUsers(func(*models.User) bool { return true }), nil
}

func (db *MemoryDB) ListUsersByRole(_ context.Context, role string) ([]*models.User, error) {
	return db.filterUsers(func(u *models.User) bool { return u.Role == role }), nil
}

func (db *MemoryDB) filterUsers(match func(*models.User) bool) []*models.User {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []*models.User
	for _, u := range db.users {
		if match(u) {
			out = append(out, copyUser(u))
		}
	}
	return out
}

func (db *MemoryDB) SetUserRole(_ context.Context, username, role string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			u.Role = role
			return nil
		}
	}
	return ErrNotFound
}

func (db *MemoryDB) GetOrCreateRoom(ctx context.Context, name string) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if room, ok := db.rooms[name]; ok {
		return copyRoom(room), nil
	}

	db.nextRoomID++
	room := &models.Room{ID: db.nextRoomID, Name: name, CreatedAt: db.now()}
	db.rooms[name] = room
	db.roomsByID[room.ID] = room
	return copyRoom(room), nil
}

func (db *MemoryDB) GetRoomByName(_ context.Context, name string) (*models.Room, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	room, ok := db.rooms[name]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRoom(room), nil
}

func (db *MemoryDB) ListRooms(context.Context) ([]*models.Room, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rooms := make([]*models.Room, 0, len(db.rooms))
	for _, r := range db.rooms {
		rooms = append(rooms, copyRoom(r))
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (db *MemoryDB) ListRoomsForParticipant(_ context.Context, userID int) ([]*models.Room, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var rooms []*models.Room
	for roomID, members := range db.participants {
		if _, ok := members[userID]; ok {
			rooms = append(rooms, copyRoom(db.roomsByID[roomID]))
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (db *MemoryDB) AddParticipant(_ context.Context, roomID, userID int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.roomsByID[roomID]; !ok {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}

	members, ok := db.participants[roomID]
	if !ok {
		members = make(map[int]struct{})
		db.participants[roomID] = members
	}
	members[userID] = struct{}{}
	return nil
}

func (db *MemoryDB) ListParticipants(_ context.Context, roomID int) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var names []string
	for _, u := range db.users {
		if _, ok := db.participants[roomID][u.ID]; ok {
			names = append(names, u.Username)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (db *MemoryDB) AppendMessage(ctx context.Context, roomID int, sender, content string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	room, ok := db.roomsByID[roomID]
	if !ok {
		return nil, fmt.Errorf("failed to append message: room %d: %w", roomID, ErrNotFound)
	}

	db.nextMsgID++
	msg := &models.Message{
		ID:        db.nextMsgID,
		RoomID:    roomID,
		Room:      room.Name,
		Sender:    sender,
		Content:   content,
		CreatedAt: db.now(),
	}
	db.messages[roomID] = append(db.messages[roomID], msg)
	return copyMessage(msg), nil
}

// Messages are stored in append order, which is already chronological.
func (db *MemoryDB) ListMessages(_ context.Context, roomID, limit int) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	stored := db.messages[roomID]
	if limit > 0 && limit < len(stored) {
		stored = stored[:limit]
	}
	return copyMessages(stored), nil
}

func (db *MemoryDB) ListRecentMessages(_ context.Context, roomID, limit int) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	stored := db.messages[roomID]
	if limit > 0 && limit < len(stored) {
		stored = stored[len(stored)-limit:]
	}
	return copyMessages(stored), nil
}

func copyMessages(in []*models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(in))
	for _, m := range in {
		out = append(out, copyMessage(m))
	}
	return out
}
