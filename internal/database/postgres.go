package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"koma-chat/internal/models"
	"koma-chat/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// User Repository Implementation
const userColumns = `id, username, email, password_hash, role, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	role := user.Role
	if role == "" {
		role = models.RoleMember
	}

	query := `
		INSERT INTO users (username, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING ` + userColumns

	created, err := scanUser(db.pool.QueryRow(ctx, query, user.Username, user.Email, user.PasswordHash, role))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	return scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (db *PostgresDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	return db.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

func (db *PostgresDB) ListUsersByRole(ctx context.Context, role string) ([]*models.User, error) {
	return db.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY id`, role)
}

func (db *PostgresDB) queryUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (db *PostgresDB) SetUserRole(ctx context.Context, username, role string) error {
	tag, err := db.pool.Exec(ctx, `UPDATE users SET role = $2 WHERE username = $1`, username, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Room Repository Implementation
func (db *PostgresDB) GetOrCreateRoom(ctx context.Context, name string) (*models.Room, error) {
	query := `
		INSERT INTO rooms (name, created_at) VALUES ($1, NOW())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at`

	room := &models.Room{}
	if err := db.pool.QueryRow(ctx, query, name).Scan(&room.ID, &room.Name, &room.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to get or create room %q: %w", name, err)
	}
	return room, nil
}

func (db *PostgresDB) GetRoomByName(ctx context.Context, name string) (*models.Room, error) {
	room := &models.Room{}
	err := db.pool.QueryRow(ctx, `SELECT id, name, created_at FROM rooms WHERE name = $1`, name).
		Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return room, nil
}

func (db *PostgresDB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	return db.queryRooms(ctx, `SELECT id, name, created_at FROM rooms ORDER BY name`)
}

func (db *PostgresDB) ListRoomsForParticipant(ctx context.Context, userID int) ([]*models.Room, error) {
	query := `
		SELECT r.id, r.name, r.created_at
		FROM rooms r
		JOIN room_participants p ON p.room_id = r.id
		WHERE p.user_id = $1
		ORDER BY r.name`
	return db.queryRooms(ctx, query, userID)
}

func (db *PostgresDB) queryRooms(ctx context.Context, query string, args ...any) ([]*models.Room, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room := &models.Room{}
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (db *PostgresDB) AddParticipant(ctx context.Context, roomID, userID int) error {
	query := `
		INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING`
	_, err := db.pool.Exec(ctx, query, roomID, userID)
	return err
}

func (db *PostgresDB) ListParticipants(ctx context.Context, roomID int) ([]string, error) {
	query := `
		SELECT u.username
		FROM room_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.room_id = $1
		ORDER BY u.username`

	rows, err := db.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Message Repository Implementation
func (db *PostgresDB) AppendMessage(ctx context.Context, roomID int, sender, content string) (*models.Message, error) {
	query := `
		INSERT INTO messages (room_id, sender, content)
		VALUES ($1, $2, $3)
		RETURNING id, room_id, sender, content, created_at`

	msg := &models.Message{}
	err := db.pool.QueryRow(ctx, query, roomID, sender, content).
		Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Content, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

func (db *PostgresDB) ListMessages(ctx context.Context, roomID, limit int) ([]*models.Message, error) {
	query := `
		SELECT m.id, m.room_id, r.name, m.sender, m.content, m.created_at
		FROM messages m
		JOIN rooms r ON r.id = m.room_id
		WHERE m.room_id = $1
		ORDER BY m.created_at, m.id`
	if limit <= 0 {
		return db.queryMessages(ctx, query, roomID)
	}
	return db.queryMessages(ctx, query+` LIMIT $2`, roomID, limit)
}

func (db *PostgresDB) ListRecentMessages(ctx context.Context, roomID, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return db.ListMessages(ctx, roomID, 0)
	}

	query := `
		SELECT m.id, m.room_id, r.name, m.sender, m.content, m.created_at
		FROM messages m
		JOIN rooms r ON r.id = m.room_id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2`

	messages, err := db.queryMessages(ctx, query, roomID, limit)
	if err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (db *PostgresDB) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Room, &msg.Sender, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
