package models

import (
	"slices"
	"time"
)

const (
	RoleMember   = "Member"
	RoleTreasury = "Treasury"
	RoleAdmin    = "Admin"
)

var Roles = []string{RoleMember, RoleTreasury, RoleAdmin}

func ValidRole(role string) bool {
	return slices.Contains(Roles, role)
}

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
