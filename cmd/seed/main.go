// Command seed creates the default rooms and assigns roles to existing users.
//
//	seed --role mary=Admin --role john=Treasury
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"koma-chat/internal/config"
	"koma-chat/internal/database"
	"koma-chat/internal/models"
	"koma-chat/internal/presence"
	"koma-chat/internal/services"
	"koma-chat/pkg/logger"

	"github.com/spf13/pflag"
)

func main() {
	roles := pflag.StringToStringP("role", "r", nil, "assign a role, as username=Role (Member, Treasury or Admin)")
	skipRooms := pflag.Bool("skip-rooms", false, "only assign roles, do not create default rooms")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Service: "koma-chat-seed"})

	if err := run(context.Background(), cfg, *roles, *skipRooms); err != nil {
		logger.Error("Seed failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, roles map[string]string, skipRooms bool) error {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	usernames := make([]string, 0, len(roles))
	for username := range roles {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)

	for _, username := range usernames {
		role := roles[username]
		if !models.ValidRole(role) {
			return fmt.Errorf("unknown role %q for %s", role, username)
		}
		if err := db.SetUserRole(ctx, username, role); err != nil {
			return fmt.Errorf("set role for %s: %w", username, err)
		}
		logger.Info("Assigned role %s to %s", role, username)
	}

	if skipRooms {
		return nil
	}

	// participants are added by role, so roles are assigned first
	roomService := services.NewRoomService(db, presence.NewTracker(), models.DefaultRooms)
	return roomService.EnsureDefaultRooms(ctx)
}
