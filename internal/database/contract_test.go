package database

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"koma-chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRepositoryContract exercises the behaviour every Database implementation
// must share. Names are suffixed so the suite can run against a shared
// Postgres instance more than once.
func runRepositoryContract(t *testing.T, db Database, suffix string) {
	ctx := context.Background()
	name := func(base string) string { return base + suffix }

	t.Run("get or create room is idempotent", func(t *testing.T) {
		first, err := db.GetOrCreateRoom(ctx, name("General"))
		require.NoError(t, err)
		second, err := db.GetOrCreateRoom(ctx, name("General"))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, name("General"), second.Name)
	})

	t.Run("concurrent get or create yields one room", func(t *testing.T) {
		var wg sync.WaitGroup
		ids := make([]int, 16)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				room, err := db.GetOrCreateRoom(ctx, name("Busy"))
				if assert.NoError(t, err) {
					ids[i] = room.ID
				}
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("missing room", func(t *testing.T) {
		_, err := db.GetRoomByName(ctx, name("Nowhere"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("messages are chronological", func(t *testing.T) {
		room, err := db.GetOrCreateRoom(ctx, name("Log"))
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			msg, err := db.AppendMessage(ctx, room.ID, "A", fmt.Sprintf("m%d", i))
			require.NoError(t, err)
			assert.NotZero(t, msg.ID)
			assert.Equal(t, "A", msg.Sender)
			assert.False(t, msg.CreatedAt.IsZero())
		}

		all, err := db.ListMessages(ctx, room.ID, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, m := range all {
			assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
			assert.Equal(t, name("Log"), m.Room)
		}

		recent, err := db.ListRecentMessages(ctx, room.ID, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "m3", recent[0].Content)
		assert.Equal(t, "m4", recent[1].Content)

		first, err := db.ListMessages(ctx, room.ID, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "m0", first[0].Content)
	})

	t.Run("append to unknown room fails", func(t *testing.T) {
		_, err := db.AppendMessage(ctx, -1, "A", "lost")
		assert.Error(t, err)
	})

	t.Run("users and participants", func(t *testing.T) {
		alice, err := db.CreateUser(ctx, &models.User{Username: name("alice"), Email: name("alice") + "@example.com", PasswordHash: "x"})
		require.NoError(t, err)
		assert.Equal(t, models.RoleMember, alice.Role)

		_, err = db.CreateUser(ctx, &models.User{Username: name("alice"), Email: name("other") + "@example.com", PasswordHash: "x"})
		assert.ErrorIs(t, err, ErrDuplicate)

		bob, err := db.CreateUser(ctx, &models.User{Username: name("bob"), Email: name("bob") + "@example.com", PasswordHash: "x"})
		require.NoError(t, err)
		require.NoError(t, db.SetUserRole(ctx, bob.Username, models.RoleAdmin))

		admins, err := db.ListUsersByRole(ctx, models.RoleAdmin)
		require.NoError(t, err)
		var adminNames []string
		for _, u := range admins {
			adminNames = append(adminNames, u.Username)
		}
		assert.Contains(t, adminNames, bob.Username)
		assert.NotContains(t, adminNames, alice.Username)

		assert.ErrorIs(t, db.SetUserRole(ctx, name("ghost"), models.RoleAdmin), ErrNotFound)

		got, err := db.GetUserByEmail(ctx, alice.Email)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)
		assert.Equal(t, "x", got.PasswordHash)

		_, err = db.GetUserByUsername(ctx, name("ghost"))
		assert.ErrorIs(t, err, ErrNotFound)

		room, err := db.GetOrCreateRoom(ctx, name("Prayer"))
		require.NoError(t, err)
		require.NoError(t, db.AddParticipant(ctx, room.ID, alice.ID))
		require.NoError(t, db.AddParticipant(ctx, room.ID, alice.ID))

		names, err := db.ListParticipants(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{alice.Username}, names)

		rooms, err := db.ListRoomsForParticipant(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, rooms, 1)
		assert.Equal(t, room.ID, rooms[0].ID)

		rooms, err = db.ListRoomsForParticipant(ctx, bob.ID)
		require.NoError(t, err)
		assert.Empty(t, rooms)
	})
}
