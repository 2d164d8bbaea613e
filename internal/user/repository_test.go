package user_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psptrack/psptrack/internal/user"
)

func TestInMemoryRepository_CreateAndGet(t *testing.T) {
	repo := user.NewInMemoryRepository()
	ctx := context.Background()

	err := repo.Create(ctx, &user.User{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.NotNil(t, got.Devices)

	byEmail, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", byEmail.Username)
}

func TestInMemoryRepository_CreateDuplicate(t *testing.T) {
	repo := user.NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &user.User{Username: "alice"}))
	assert.ErrorIs(t, repo.Create(ctx, &user.User{Username: "alice"}), user.ErrUserExists)
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := user.NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &user.User{Username: "alice", Devices: []string{"0123456789abcdef"}}))

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	got.Devices[0] = "mutated"

	again, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"0123456789abcdef"}, again.Devices)
}

func TestInMemoryRepository_UpdateMissing(t *testing.T) {
	repo := user.NewInMemoryRepository()

	err := repo.Update(context.Background(), &user.User{Username: "ghost"})
	assert.ErrorIs(t, err, user.ErrUserNotFound)
}

func TestInMemoryRepository_ListSorted(t *testing.T) {
	repo := user.NewInMemoryRepository()
	ctx := context.Background()

	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, repo.Create(ctx, &user.User{Username: name}))
	}

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "carol", users[2].Username)
}

func TestUser_DeviceSet(t *testing.T) {
	u := &user.User{Username: "alice"}

	assert.True(t, u.AddDevice("0123456789abcdef"))
	assert.False(t, u.AddDevice("0123456789abcdef"))
	assert.True(t, u.OwnsDevice("0123456789abcdef"))

	assert.True(t, u.RemoveDevice("0123456789abcdef"))
	assert.False(t, u.RemoveDevice("0123456789abcdef"))
	assert.False(t, u.OwnsDevice("0123456789abcdef"))
}
