package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/model"
)

func newUser(id, username, email string) model.User {
	now := time.Now().UTC()
	return model.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: "digest",
		Role:         model.RoleBaseUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryUserRepositoryCaseInsensitiveLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	require.NoError(t, repo.Create(ctx, newUser("1", "Djinkster", "X@Example.com")))

	u, err := repo.GetByUsername(ctx, "DJINKSTER")
	require.NoError(t, err)
	assert.Equal(t, "Djinkster", u.Username)
	assert.Equal(t, "x@example.com", u.Email)

	u, err = repo.GetByEmail(ctx, "x@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, "1", u.ID)

	_, err = repo.GetByUsername(ctx, "nobody")
	require.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestMemoryUserRepositoryConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	require.NoError(t, repo.Create(ctx, newUser("1", "djinkster", "x@example.com")))

	err := repo.Create(ctx, newUser("2", "DJINKSTER", "y@example.com"))
	require.ErrorIs(t, err, model.ErrConflict)
	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "username", conflict.Field)

	err = repo.Create(ctx, newUser("2", "another", "X@example.com"))
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "email", conflict.Field)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryUserRepositoryUpdateProfileMovesEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	require.NoError(t, repo.Create(ctx, newUser("1", "djinkster", "x@example.com")))
	require.NoError(t, repo.Create(ctx, newUser("2", "otheruser", "o@example.com")))

	u, err := repo.GetByUsername(ctx, "djinkster")
	require.NoError(t, err)

	u.Email = "o@example.com"
	require.ErrorIs(t, repo.UpdateProfile(ctx, u), model.ErrConflict)

	u.Email = "new@example.com"
	u.Nickname = "djin"
	require.NoError(t, repo.UpdateProfile(ctx, u))

	exists, err := repo.ExistsByEmail(ctx, "x@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	u, err = repo.GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "djin", u.Nickname)
	assert.Equal(t, "digest", u.PasswordHash)
}

func TestMemoryUserRepositoryUpdatePassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	require.NoError(t, repo.Create(ctx, newUser("1", "djinkster", "x@example.com")))
	require.NoError(t, repo.UpdatePassword(ctx, "1", "new-digest"))
	require.ErrorIs(t, repo.UpdatePassword(ctx, "missing", "d"), model.ErrUserNotFound)

	u, err := repo.GetByUsername(ctx, "djinkster")
	require.NoError(t, err)
	assert.Equal(t, "new-digest", u.PasswordHash)
}
