package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/model"
)

func TestEnsureAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := NewBootstrapper(h.users, h.hasher, AdminAccount{Username: "admin", Password: "adminpass", Email: "Admin@Localhost"})

	created, err := b.EnsureAdmin(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = b.EnsureAdmin(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	admin, err := h.users.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Role)
	assert.Equal(t, "admin@localhost", admin.Email)

	pair, err := h.auth.Login(ctx, "admin", "adminpass")
	require.NoError(t, err)
	claims, err := h.auth.Authenticate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, claims.Role)
}

func TestEnsureAdminSkipsWithoutPassword(t *testing.T) {
	h := newHarness(t)

	created, err := NewBootstrapper(h.users, h.hasher, AdminAccount{Username: "admin"}).EnsureAdmin(context.Background())
	require.NoError(t, err)
	assert.False(t, created)

	count, err := h.users.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEnsureAdminSkipsPopulatedStore(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "djinkster", "123password", "x@example.com")

	created, err := NewBootstrapper(h.users, h.hasher, AdminAccount{Username: "admin", Password: "adminpass", Email: "a@b.c"}).
		EnsureAdmin(context.Background())
	require.NoError(t, err)
	assert.False(t, created)
}
