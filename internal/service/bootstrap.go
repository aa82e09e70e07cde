package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-identity-service/internal/model"
)

type AdminAccount struct {
	Username string
	Password string
	Email    string
}

type Bootstrapper struct {
	users   UserStore
	hasher  CredentialVerifier
	account AdminAccount
}

func NewBootstrapper(users UserStore, hasher CredentialVerifier, account AdminAccount) *Bootstrapper {
	return &Bootstrapper{users: users, hasher: hasher, account: account}
}

// EnsureAdmin creates the configured administrator when the user store is
// empty. It reports whether an account was created.
func (b *Bootstrapper) EnsureAdmin(ctx context.Context) (bool, error) {
	if b.account.Password == "" {
		slog.Info("bootstrap admin password not set; skipping admin seeding")
		return false, nil
	}

	count, err := b.users.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	username := strings.TrimSpace(b.account.Username)
	if err := validateUsername(username); err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	if err := validatePassword("password", b.account.Password, b.account.Password); err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}

	digest, err := b.hasher.Hash(b.account.Password)
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}

	now := time.Now().UTC()
	admin := model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: digest,
		Role:         model.RoleAdmin,
		Email:        model.NormalizeEmail(b.account.Email),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := b.users.Create(ctx, admin); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}

	slog.Info("bootstrap admin created", "username", admin.Username)
	return true, nil
}
