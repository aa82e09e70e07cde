package service

import (
	"context"
	"time"

	"go-identity-service/internal/model"
	"go-identity-service/internal/session"
)

// UserStore is the durable user record store. Lookups return
// model.ErrUserNotFound; unique violations return *model.ConflictError.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (model.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u model.User) error
	UpdateProfile(ctx context.Context, u model.User) error
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
	Count(ctx context.Context) (int, error)
}

type CredentialVerifier interface {
	Hash(plain string) (string, error)
	Verify(plain string, digest string) bool
	DummyVerify(plain string)
}

type TokenCodec interface {
	IssueAccessToken(username string, role string, now time.Time) (string, error)
	IssueRefreshToken(now time.Time) (string, error)
	DecodeAccessToken(token string, now time.Time) (model.AuthClaims, error)
	DecodeRefreshToken(token string, now time.Time) error
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

type SessionStore interface {
	Put(ctx context.Context, refreshToken string, rec session.Record, ttl time.Duration) error
	Get(ctx context.Context, refreshToken string) (session.Record, bool, error)
	Delete(ctx context.Context, refreshToken string) error
}

type PendingStore interface {
	Save(ctx context.Context, code string, pending model.PendingRegistration, ttl time.Duration) (bool, error)
	Consume(ctx context.Context, code string) (model.PendingRegistration, bool, error)
	Delete(ctx context.Context, code string) error
}

type UserLookup interface {
	Get(ctx context.Context, username string) (model.User, bool, error)
	Invalidate(ctx context.Context, username string) error
}
