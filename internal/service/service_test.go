package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-identity-service/internal/metrics"
	"go-identity-service/internal/model"
	"go-identity-service/internal/notify"
	"go-identity-service/internal/password"
	"go-identity-service/internal/repository"
	"go-identity-service/internal/retry"
	"go-identity-service/internal/session"
	"go-identity-service/internal/token"
	"go-identity-service/internal/usercache"
	"go-identity-service/internal/verification"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *captureNotifier) SendVerificationCode(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *captureNotifier) last(t *testing.T) notify.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no verification code was sent")
	return n.sent[len(n.sent)-1]
}

type harness struct {
	mr       *miniredis.Miniredis
	users    *repository.MemoryUserRepository
	hasher   *password.Bcrypt
	codec    *token.Codec
	notifier *captureNotifier
	auth     *AuthService
	profile  *UserService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	codec, err := token.NewCodec(token.Config{
		Secret:     "test-secret",
		Algorithm:  "HS256",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	require.NoError(t, err)

	policy := retry.Policy{MaxAttempts: 1}
	m := metrics.New()
	users := repository.NewMemoryUserRepository()
	cache := usercache.New(rdb, users, usercache.Options{TTL: time.Hour, Retry: policy, Metrics: m})
	notifier := &captureNotifier{}

	auth := NewAuthService(AuthDeps{
		Users:    users,
		Cache:    cache,
		Hasher:   hasher,
		Tokens:   codec,
		Sessions: session.NewRedisStore(rdb),
		Pending:  verification.NewRedisStore(rdb),
		Notifier: notifier,
		Metrics:  m,
	}, AuthConfig{VerificationTTL: 5 * time.Minute, CodeDigits: 6, Retry: policy})

	return &harness{
		mr:       mr,
		users:    users,
		hasher:   hasher,
		codec:    codec,
		notifier: notifier,
		auth:     auth,
		profile:  NewUserService(users, cache, hasher, policy),
	}
}

// signUp registers and confirms an account, returning the first token pair.
func (h *harness) signUp(t *testing.T, username, pass, email string) model.TokenPair {
	t.Helper()
	ctx := context.Background()

	_, err := h.auth.Register(ctx, model.RegisterRequest{
		Username:        username,
		Email:           email,
		Password:        pass,
		ConfirmPassword: pass,
	})
	require.NoError(t, err)

	pair, err := h.auth.ConfirmRegistration(ctx, h.notifier.last(t).Code)
	require.NoError(t, err)
	return pair
}
