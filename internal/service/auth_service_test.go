package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/model"
	"go-identity-service/pkg/apierror"
)

func TestRegistrationScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.auth.Register(ctx, model.RegisterRequest{
		Username:        "djinkster",
		Email:           "X@Example.com",
		Password:        "123password",
		ConfirmPassword: "123password",
	})
	require.NoError(t, err)
	assert.Equal(t, "djinkster", pending.Username)
	assert.Equal(t, "x@example.com", pending.Email)

	msg := h.notifier.last(t)
	assert.Equal(t, "x@example.com", msg.Email)
	assert.Len(t, msg.Code, 6)

	count, err := h.users.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "nothing is persisted before confirmation")

	pair, err := h.auth.ConfirmRegistration(ctx, msg.Code)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	stored, err := h.users.GetByUsername(ctx, "djinkster")
	require.NoError(t, err)
	assert.Equal(t, model.RoleBaseUser, stored.Role)
	assert.NotEqual(t, "123password", stored.PasswordHash)

	login, err := h.auth.Login(ctx, "djinkster", "123password")
	require.NoError(t, err)
	assert.NotEmpty(t, login.AccessToken)

	claims, err := h.auth.Authenticate(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.AuthClaims{Username: "djinkster", Role: model.RoleBaseUser}, claims)

	_, err = h.auth.Login(ctx, "djinkster", "wrongpassword")
	require.ErrorIs(t, err, model.ErrAuthenticationFailed)
}

func TestLoginUnknownUserFailsLikeWrongPassword(t *testing.T) {
	h := newHarness(t)

	_, err := h.auth.Login(context.Background(), "nobody", "whatever")
	require.ErrorIs(t, err, model.ErrAuthenticationFailed)
	assert.False(t, h.mr.Exists("user:nobody"), "absent users are not cached")
}

func TestRegisterRejectsTakenUsernameAndEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "djinkster", "123password", "x@example.com")

	_, err := h.auth.Register(ctx, model.RegisterRequest{
		Username: "DJINKSTER", Email: "other@example.com", Password: "123password", ConfirmPassword: "123password",
	})
	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "username", conflict.Field)

	_, err = h.auth.Register(ctx, model.RegisterRequest{
		Username: "newcomer", Email: "x@example.com", Password: "123password", ConfirmPassword: "123password",
	})
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "email", conflict.Field)
}

func TestConfirmRegistrationCodeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.Register(ctx, model.RegisterRequest{
		Username: "djinkster", Email: "x@example.com", Password: "123password", ConfirmPassword: "123password",
	})
	require.NoError(t, err)
	code := h.notifier.last(t).Code

	_, err = h.auth.ConfirmRegistration(ctx, code)
	require.NoError(t, err)

	_, err = h.auth.ConfirmRegistration(ctx, code)
	require.ErrorIs(t, err, model.ErrInvalidCode)

	_, err = h.auth.ConfirmRegistration(ctx, "")
	require.ErrorIs(t, err, model.ErrInvalidCode)
}

func TestConfirmRegistrationAfterCodeExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.Register(ctx, model.RegisterRequest{
		Username: "djinkster", Email: "x@example.com", Password: "123password", ConfirmPassword: "123password",
	})
	require.NoError(t, err)

	h.mr.FastForward(5 * time.Minute)

	_, err = h.auth.ConfirmRegistration(ctx, h.notifier.last(t).Code)
	require.ErrorIs(t, err, model.ErrInvalidCode)
}

func TestConfirmRegistrationRacedByAnotherAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := model.RegisterRequest{
		Username: "djinkster", Email: "x@example.com", Password: "123password", ConfirmPassword: "123password",
	}
	_, err := h.auth.Register(ctx, req)
	require.NoError(t, err)
	first := h.notifier.last(t).Code

	req.Email = "y@example.com"
	_, err = h.auth.Register(ctx, req)
	require.NoError(t, err)
	second := h.notifier.last(t).Code

	_, err = h.auth.ConfirmRegistration(ctx, first)
	require.NoError(t, err)

	_, err = h.auth.ConfirmRegistration(ctx, second)
	require.ErrorIs(t, err, model.ErrConflict)
}

// failingCreateStore fails the first n account writes as if the database
// connection dropped.
type failingCreateStore struct {
	UserStore
	mu       sync.Mutex
	failures int
}

func (s *failingCreateStore) Create(ctx context.Context, u model.User) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return fmt.Errorf("%w: connection reset", model.ErrStorageUnavailable)
	}
	s.mu.Unlock()
	return s.UserStore.Create(ctx, u)
}

func TestConfirmRegistrationSurvivesTransientStoreFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.auth.users = &failingCreateStore{UserStore: h.users, failures: 1}

	_, err := h.auth.Register(ctx, model.RegisterRequest{
		Username: "djinkster", Email: "x@example.com", Password: "123password", ConfirmPassword: "123password",
	})
	require.NoError(t, err)
	code := h.notifier.last(t).Code

	_, err = h.auth.ConfirmRegistration(ctx, code)
	require.ErrorIs(t, err, model.ErrStorageUnavailable)

	ttl := h.mr.TTL("verification:" + code)
	assert.Positive(t, ttl)
	assert.LessOrEqual(t, ttl, 5*time.Minute)

	pair, err := h.auth.ConfirmRegistration(ctx, code)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.False(t, h.mr.Exists("verification:"+code))

	_, err = h.auth.ConfirmRegistration(ctx, code)
	require.ErrorIs(t, err, model.ErrInvalidCode)
}

func TestConfirmRegistrationDoesNotRestoreExpiredCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.auth.users = &failingCreateStore{UserStore: h.users, failures: 1}

	_, err := h.auth.Register(ctx, model.RegisterRequest{
		Username: "djinkster", Email: "x@example.com", Password: "123password", ConfirmPassword: "123password",
	})
	require.NoError(t, err)
	code := h.notifier.last(t).Code

	h.auth.now = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }
	_, err = h.auth.ConfirmRegistration(ctx, code)
	require.ErrorIs(t, err, model.ErrStorageUnavailable)
	assert.False(t, h.mr.Exists("verification:"+code))
}

func TestRegisterDeliveryFailureDropsPendingCode(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("smtp down")

	_, err := h.auth.Register(context.Background(), model.RegisterRequest{
		Username: "djinkster", Email: "x@example.com", Password: "123password", ConfirmPassword: "123password",
	})
	require.ErrorIs(t, err, model.ErrDeliveryFailed)
	assert.Empty(t, h.mr.Keys())
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)

	cases := map[string]model.RegisterRequest{
		"short username":    {Username: "abc", Email: "x@example.com", Password: "123password", ConfirmPassword: "123password"},
		"long username":     {Username: "abcdefghijklmnopqrstu", Email: "x@example.com", Password: "123password", ConfirmPassword: "123password"},
		"short password":    {Username: "djinkster", Email: "x@example.com", Password: "1234", ConfirmPassword: "1234"},
		"password mismatch": {Username: "djinkster", Email: "x@example.com", Password: "123password", ConfirmPassword: "123passwort"},
		"bad email":         {Username: "djinkster", Email: "not-an-email", Password: "123password", ConfirmPassword: "123password"},
		"display name":      {Username: "djinkster", Email: "Djin <x@example.com>", Password: "123password", ConfirmPassword: "123password"},
		"email too long":    {Username: "djinkster", Email: longEmail(255), Password: "123password", ConfirmPassword: "123password"},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.auth.Register(context.Background(), req)
			require.ErrorIs(t, err, model.ErrInvalidInput)

			var apiErr *apierror.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
		})
	}

	assert.Empty(t, h.notifier.sent)
}

func TestRefreshAndLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pair := h.signUp(t, "djinkster", "123password", "x@example.com")

	access, err := h.auth.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", access.TokenType)

	claims, err := h.auth.Authenticate(access.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "djinkster", claims.Username)

	require.NoError(t, h.auth.Logout(ctx, pair.RefreshToken))
	require.NoError(t, h.auth.Logout(ctx, pair.RefreshToken))

	_, err = h.auth.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestLogoutToleratesUnknownTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.auth.Logout(ctx, ""))
	require.NoError(t, h.auth.Logout(ctx, "   "))
	require.NoError(t, h.auth.Logout(ctx, "not-a-token"))
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pair := h.signUp(t, "djinkster", "123password", "x@example.com")

	_, err := h.auth.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, model.ErrTokenInvalid)

	_, err = h.auth.Refresh(ctx, pair.AccessToken)
	require.ErrorIs(t, err, model.ErrTokenInvalid)

	h.auth.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }
	_, err = h.auth.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenExpired)
}

func TestAuthenticateHonoursAccessExpiry(t *testing.T) {
	h := newHarness(t)
	issued := time.Unix(1_700_000_000, 0).UTC()

	access, err := h.codec.IssueAccessToken("djinkster", model.RoleBaseUser, issued)
	require.NoError(t, err)

	h.auth.now = func() time.Time { return issued.Add(15*time.Minute - time.Second) }
	_, err = h.auth.Authenticate(access)
	require.NoError(t, err)

	h.auth.now = func() time.Time { return issued.Add(15 * time.Minute) }
	_, err = h.auth.Authenticate(access)
	require.ErrorIs(t, err, model.ErrTokenExpired)
}

func TestLoginReportsUnavailableSessionStore(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "djinkster", "123password", "x@example.com")
	h.mr.Close()

	_, err := h.auth.Login(context.Background(), "djinkster", "123password")
	require.ErrorIs(t, err, model.ErrStorageUnavailable)
	require.NotErrorIs(t, err, model.ErrAuthenticationFailed)

	require.ErrorIs(t, h.auth.Logout(context.Background(), "some-token"), model.ErrStorageUnavailable)
}

func TestRefreshRacingLogoutLeavesNoSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "djinkster", "123password", "x@example.com")

	for i := range 50 {
		pair, err := h.auth.issuePair(ctx, "djinkster", model.RoleBaseUser)
		require.NoError(t, err)

		var (
			wg         sync.WaitGroup
			refreshErr error
			logoutErr  error
			access     model.AccessToken
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			access, refreshErr = h.auth.Refresh(ctx, pair.RefreshToken)
		}()
		go func() {
			defer wg.Done()
			<-start
			logoutErr = h.auth.Logout(ctx, pair.RefreshToken)
		}()
		close(start)
		wg.Wait()

		require.NoError(t, logoutErr, "round %d", i)
		if refreshErr != nil {
			require.ErrorIs(t, refreshErr, model.ErrSessionNotFound, "round %d", i)
		} else {
			claims, err := h.auth.Authenticate(access.AccessToken)
			require.NoError(t, err, "round %d", i)
			assert.Equal(t, "djinkster", claims.Username)
		}
		assert.False(t, h.mr.Exists("session:"+pair.RefreshToken), "round %d", i)

		_, err = h.auth.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, model.ErrSessionNotFound, "round %d", i)
	}
}

// longEmail builds a syntactically valid address of exactly n characters.
func longEmail(n int) string {
	domain := strings.Repeat(strings.Repeat("a", 60)+".", 4) + "com"
	return strings.Repeat("x", n-len(domain)-1) + "@" + domain
}

func TestNormalizeEmailLengthBoundary(t *testing.T) {
	t.Parallel()

	email, err := normalizeEmail(longEmail(254))
	require.NoError(t, err)
	assert.Len(t, email, 254)

	_, err = normalizeEmail(longEmail(255))
	require.ErrorIs(t, err, model.ErrInvalidInput)
}
