package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-identity-service/internal/metrics"
	"go-identity-service/internal/model"
	"go-identity-service/internal/notify"
	"go-identity-service/internal/retry"
	"go-identity-service/internal/session"
	"go-identity-service/internal/verification"
)

const (
	tokenType         = "Bearer"
	codeSaveAttempts  = 5
	defaultCodeDigits = 6
)

type AuthDeps struct {
	Users    UserStore
	Cache    UserLookup
	Hasher   CredentialVerifier
	Tokens   TokenCodec
	Sessions SessionStore
	Pending  PendingStore
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

type AuthConfig struct {
	VerificationTTL time.Duration
	CodeDigits      int
	Retry           retry.Policy
}

type AuthService struct {
	users    UserStore
	cache    UserLookup
	hasher   CredentialVerifier
	tokens   TokenCodec
	sessions SessionStore
	pending  PendingStore
	notifier notify.Notifier
	metrics  *metrics.Metrics

	verificationTTL time.Duration
	codeDigits      int
	retry           retry.Policy
	now             func() time.Time
}

func NewAuthService(deps AuthDeps, cfg AuthConfig) *AuthService {
	if cfg.CodeDigits <= 0 {
		cfg.CodeDigits = defaultCodeDigits
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 5 * time.Minute
	}

	return &AuthService{
		users:           deps.Users,
		cache:           deps.Cache,
		hasher:          deps.Hasher,
		tokens:          deps.Tokens,
		sessions:        deps.Sessions,
		pending:         deps.Pending,
		notifier:        deps.Notifier,
		metrics:         deps.Metrics,
		verificationTTL: cfg.VerificationTTL,
		codeDigits:      cfg.CodeDigits,
		retry:           cfg.Retry,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Register validates a sign-up request, parks it behind a verification code
// and sends the code to the given address. Nothing is written to the user
// store until the code is confirmed.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.PendingConfirmation, error) {
	username := strings.TrimSpace(req.Username)
	if err := validateUsername(username); err != nil {
		return model.PendingConfirmation{}, err
	}
	if err := validatePassword("password", req.Password, req.ConfirmPassword); err != nil {
		return model.PendingConfirmation{}, err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return model.PendingConfirmation{}, err
	}

	if err := s.ensureAvailable(ctx, username, email); err != nil {
		s.metrics.RecordAuth("register", outcome(err))
		return model.PendingConfirmation{}, err
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.PendingConfirmation{}, fmt.Errorf("register: %w", err)
	}

	now := s.now()
	pending := model.PendingRegistration{
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		Role:         model.RoleBaseUser,
		RequestedAt:  now,
	}

	code, err := s.parkPending(ctx, pending)
	if err != nil {
		return model.PendingConfirmation{}, fmt.Errorf("register: %w", err)
	}

	msg := notify.Message{Username: username, Email: email, Code: code, ExpiresIn: s.verificationTTL}
	if err := s.notifier.SendVerificationCode(ctx, msg); err != nil {
		if delErr := s.pending.Delete(context.WithoutCancel(ctx), code); delErr != nil {
			slog.Warn("failed to drop undelivered verification code", "username", username, "error", delErr)
		}
		s.metrics.RecordAuth("register", "delivery_failed")
		return model.PendingConfirmation{}, fmt.Errorf("%w: %v", model.ErrDeliveryFailed, err)
	}

	s.metrics.RecordAuth("register", "pending")
	slog.Info("registration pending confirmation", "username", username)

	return model.PendingConfirmation{
		Message:   "A verification code has been sent to your e-mail address.",
		Username:  username,
		Email:     email,
		ExpiresAt: now.Add(s.verificationTTL),
	}, nil
}

func (s *AuthService) ensureAvailable(ctx context.Context, username, email string) error {
	taken, err := retry.Do(ctx, s.retry, "username_exists", func(ctx context.Context) (bool, error) {
		return s.users.ExistsByUsername(ctx, username)
	})
	if err != nil {
		return fmt.Errorf("check username: %w", err)
	}
	if taken {
		return &model.ConflictError{Field: "username"}
	}

	taken, err = retry.Do(ctx, s.retry, "email_exists", func(ctx context.Context) (bool, error) {
		return s.users.ExistsByEmail(ctx, email)
	})
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if taken {
		return &model.ConflictError{Field: "email"}
	}

	return nil
}

// parkPending stores pending under a fresh code, drawing again on collision.
func (s *AuthService) parkPending(ctx context.Context, pending model.PendingRegistration) (string, error) {
	for range codeSaveAttempts {
		code, err := verification.Generate(s.codeDigits)
		if err != nil {
			return "", err
		}

		saved, err := s.pending.Save(ctx, code, pending, s.verificationTTL)
		if err != nil {
			return "", err
		}
		if saved {
			return code, nil
		}
	}

	return "", errors.New("no free verification code after repeated attempts")
}

// ConfirmRegistration redeems a verification code, creates the account and
// signs the new user in.
func (s *AuthService) ConfirmRegistration(ctx context.Context, code string) (model.TokenPair, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.TokenPair{}, model.ErrInvalidCode
	}

	pending, found, err := s.pending.Consume(ctx, code)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("confirm registration: %w", err)
	}
	if !found {
		s.metrics.RecordAuth("confirm", "invalid_code")
		return model.TokenPair{}, model.ErrInvalidCode
	}

	now := s.now()
	user := model.User{
		ID:           uuid.NewString(),
		Username:     pending.Username,
		PasswordHash: pending.PasswordHash,
		Role:         pending.Role,
		Email:        pending.Email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		s.metrics.RecordAuth("confirm", outcome(err))
		if !errors.Is(err, model.ErrConflict) {
			s.restorePending(ctx, code, pending)
		}
		return model.TokenPair{}, fmt.Errorf("confirm registration: %w", err)
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)

	pair, err := s.issuePair(ctx, user.Username, user.Role)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("confirm registration: %w", err)
	}

	s.metrics.RecordAuth("confirm", "success")
	return pair, nil
}

// restorePending parks a consumed registration again under the same code for
// the rest of its lifetime, so a failed account write can be retried with the
// code the user already has.
func (s *AuthService) restorePending(ctx context.Context, code string, pending model.PendingRegistration) {
	remaining := pending.RequestedAt.Add(s.verificationTTL).Sub(s.now())
	if remaining <= 0 {
		return
	}

	saved, err := s.pending.Save(context.WithoutCancel(ctx), code, pending, remaining)
	switch {
	case err != nil:
		slog.Warn("failed to restore verification code", "username", pending.Username, "error", err)
	case !saved:
		slog.Warn("verification code was reissued before it could be restored", "username", pending.Username)
	}
}

// Login verifies credentials. Unknown users and wrong passwords produce the
// same error after the same amount of hashing work.
func (s *AuthService) Login(ctx context.Context, username string, password string) (model.TokenPair, error) {
	user, found, err := s.cache.Get(ctx, strings.TrimSpace(username))
	if err != nil {
		s.metrics.RecordAuth("login", "error")
		return model.TokenPair{}, fmt.Errorf("login: %w", err)
	}

	if !found {
		s.hasher.DummyVerify(password)
		s.metrics.RecordAuth("login", "failure")
		return model.TokenPair{}, model.ErrAuthenticationFailed
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.RecordAuth("login", "failure")
		return model.TokenPair{}, model.ErrAuthenticationFailed
	}

	pair, err := s.issuePair(ctx, user.Username, user.Role)
	if err != nil {
		s.metrics.RecordAuth("login", "error")
		return model.TokenPair{}, fmt.Errorf("login: %w", err)
	}

	s.metrics.RecordAuth("login", "success")
	return pair, nil
}

// Refresh mints a new access token for a live refresh token. The refresh
// token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.AccessToken, error) {
	now := s.now()
	if err := s.tokens.DecodeRefreshToken(refreshToken, now); err != nil {
		s.metrics.RecordAuth("refresh", outcome(err))
		return model.AccessToken{}, err
	}

	rec, err := retry.Do(ctx, s.retry, "session_get", func(ctx context.Context) (session.Record, error) {
		rec, found, err := s.sessions.Get(ctx, refreshToken)
		if err != nil {
			return session.Record{}, err
		}
		if !found {
			return session.Record{}, model.ErrSessionNotFound
		}
		return rec, nil
	})
	if err != nil {
		s.metrics.RecordAuth("refresh", outcome(err))
		if errors.Is(err, model.ErrSessionNotFound) {
			return model.AccessToken{}, model.ErrSessionNotFound
		}
		return model.AccessToken{}, fmt.Errorf("refresh: %w", err)
	}

	access, err := s.tokens.IssueAccessToken(rec.Username, rec.Role, now)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("refresh: %w", err)
	}

	s.metrics.RecordAuth("refresh", "success")
	return model.AccessToken{
		AccessToken: access,
		TokenType:   tokenType,
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Logout forgets a refresh token. Unknown, malformed and empty tokens are
// not errors; only a storage failure is reported.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}

	err := retry.Exec(ctx, s.retry, "session_delete", func(ctx context.Context) error {
		return s.sessions.Delete(ctx, refreshToken)
	})
	if err != nil {
		s.metrics.RecordAuth("logout", "error")
		return fmt.Errorf("logout: %w", err)
	}

	s.metrics.RecordAuth("logout", "success")
	return nil
}

// Authenticate checks a bearer access token.
func (s *AuthService) Authenticate(accessToken string) (model.AuthClaims, error) {
	return s.tokens.DecodeAccessToken(accessToken, s.now())
}

func (s *AuthService) issuePair(ctx context.Context, username, role string) (model.TokenPair, error) {
	now := s.now()

	access, err := s.tokens.IssueAccessToken(username, role, now)
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken(now)
	if err != nil {
		return model.TokenPair{}, err
	}

	rec := session.Record{Username: username, Role: role}
	err = retry.Exec(ctx, s.retry, "session_put", func(ctx context.Context) error {
		return s.sessions.Put(ctx, refresh, rec, s.tokens.RefreshTTL())
	})
	if err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// outcome turns an error into a metric label.
func outcome(err error) string {
	switch {
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrTokenExpired):
		return "expired"
	case errors.Is(err, model.ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, model.ErrSessionNotFound):
		return "no_session"
	case errors.Is(err, model.ErrStorageUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
