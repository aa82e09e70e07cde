package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go-identity-service/internal/model"
	"go-identity-service/internal/retry"
	"go-identity-service/pkg/apierror"
)

type UserService struct {
	users  UserStore
	cache  UserLookup
	hasher CredentialVerifier
	retry  retry.Policy
	now    func() time.Time
}

func NewUserService(users UserStore, cache UserLookup, hasher CredentialVerifier, policy retry.Policy) *UserService {
	return &UserService{
		users:  users,
		cache:  cache,
		hasher: hasher,
		retry:  policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) Me(ctx context.Context, username string) (model.User, error) {
	user, found, err := s.cache.Get(ctx, username)
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return model.User{}, model.ErrUserNotFound
	}
	return user, nil
}

// load reads the durable record. Writes start from it rather than from the
// cache, which may still hold a record from before a concurrent write.
func (s *UserService) load(ctx context.Context, username string) (model.User, error) {
	user, err := retry.Do(ctx, s.retry, "user_lookup", func(ctx context.Context) (model.User, error) {
		return s.users.GetByUsername(ctx, username)
	})
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of req. The birthday can be set
// once; resubmitting the same date is a no-op.
func (s *UserService) UpdateProfile(ctx context.Context, username string, req model.UpdateProfileRequest) (model.User, error) {
	user, err := s.load(ctx, username)
	if err != nil {
		return model.User{}, err
	}

	for field, value := range map[string]*string{
		"nickname":   req.Nickname,
		"first_name": req.FirstName,
		"last_name":  req.LastName,
	} {
		if value == nil {
			continue
		}
		if err := validateProfileField(field, strings.TrimSpace(*value)); err != nil {
			return model.User{}, err
		}
	}

	if req.Nickname != nil {
		user.Nickname = strings.TrimSpace(*req.Nickname)
	}
	if req.FirstName != nil {
		user.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		user.LastName = strings.TrimSpace(*req.LastName)
	}

	if req.Email != nil {
		email, err := normalizeEmail(*req.Email)
		if err != nil {
			return model.User{}, err
		}
		if email != user.Email {
			taken, err := retry.Do(ctx, s.retry, "email_exists", func(ctx context.Context) (bool, error) {
				return s.users.ExistsByEmail(ctx, email)
			})
			if err != nil {
				return model.User{}, fmt.Errorf("check email: %w", err)
			}
			if taken {
				return model.User{}, &model.ConflictError{Field: "email"}
			}
			user.Email = email
		}
	}

	if req.Birthday != nil {
		day := truncateToDate(*req.Birthday)
		switch {
		case user.Birthday == nil:
			user.Birthday = &day
		case !truncateToDate(*user.Birthday).Equal(day):
			return model.User{}, model.ErrBirthdayAlreadySet
		}
	}

	user.UpdatedAt = s.now()
	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return model.User{}, fmt.Errorf("update profile: %w", err)
	}
	if err := s.invalidate(ctx, user.Username); err != nil {
		return model.User{}, err
	}

	slog.Info("profile updated", "user_id", user.ID)
	return user, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *UserService) ChangePassword(ctx context.Context, username string, req model.ChangePasswordRequest) error {
	if req.CurrentPassword == "" {
		return apierror.Validation(model.ErrInvalidInput, "current_password", "current_password is required")
	}
	if err := validatePassword("new_password", req.NewPassword, req.ConfirmPassword); err != nil {
		return err
	}

	user, err := s.load(ctx, username)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(req.CurrentPassword, user.PasswordHash) {
		return apierror.Validation(model.ErrAuthenticationFailed, "current_password", "current password is incorrect")
	}

	digest, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, digest); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if err := s.invalidate(ctx, user.Username); err != nil {
		return err
	}

	slog.Info("password changed", "user_id", user.ID)
	return nil
}

func (s *UserService) invalidate(ctx context.Context, username string) error {
	if err := s.cache.Invalidate(ctx, username); err != nil {
		return fmt.Errorf("invalidate cached user: %w", err)
	}
	return nil
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
